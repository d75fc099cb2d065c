package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key uniquely identifies a cached response. It is derived from the
// request method, the normalized URL and the subset of request headers
// the route declares as relevant (vary headers). Equal logical requests
// always produce equal keys.
type Key struct {
	// Method is the uppercased HTTP method (e.g., "GET")
	Method string

	// URL is the normalized request URL
	URL string

	// Vary maps relevant request header names (lowercased) to their values
	Vary map[string]string
}

// NewKey builds a Key from a request line. It is a pure function: the
// same inputs always produce the same Key.
//
// URL normalization: scheme and host are lowercased, default ports and
// fragments are stripped, the query is re-encoded in sorted order.
func NewKey(method, rawURL string, vary map[string]string) Key {
	var normVary map[string]string
	if len(vary) > 0 {
		normVary = make(map[string]string, len(vary))
		for name, value := range vary {
			normVary[strings.ToLower(name)] = value
		}
	}

	return Key{
		Method: strings.ToUpper(method),
		URL:    normalizeURL(rawURL),
		Vary:   normVary,
	}
}

// String generates a deterministic key string.
// Format: req:METHOD:url:vary1=val1:vary2=val2
//
// Example:
//   req:GET:https://api.example.com/items/42?fields=name:accept=application/json
func (k Key) String() string {
	parts := []string{"req", k.Method, k.URL}

	// Vary headers sorted for determinism
	if len(k.Vary) > 0 {
		varyKeys := make([]string, 0, len(k.Vary))
		for name := range k.Vary {
			varyKeys = append(varyKeys, name)
		}
		sort.Strings(varyKeys)

		for _, name := range varyKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Vary[name]))
		}
	}

	return strings.Join(parts, ":")
}

// normalizeURL canonicalizes a URL so that equivalent spellings map to
// the same cache key. Unparseable URLs are used verbatim.
func normalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	// Strip default ports
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	// Re-encode query in sorted order
	if u.RawQuery != "" {
		u.RawQuery = sortedEncode(u.Query())
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// sortedEncode encodes query values with keys and values in sorted order.
func sortedEncode(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vs := append([]string(nil), values[key]...)
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
