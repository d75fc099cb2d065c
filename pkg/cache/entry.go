package cache

import (
	"net/http"
	"time"
)

// Generation identifies a cache generation. Generations are opaque,
// monotonically increasing, and isolated from each other: an entry
// belongs to exactly one generation for its whole lifetime.
type Generation uint64

// Entry represents a cached response. Entries are never mutated in
// place; an update writes a new entry that atomically replaces the old
// one under the same key and generation.
type Entry struct {
	// Body is the response body
	Body []byte `json:"body"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// ETag for conditional revalidation (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// StoredAt is when this entry was written
	StoredAt time.Time `json:"stored_at"`

	// Expires is the origin-declared expiry, if any (from the Expires header)
	Expires time.Time `json:"expires,omitempty"`

	// Generation is the cache generation this entry belongs to
	Generation Generation `json:"generation"`
}

// FreshFor reports whether the entry is still fresh under the given TTL.
// A zero TTL defers to the origin-declared Expires; with neither, the
// entry is treated as fresh (callers that want expiry must configure it).
func (e *Entry) FreshFor(ttl time.Duration) bool {
	if ttl > 0 {
		return time.Now().Before(e.StoredAt.Add(ttl))
	}
	if !e.Expires.IsZero() {
		return time.Now().Before(e.Expires)
	}
	return true
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

// sameContent reports whether two entries carry identical cached
// content. Timestamps are ignored so that re-storing an unchanged
// response is a no-op.
func sameContent(a, b *Entry) bool {
	if a.StatusCode != b.StatusCode || a.ETag != b.ETag {
		return false
	}
	if len(a.Body) != len(b.Body) {
		return false
	}
	for i := range a.Body {
		if a.Body[i] != b.Body[i] {
			return false
		}
	}
	return true
}
