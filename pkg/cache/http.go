package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ResponseToEntry converts an HTTP response into a cache entry.
// The response body is read fully and restored for the caller.
func ResponseToEntry(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		Body:       body,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		ETag:       resp.Header.Get("ETag"),
		StoredAt:   time.Now(),
	}

	// Origin-declared expiry, if present and parseable
	if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil {
			entry.Expires = expires
		}
	}

	return entry, nil
}

// EntryToResponse converts a cache entry back into an HTTP response.
func EntryToResponse(entry *Entry) *http.Response {
	if entry == nil {
		return nil
	}

	headers := entry.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}

	return &http.Response{
		StatusCode:    entry.StatusCode,
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}

// CanRevalidate reports whether the entry supports a conditional
// refresh (it carries an ETag).
func CanRevalidate(entry *Entry) bool {
	return entry != nil && entry.ETag != ""
}

// AddConditionalHeaders attaches If-None-Match to the request when the
// cached entry carries an ETag, so an unchanged origin can answer 304.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if req == nil || entry == nil {
		return
	}
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}
}
