package cache

import (
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/gatefetch/pkg/transport"
)

// CacheEntry represents a cached page response.
type CacheEntry struct {
	// URL is the final URL the body was served from.
	URL string `json:"url"`

	// Data is the response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// LastModified is when the page was last modified (from Last-Modified)
	LastModified time.Time `json:"last_modified"`

	StatusCode int `json:"status_code"`

	// Headers are the response headers without Set-Cookie
	Headers http.Header `json:"headers"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Revalidatable reports whether the entry carries a validator.
func (e *CacheEntry) Revalidatable() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// Response rebuilds a transport response from the entry. requestURL is used
// when the entry has no final URL recorded.
func (e *CacheEntry) Response(requestURL string) *transport.Response {
	raw := e.URL
	if raw == "" {
		raw = requestURL
	}
	u, _ := url.Parse(raw)
	header := e.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &transport.Response{
		StatusCode: e.StatusCode,
		Header:     header,
		Body:       append([]byte(nil), e.Data...),
		URL:        u,
	}
}
