package cache

import (
	"net/url"
	"strings"

	"github.com/Sternrassler/gatefetch/pkg/transport"
)

// KeyPrefix prefixes every Redis key written by the cache.
const KeyPrefix = "gatefetch:page"

// CacheKey identifies a cached page.
type CacheKey struct {
	// URL is the requested page URL.
	URL string

	// Authorized is true when the request carried cookies. Gated origins
	// serve different content with and without a token, so both variants
	// are cached separately.
	Authorized bool
}

// KeyForRequest derives the cache key of a transport request.
func KeyForRequest(req *transport.Request) CacheKey {
	return CacheKey{
		URL:        req.URL,
		Authorized: req.Header.Get("Cookie") != "",
	}
}

// String generates a deterministic cache key string.
// Format: gatefetch:page:<anon|auth>:<normalized url>
//
// Example:
//
//	gatefetch:page:auth:https://novel.example.com/n1234/?p=2
func (k CacheKey) String() string {
	variant := "anon"
	if k.Authorized {
		variant = "auth"
	}
	return strings.Join([]string{KeyPrefix, variant, normalizeURL(k.URL)}, ":")
}

// normalizeURL lower-cases scheme and host, drops the fragment and sorts the
// query so equivalent URLs share one entry.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}
