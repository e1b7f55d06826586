package cache

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/gatefetch/pkg/transport"
)

const (
	// DefaultTTL is the fallback TTL when the response has no freshness information
	DefaultTTL = 5 * time.Minute
)

// Cacheable reports whether a response may be stored. Only complete 200
// responses without cookies and without no-store are cached.
func Cacheable(resp *transport.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	if len(resp.SetCookies()) > 0 {
		return false
	}
	for _, directive := range cacheControl(resp.Header) {
		if directive == "no-store" || directive == "private" {
			return false
		}
	}
	return true
}

// ResponseToEntry converts a transport response to a CacheEntry.
// defaultTTL is used when neither Cache-Control max-age nor Expires is present;
// zero means DefaultTTL.
func ResponseToEntry(resp *transport.Response, defaultTTL time.Duration) (*CacheEntry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Set-Cookie")

	entry := &CacheEntry{
		URL:        resp.FinalURL(""),
		Data:       append([]byte(nil), resp.Body...),
		ETag:       header.Get("ETag"),
		StatusCode: resp.StatusCode,
		Headers:    header,
		CachedAt:   time.Now(),
		Expires:    parseExpires(header, defaultTTL),
	}

	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, nil
}

// parseExpires derives the expiration time from Cache-Control max-age, then
// Expires, then defaultTTL.
func parseExpires(headers http.Header, defaultTTL time.Duration) time.Time {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	now := time.Now()

	for _, directive := range cacheControl(headers) {
		if directive == "no-cache" {
			return now
		}
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return now.Add(time.Duration(secs) * time.Second)
			}
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(defaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(defaultTTL)
	}
	if expires.Before(now) {
		return now
	}
	return expires
}

func cacheControl(headers http.Header) []string {
	var out []string
	for _, line := range headers.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			if d := strings.ToLower(strings.TrimSpace(part)); d != "" {
				out = append(out, d)
			}
		}
	}
	return out
}

// ShouldMakeConditionalRequest determines if we should add conditional
// request headers (If-None-Match or If-Modified-Since) based on the cache entry.
func ShouldMakeConditionalRequest(entry *CacheEntry) bool {
	if entry == nil {
		return false
	}
	return entry.Revalidatable()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since
// to header if the cache entry supports conditional requests.
func AddConditionalHeaders(header http.Header, entry *CacheEntry) {
	if entry == nil || header == nil {
		return
	}

	// ETag wins over Last-Modified
	if entry.ETag != "" {
		header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
