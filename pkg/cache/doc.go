// Package cache provides a Redis backed page response cache.
//
// Only page content is cached. Responses that set cookies or forbid storage
// are never written, and request cookies are not part of the stored entry, so
// no access token ever leaves the process through the cache.
//
// The cache honours the origin's freshness information:
//
// - Expires and Cache-Control max-age decide the entry lifetime
// - ETag and Last-Modified drive conditional revalidation (If-None-Match, If-Modified-Since)
// - a 304 Not Modified refreshes the stored entry instead of replacing it
// - responses without freshness information live for the manager's default TTL
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, 10*time.Minute)
//
//	// Put the cache in front of a transport used for content fetches.
//	tr := manager.Wrap(httpTransport)
//
// # Direct Access
//
//	key := cache.KeyForRequest(req)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from origin
//	}
//
// # Metrics
//
//   - page_cache_hits_total - fresh entries served from Redis
//   - page_cache_misses_total - lookups without a usable entry
//   - page_cache_not_modified_total - successful revalidations (304)
//   - page_cache_errors_total{operation} - Redis and encoding failures
//   - page_cache_stored_bytes_total - bytes written to Redis
package cache
