package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gatefetch/pkg/logging"
	"github.com/Sternrassler/gatefetch/pkg/transport"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// StaleRetention is how long a stale entry with a validator is kept in Redis
// so it can be revalidated with a conditional request.
const StaleRetention = 24 * time.Hour

// Manager handles page caching with a Redis backend.
type Manager struct {
	redis      *redis.Client
	defaultTTL time.Duration
	logger     zerolog.Logger
}

// NewManager creates a new cache manager with Redis backend. defaultTTL
// applies to responses without freshness information; zero means DefaultTTL.
func NewManager(redisClient *redis.Client, defaultTTL time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Manager{
		redis:      redisClient,
		defaultTTL: defaultTTL,
		logger:     logging.NewLogger(logging.ComponentCache),
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger zerolog.Logger) {
	m.logger = logger
}

// Ping checks the Redis connection.
func (m *Manager) Ping(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}

// Lookup returns the stored entry for key, fresh or stale.
// Returns ErrCacheMiss if the key doesn't exist.
func (m *Manager) Lookup(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Get retrieves a fresh cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	entry, err := m.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.Inc()
		}
		return nil, err
	}

	if entry.IsExpired() {
		if !entry.Revalidatable() {
			_ = m.Delete(ctx, key)
		}
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
// Entries with a validator are retained for StaleRetention past expiry.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if entry.Revalidatable() {
		ttl += StaleRetention
	}
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	StoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// UpdateTTL updates the expiry of an existing cache entry, fresh or stale.
// This is used when a 304 Not Modified confirms the stored body.
func (m *Manager) UpdateTTL(ctx context.Context, key CacheKey, newExpires time.Time) error {
	entry, err := m.Lookup(ctx, key)
	if err != nil {
		return err
	}
	entry.Expires = newExpires
	return m.Set(ctx, key, entry)
}

// Wrap puts the cache in front of next. Only body-less GET requests are
// served from or written to the cache; everything else passes through.
// Cache failures are logged and never fail the request.
func (m *Manager) Wrap(next transport.Transport) transport.Transport {
	return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if (req.Method != http.MethodGet && req.Method != "") || len(req.Body) > 0 {
			return next.Do(ctx, req)
		}
		key := KeyForRequest(req)

		stored, err := m.Lookup(ctx, key)
		switch {
		case err == nil && !stored.IsExpired():
			CacheHits.Inc()
			return stored.Response(req.URL), nil
		case err != nil && !errors.Is(err, ErrCacheMiss):
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache lookup failed")
			stored = nil
		}
		CacheMisses.Inc()

		out := req.Clone()
		if ShouldMakeConditionalRequest(stored) {
			AddConditionalHeaders(out.Header, stored)
		}

		resp, err := next.Do(ctx, out)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusNotModified && stored != nil {
			ConditionalRequests.Inc()
			expires := parseExpires(resp.Header, m.defaultTTL)
			if err := m.UpdateTTL(ctx, key, expires); err != nil {
				m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache refresh failed")
			}
			refreshed := stored.Response(req.URL)
			for _, c := range resp.SetCookies() {
				refreshed.Header.Add("Set-Cookie", c)
			}
			return refreshed, nil
		}

		if Cacheable(resp) {
			entry, err := ResponseToEntry(resp, m.defaultTTL)
			if err == nil {
				err = m.Set(ctx, key, entry)
			}
			if err != nil {
				m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache store failed")
			} else {
				m.logger.Debug().Str("key", key.String()).Dur("ttl", entry.TTL()).Msg("Page cached")
			}
		}
		return resp, nil
	})
}
