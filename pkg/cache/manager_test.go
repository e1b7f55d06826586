package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gatefetch/pkg/transport"
)

// setupTestRedis connects to a local Redis and skips when none is running.
// The integration suite runs the same flows against a testcontainers Redis.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(setupTestRedis(t), time.Minute)
	m.SetLogger(zerolog.Nop())
	return m
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client, 0)
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
	if manager.defaultTTL != DefaultTTL {
		t.Errorf("defaultTTL = %v, want %v", manager.defaultTTL, DefaultTTL)
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, 0)
}

func TestManager_SetAndGet(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	key := CacheKey{URL: "https://a.example.com/n1/"}

	entry := &CacheEntry{
		Data:         []byte("<html>page</html>"),
		ETag:         `"abc123"`,
		Expires:      time.Now().Add(5 * time.Minute),
		LastModified: time.Now().Add(-1 * time.Hour),
		StatusCode:   200,
		Headers:      http.Header{"Content-Type": []string{"text/html"}},
		CachedAt:     time.Now(),
	}

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(retrieved.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", retrieved.Data, entry.Data)
	}
	if retrieved.ETag != entry.ETag {
		t.Errorf("ETag mismatch: got %s, want %s", retrieved.ETag, entry.ETag)
	}
	if retrieved.StatusCode != entry.StatusCode {
		t.Errorf("StatusCode mismatch: got %d, want %d", retrieved.StatusCode, entry.StatusCode)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.Get(context.Background(), CacheKey{URL: "https://a.example.com/missing"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Get_ExpiredEntry(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	key := CacheKey{URL: "https://a.example.com/old"}

	entry := &CacheEntry{
		Data:    []byte("old"),
		Expires: time.Now().Add(-1 * time.Hour),
	}

	// Expired entries without validators are not stored at all
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
	if _, err := manager.Lookup(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Lookup() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_StaleEntryKeptForRevalidation(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	key := CacheKey{URL: "https://a.example.com/stale"}

	entry := &CacheEntry{
		Data:    []byte("stale"),
		ETag:    `"v1"`,
		Expires: time.Now().Add(-1 * time.Minute),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
	stale, err := manager.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if stale.ETag != `"v1"` {
		t.Errorf("ETag = %v, want %v", stale.ETag, `"v1"`)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	key := CacheKey{URL: "https://a.example.com/del"}

	entry := &CacheEntry{Data: []byte("x"), Expires: time.Now().Add(5 * time.Minute)}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_UpdateTTL(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	key := CacheKey{URL: "https://a.example.com/ttl"}

	entry := &CacheEntry{Data: []byte("x"), Expires: time.Now().Add(5 * time.Minute)}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	newExpires := time.Now().Add(10 * time.Minute)
	if err := manager.UpdateTTL(ctx, key, newExpires); err != nil {
		t.Fatalf("UpdateTTL failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after UpdateTTL failed: %v", err)
	}
	diff := retrieved.Expires.Sub(newExpires)
	if diff < -1*time.Second || diff > 1*time.Second {
		t.Errorf("Expires time not updated correctly: got %v, want %v (diff: %v)",
			retrieved.Expires, newExpires, diff)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Set(context.Background(), CacheKey{URL: "https://a.example.com/"}, nil); err == nil {
		t.Error("Set with nil entry should return error")
	}
}

// countingTransport serves a fixed response and records requests.
type countingTransport struct {
	mu       sync.Mutex
	requests []*transport.Request
	respond  func(req *transport.Request) *transport.Response
}

func (c *countingTransport) Do(_ context.Context, req *transport.Request) (*transport.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return c.respond(req), nil
}

func (c *countingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func TestManager_Wrap_ServesFreshEntry(t *testing.T) {
	manager := newTestManager(t)
	next := &countingTransport{respond: func(*transport.Request) *transport.Response {
		return &transport.Response{
			StatusCode: 200,
			Header:     http.Header{"Cache-Control": []string{"max-age=300"}},
			Body:       []byte("<html>chapter</html>"),
		}
	}}
	tr := manager.Wrap(next)
	req := &transport.Request{Method: http.MethodGet, URL: "https://a.example.com/n1/1/", Header: http.Header{}}

	for i := 0; i < 3; i++ {
		resp, err := tr.Do(context.Background(), req)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if string(resp.Body) != "<html>chapter</html>" {
			t.Errorf("Body = %q, want chapter page", resp.Body)
		}
	}
	if got := next.count(); got != 1 {
		t.Errorf("origin requests = %d, want 1", got)
	}
}

func TestManager_Wrap_RevalidatesStaleEntry(t *testing.T) {
	manager := newTestManager(t)
	next := &countingTransport{respond: func(req *transport.Request) *transport.Response {
		if req.Header.Get("If-None-Match") == `"v1"` {
			return &transport.Response{StatusCode: http.StatusNotModified, Header: http.Header{}}
		}
		return &transport.Response{
			StatusCode: 200,
			Header:     http.Header{"Etag": []string{`"v1"`}, "Cache-Control": []string{"no-cache"}},
			Body:       []byte("body v1"),
		}
	}}
	tr := manager.Wrap(next)
	req := &transport.Request{Method: http.MethodGet, URL: "https://a.example.com/n1/", Header: http.Header{}}

	if _, err := tr.Do(context.Background(), req); err != nil {
		t.Fatalf("first Do() error = %v", err)
	}
	resp, err := tr.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("second Do() error = %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "body v1" {
		t.Errorf("revalidated response = %d %q, want 200 %q", resp.StatusCode, resp.Body, "body v1")
	}
	if got := next.count(); got != 2 {
		t.Errorf("origin requests = %d, want 2", got)
	}
	if req.Header.Get("If-None-Match") != "" {
		t.Error("Wrap() modified the caller's request headers")
	}
}

func TestManager_Wrap_SkipsUncacheable(t *testing.T) {
	manager := newTestManager(t)
	next := &countingTransport{respond: func(*transport.Request) *transport.Response {
		return &transport.Response{
			StatusCode: 200,
			Header:     http.Header{"Set-Cookie": []string{"over18=yes; Path=/"}},
			Body:       []byte("gate"),
		}
	}}
	tr := manager.Wrap(next)
	ctx := context.Background()

	get := &transport.Request{Method: http.MethodGet, URL: "https://a.example.com/", Header: http.Header{}}
	post := &transport.Request{Method: http.MethodPost, URL: "https://a.example.com/confirm", Header: http.Header{}, Body: []byte("age=yes")}

	for _, req := range []*transport.Request{get, get, post, post} {
		if _, err := tr.Do(ctx, req); err != nil {
			t.Fatalf("Do() error = %v", err)
		}
	}
	if got := next.count(); got != 4 {
		t.Errorf("origin requests = %d, want 4", got)
	}
	if _, err := manager.Lookup(ctx, KeyForRequest(get)); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("response with Set-Cookie was cached: %v", err)
	}
}

func TestManager_Wrap_RedisDownPassesThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	manager := NewManager(client, 0)
	manager.SetLogger(zerolog.Nop())

	next := &countingTransport{respond: func(*transport.Request) *transport.Response {
		return &transport.Response{StatusCode: 200, Header: http.Header{}, Body: []byte("ok")}
	}}
	resp, err := manager.Wrap(next).Do(context.Background(),
		&transport.Request{Method: http.MethodGet, URL: "https://a.example.com/", Header: http.Header{}})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Body = %q, want %q", resp.Body, "ok")
	}
}
