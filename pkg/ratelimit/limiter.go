// Package ratelimit implements per-origin politeness limits for outbound
// requests. Each origin gets its own token bucket so a slow site does not
// throttle requests to another.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/gatefetch/pkg/transport"
)

var limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "origin_limiter_wait_seconds",
	Help:    "Time requests waited for the per-origin limiter",
	Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
})

// Settings configures the token bucket: Requests per Window, with a burst of
// Requests.
type Settings struct {
	Requests int
	Window   time.Duration
}

// Enabled reports whether the settings describe an actual limit.
func (s Settings) Enabled() bool {
	return s.Requests > 0 && s.Window > 0
}

// Limiter enforces Settings independently for each origin.
type Limiter struct {
	settings Settings
	logger   zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates a per-origin limiter. It returns nil when settings are
// disabled; a nil *Limiter never blocks.
func NewLimiter(settings Settings, logger zerolog.Logger) *Limiter {
	if !settings.Enabled() {
		return nil
	}
	return &Limiter{
		settings: settings,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to host may proceed.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if l == nil || host == "" {
		return nil
	}
	limiter := l.limiterFor(strings.ToLower(host))

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("origin limiter: %w", err)
	}
	waited := time.Since(start)
	limiterWaitSeconds.Observe(waited.Seconds())
	if waited > 100*time.Millisecond {
		l.logger.Debug().Str("host", host).Dur("waited", waited).Msg("Request throttled")
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	interval := l.settings.Window / time.Duration(l.settings.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), l.settings.Requests)
	l.limiters[host] = limiter
	return limiter
}

// Wrap returns a Transport that waits on the limiter before each request.
// Wrapping with a nil Limiter returns next unchanged.
func (l *Limiter) Wrap(next transport.Transport) transport.Transport {
	if l == nil {
		return next
	}
	return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		u, err := url.Parse(req.URL)
		if err != nil {
			return nil, &transport.Error{Op: req.Method, URL: req.URL, Class: transport.ErrorClassNetwork, Err: err}
		}
		if err := l.Wait(ctx, u.Host); err != nil {
			return nil, transport.Wrap(req.Method, req.URL, err)
		}
		return next.Do(ctx, req)
	})
}
