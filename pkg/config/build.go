package config

import (
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/gatefetch/pkg/cache"
	"github.com/Sternrassler/gatefetch/pkg/client"
	"github.com/Sternrassler/gatefetch/pkg/gate"
	"github.com/Sternrassler/gatefetch/pkg/logging"
	"github.com/Sternrassler/gatefetch/pkg/novel"
	"github.com/Sternrassler/gatefetch/pkg/pagination"
	"github.com/Sternrassler/gatefetch/pkg/ratelimit"
	"github.com/Sternrassler/gatefetch/pkg/transport"
)

// Signature compiles the configured gate signature.
func (c Config) Signature() (*gate.PatternSignature, error) {
	return gate.NewPatternSignature(c.Gate.BodyMarkers, c.Gate.URLMarkers, c.Gate.RedirectPattern)
}

// LoggingConfig returns the logger configuration. Output defaults to stderr.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

// LimiterSettings returns the per-origin limiter settings.
func (c Config) LimiterSettings() ratelimit.Settings {
	return ratelimit.Settings{Requests: c.RateLimit.Requests, Window: c.RateLimit.Window.Duration}
}

// RedisOptions returns the Redis client options, or nil when the cache is disabled.
func (c Config) RedisOptions() *redis.Options {
	if !c.Cache.Enabled() {
		return nil
	}
	return &redis.Options{Addr: c.Cache.RedisAddr, DB: c.Cache.RedisDB}
}

// CollectorConfig returns the pagination configuration.
func (c Config) CollectorConfig() pagination.Config {
	return pagination.Config{
		MaxConcurrency: c.Collector.MaxConcurrency,
		Timeout:        c.Collector.PageTimeout.Duration,
		MaxPages:       c.Collector.MaxPages,
	}
}

// SiteConfig returns the novel site configuration.
func (c Config) SiteConfig() novel.Config {
	return novel.Config{
		Site:        c.Novel.Site,
		NovelDomain: c.Novel.NovelDomain,
		Collector:   c.CollectorConfig(),
	}
}

// ClientConfig returns the gated client configuration without limiter or cache.
func (c Config) ClientConfig() (client.Config, error) {
	sig, err := c.Signature()
	if err != nil {
		return client.Config{}, err
	}

	cfg := client.DefaultConfig(c.HTTP.UserAgent)
	cfg.TransportOptions = transport.Options{
		Timeout:      c.HTTP.Timeout.Duration,
		MaxBodyBytes: c.HTTP.MaxBodyBytes,
		MaxRedirects: c.HTTP.MaxRedirects,
		ProxyURL:     c.HTTP.ProxyURL,
	}
	if len(c.HTTP.Headers) > 0 {
		cfg.Header = make(http.Header, len(c.HTTP.Headers))
		for k, v := range c.HTTP.Headers {
			cfg.Header.Set(k, v)
		}
	}
	cfg.Signature = sig
	cfg.FallbackOrigin = c.Gate.FallbackOrigin
	cfg.NegotiationTimeout = c.Gate.NegotiationTimeout.Duration
	return cfg, nil
}

// Components are the library objects built from a Config.
type Components struct {
	Client *client.Client
	Site   *novel.Site
	Cache  *cache.Manager // nil when the cache is disabled
	Redis  *redis.Client  // nil when the cache is disabled
}

// Build creates the gated client, its limiter and optional page cache, and
// the novel site on top of it.
func (c Config) Build() (*Components, error) {
	clientCfg, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}
	clientCfg.Limiter = ratelimit.NewLimiter(c.LimiterSettings(), logging.NewLogger(logging.ComponentLimiter))

	components := &Components{}
	if opts := c.RedisOptions(); opts != nil {
		components.Redis = redis.NewClient(opts)
		components.Cache = cache.NewManager(components.Redis, c.Cache.DefaultTTL.Duration)
		clientCfg.Cache = components.Cache
	}

	components.Client, err = client.New(clientCfg)
	if err != nil {
		components.Close()
		return nil, err
	}
	components.Site, err = novel.NewSite(components.Client, c.SiteConfig())
	if err != nil {
		components.Close()
		return nil, err
	}
	return components, nil
}

// Close releases the Redis connection, if any.
func (c *Components) Close() error {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Close()
}
