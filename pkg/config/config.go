// Package config loads the YAML configuration of the gatefetch binary and
// builds the library components from it.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/gatefetch/pkg/gate"
	"github.com/Sternrassler/gatefetch/pkg/logging"
	"github.com/Sternrassler/gatefetch/pkg/novel"
	"github.com/Sternrassler/gatefetch/pkg/pagination"
	"github.com/Sternrassler/gatefetch/pkg/transport"
)

// Environment variables that override file values.
const (
	EnvRedisAddr = "GATEFETCH_REDIS_ADDR"
	EnvLogLevel  = "GATEFETCH_LOG_LEVEL"
	EnvUserAgent = "GATEFETCH_USER_AGENT"
)

// DefaultUserAgent identifies gatefetch when no user agent is configured.
const DefaultUserAgent = "gatefetch/0.1.0 (+https://github.com/Sternrassler/gatefetch)"

// Config is the full configuration of the gatefetch binary.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Gate      GateConfig      `yaml:"gate"`
	Collector CollectorConfig `yaml:"collector"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Novel     NovelConfig     `yaml:"novel"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
}

// HTTPConfig configures the outbound transport.
type HTTPConfig struct {
	UserAgent    string            `yaml:"user_agent"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      Duration          `yaml:"timeout"`
	MaxBodyBytes int64             `yaml:"max_body_bytes"`
	MaxRedirects int               `yaml:"max_redirects"`
	ProxyURL     string            `yaml:"proxy_url"`
}

// GateConfig configures gate detection and negotiation.
type GateConfig struct {
	BodyMarkers        []string `yaml:"body_markers"`
	URLMarkers         []string `yaml:"url_markers"`
	RedirectPattern    string   `yaml:"redirect_pattern"`
	FallbackOrigin     string   `yaml:"fallback_origin"`
	NegotiationTimeout Duration `yaml:"negotiation_timeout"`
}

// CollectorConfig configures paginated collection.
type CollectorConfig struct {
	MaxConcurrency int      `yaml:"max_concurrency"`
	PageTimeout    Duration `yaml:"page_timeout"`
	MaxPages       int      `yaml:"max_pages"`
}

// RateLimitConfig applies a token bucket per origin.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether per-origin rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// CacheConfig configures the Redis page cache. An empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr  string   `yaml:"redis_addr"`
	RedisDB    int      `yaml:"redis_db"`
	DefaultTTL Duration `yaml:"default_ttl"`
}

// Enabled reports whether the page cache is configured.
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// NovelConfig selects the novel site endpoints.
type NovelConfig struct {
	Site        string `yaml:"site"`
	NovelDomain string `yaml:"novel_domain"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			UserAgent:    DefaultUserAgent,
			Headers:      map[string]string{},
			Timeout:      DurationFrom(transport.DefaultTimeout),
			MaxBodyBytes: transport.DefaultMaxBodyBytes,
			MaxRedirects: transport.DefaultMaxRedirects,
		},
		Gate: GateConfig{
			BodyMarkers:        append([]string(nil), gate.DefaultBodyMarkers...),
			URLMarkers:         append([]string(nil), gate.DefaultURLMarkers...),
			RedirectPattern:    gate.DefaultRedirectPattern,
			NegotiationTimeout: DurationFrom(60 * time.Second),
		},
		Collector: CollectorConfig{
			MaxConcurrency: 10,
			PageTimeout:    DurationFrom(30 * time.Second),
			MaxPages:       pagination.DefaultMaxPages,
		},
		RateLimit: RateLimitConfig{
			Requests: 5,
			Window:   DurationFrom(time.Second),
		},
		Cache: CacheConfig{
			DefaultTTL: DurationFrom(5 * time.Minute),
		},
		Novel: NovelConfig{
			Site:        novel.DefaultSite,
			NovelDomain: novel.DefaultNovelDomain,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: DurationFrom(60 * time.Second),
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides,
// and validates the result. An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return finish(&cfg)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnv(os.LookupEnv)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvUserAgent); ok && v != "" {
		c.HTTP.UserAgent = v
	}
}

func (c *Config) normalise() {
	c.HTTP.UserAgent = strings.TrimSpace(c.HTTP.UserAgent)
	c.HTTP.ProxyURL = strings.TrimSpace(c.HTTP.ProxyURL)
	c.Gate.FallbackOrigin = strings.TrimRight(strings.TrimSpace(c.Gate.FallbackOrigin), "/")
	c.Cache.RedisAddr = strings.TrimSpace(c.Cache.RedisAddr)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.HTTP.Headers == nil {
		c.HTTP.Headers = map[string]string{}
	}
}

// Validate enforces required invariants for the configuration.
func (c Config) Validate() error {
	if c.HTTP.UserAgent == "" {
		return errors.New("http.user_agent must be set")
	}
	if c.HTTP.Timeout.Duration <= 0 {
		return fmt.Errorf("http.timeout must be > 0 (got %s)", c.HTTP.Timeout)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0 (got %d)", c.HTTP.MaxBodyBytes)
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0 (got %d)", c.HTTP.MaxRedirects)
	}
	if c.HTTP.ProxyURL != "" {
		if _, err := url.Parse(c.HTTP.ProxyURL); err != nil {
			return fmt.Errorf("http.proxy_url: %w", err)
		}
	}
	if len(c.Gate.BodyMarkers) == 0 && len(c.Gate.URLMarkers) == 0 {
		return errors.New("gate: at least one body or url marker must be configured")
	}
	if _, err := c.Signature(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	if c.Gate.FallbackOrigin != "" {
		if _, err := gate.ParseOrigin(c.Gate.FallbackOrigin); err != nil {
			return fmt.Errorf("gate.fallback_origin: %w", err)
		}
	}
	if c.Gate.NegotiationTimeout.Duration < 0 {
		return fmt.Errorf("gate.negotiation_timeout must be >= 0 (got %s)", c.Gate.NegotiationTimeout)
	}
	if c.Collector.MaxConcurrency < 0 {
		return fmt.Errorf("collector.max_concurrency must be >= 0 (got %d)", c.Collector.MaxConcurrency)
	}
	if c.Collector.MaxPages < 0 {
		return fmt.Errorf("collector.max_pages must be >= 0 (got %d)", c.Collector.MaxPages)
	}
	if c.Collector.PageTimeout.Duration <= 0 {
		return fmt.Errorf("collector.page_timeout must be > 0 (got %s)", c.Collector.PageTimeout)
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("rate_limit.requests must be >= 0 (got %d)", c.RateLimit.Requests)
	}
	if c.Cache.RedisDB < 0 {
		return fmt.Errorf("cache.redis_db must be >= 0 (got %d)", c.Cache.RedisDB)
	}
	if c.Cache.DefaultTTL.Duration < 0 {
		return fmt.Errorf("cache.default_ttl must be >= 0 (got %s)", c.Cache.DefaultTTL)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
