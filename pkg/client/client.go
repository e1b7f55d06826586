// Package client provides the gated HTTP client: every request is preceded by
// a per-origin age-gate negotiation whose token is merged into the request's
// cookies. Negotiation never fails a request; only transport failures, invalid
// URLs and cancellation do.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gatefetch/pkg/cache"
	"github.com/Sternrassler/gatefetch/pkg/gate"
	"github.com/Sternrassler/gatefetch/pkg/logging"
	"github.com/Sternrassler/gatefetch/pkg/ratelimit"
	"github.com/Sternrassler/gatefetch/pkg/transport"
)

// DefaultAccept is sent when the caller does not set Accept.
const DefaultAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// Client is the gated HTTP client.
type Client struct {
	negotiator *gate.Negotiator
	state      *gate.State
	content    transport.Transport
	header     http.Header
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request (REQUIRED)
	UserAgent string

	// Header holds extra default headers. Caller headers override them.
	Header http.Header

	// Transport executes requests. Defaults to an HTTPTransport built from
	// TransportOptions.
	Transport        transport.Transport
	TransportOptions transport.Options

	// Gate negotiation
	Signature          gate.Signature // defaults to gate.DefaultSignature()
	FallbackOrigin     string         // origin root requested as last negotiation step
	NegotiationTimeout time.Duration

	// State records negotiated origins. Each client gets its own when nil.
	State *gate.State

	// Limiter throttles requests per origin (negotiation and content).
	Limiter *ratelimit.Limiter

	// Cache serves content GETs from Redis. Negotiation requests bypass it.
	Cache *cache.Manager
}

// Response is a content response plus the gate signal.
type Response struct {
	*transport.Response

	// Gate is the negotiation result of the request's origin.
	Gate gate.Result

	// GateBlocked is true when the origin could not be negotiated and the
	// body still looks like a gate page.
	GateBlocked bool
}

// Options customizes a single request.
type Options struct {
	Method string
	Header http.Header
	Body   []byte
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		TransportOptions: transport.Options{
			Timeout:      transport.DefaultTimeout,
			MaxBodyBytes: transport.DefaultMaxBodyBytes,
			MaxRedirects: transport.DefaultMaxRedirects,
		},
		NegotiationTimeout: 60 * time.Second,
	}
}

// New creates a new gated client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.NegotiationTimeout < 0 {
		return nil, fmt.Errorf("negotiation_timeout must be >= 0 (got %s)", cfg.NegotiationTimeout)
	}
	if cfg.FallbackOrigin != "" {
		if _, err := gate.ParseOrigin(cfg.FallbackOrigin); err != nil {
			return nil, fmt.Errorf("fallback origin: %w", err)
		}
	}

	base := cfg.Transport
	if base == nil {
		httpTransport, err := transport.NewHTTPTransport(cfg.TransportOptions)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		base = httpTransport
	}
	base = cfg.Limiter.Wrap(base)

	content := base
	if cfg.Cache != nil {
		content = cfg.Cache.Wrap(base)
	}

	header := cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("User-Agent", cfg.UserAgent)
	if header.Get("Accept") == "" {
		header.Set("Accept", DefaultAccept)
	}

	state := cfg.State
	if state == nil {
		state = gate.NewState()
	}

	negotiator := gate.NewNegotiator(base, state, gate.Config{
		Signature:      cfg.Signature,
		Header:         header,
		FallbackOrigin: cfg.FallbackOrigin,
		Timeout:        cfg.NegotiationTimeout,
	})

	return &Client{
		negotiator: negotiator,
		state:      state,
		content:    content,
		header:     header,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentClient),
	}, nil
}

// SetLogger replaces the logger of the client and its negotiator.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
	c.negotiator.SetLogger(logger)
}

// Fetch performs a gated request. The origin is negotiated first (once per
// client), the token is appended to the request cookies and the response is
// returned unmodified.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, c.transportError("fetch", rawURL, err)
	}

	origin := gate.OriginOf(u)
	startTime := time.Now()
	defer func() {
		gatedRequestDuration.WithLabelValues(string(origin)).Observe(time.Since(startTime).Seconds())
	}()

	outcome, err := c.negotiator.EnsureAccess(ctx, u)
	if err != nil {
		return nil, c.transportError("negotiate", rawURL, err)
	}

	var resp *transport.Response
	if reusable(outcome, u, opts) {
		resp = copyResponse(outcome.Probe)
		c.logger.Debug().Str("url", rawURL).Msg("Reusing probe response")
	} else {
		req := &transport.Request{
			Method: opts.Method,
			URL:    u.String(),
			Header: c.header.Clone(),
			Body:   opts.Body,
		}
		if req.Method == "" {
			req.Method = http.MethodGet
		}
		for name, values := range opts.Header {
			req.Header[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
		}
		transport.AppendCookie(req.Header, outcome.Token)

		resp, err = c.content.Do(ctx, req)
		if err != nil {
			gatedRequestsTotal.WithLabelValues(string(origin), "error").Inc()
			return nil, c.transportError(req.Method, rawURL, err)
		}
	}

	gatedRequestsTotal.WithLabelValues(string(origin), strconv.Itoa(resp.StatusCode)).Inc()

	out := &Response{Response: resp, Gate: outcome.Result}
	if outcome.Result == gate.ResultGateUnresolved {
		out.GateBlocked = c.negotiator.Signature().Detect(resp, u.String()).Gated
		if out.GateBlocked {
			c.logger.Warn().Str("origin", string(origin)).Str("url", rawURL).Msg("Response is still gated")
		}
	}

	c.logger.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Str("gate", string(outcome.Result)).
		Dur("duration", time.Since(startTime)).
		Msg("Fetched")

	return out, nil
}

// FetchPage fetches rawURL with GET and returns the body. Statuses of 400
// and above become a *StatusError.
func (c *Client) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Fetch(ctx, rawURL, Options{})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	return resp.Body, nil
}

// EnsureAccess negotiates the origin of rawURL without fetching content.
func (c *Client) EnsureAccess(ctx context.Context, rawURL string) (gate.Outcome, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return gate.Outcome{}, err
	}
	return c.negotiator.EnsureAccess(ctx, u)
}

// GateState returns the recorded negotiation state of origin.
func (c *Client) GateState(origin gate.Origin) (gate.Entry, bool) {
	return c.state.Get(origin)
}

// State returns the client's gate state.
func (c *Client) State() *gate.State {
	return c.state
}

// Signature returns the gate signature used by the client.
func (c *Client) Signature() gate.Signature {
	return c.negotiator.Signature()
}

func (c *Client) transportError(op, rawURL string, err error) error {
	var te *transport.Error
	if !errors.As(err, &te) {
		te = transport.Wrap(op, rawURL, err)
	}
	gatedTransportErrorsTotal.WithLabelValues(string(te.Class)).Inc()
	return te
}

func parseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return u, nil
}

// reusable reports whether the negotiation probe already is the response the
// caller asked for.
func reusable(outcome gate.Outcome, u *url.URL, opts Options) bool {
	if outcome.Probe == nil || outcome.Result != gate.ResultNoGateDetected {
		return false
	}
	if (opts.Method != "" && opts.Method != http.MethodGet) || len(opts.Header) > 0 || opts.Body != nil {
		return false
	}
	return outcome.ProbeURL == u.String()
}

func copyResponse(r *transport.Response) *transport.Response {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = append([]byte(nil), r.Body...)
	return &c
}
