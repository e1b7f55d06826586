package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/gatefetch/pkg/logging"
	"github.com/Sternrassler/gatefetch/pkg/transport"
)

// Step failures recorded in StepResult.Err.
var (
	ErrNoCookie      = errors.New("response carried no cookie")
	ErrNoRedirectURL = errors.New("gate page has no authorization link")
	ErrNoForm        = errors.New("gate page has no form")
)

// Result is the terminal state of a negotiation.
type Result string

const (
	// ResultTokenAcquired means a cookie was captured and cached.
	ResultTokenAcquired Result = "token_acquired"

	// ResultNoGateDetected means the probed page was not a gate page.
	ResultNoGateDetected Result = "no_gate"

	// ResultGateUnresolved means a gate (or a failed probe) was seen but no
	// cookie could be obtained. Requests proceed without a token.
	ResultGateUnresolved Result = "unresolved"
)

// Step names one stage of the negotiation.
type Step string

const (
	StepProbe          Step = "probe"
	StepRedirect       Step = "redirect"
	StepForm           Step = "form"
	StepOriginFallback Step = "origin_fallback"
)

// StepResult is the outcome of one negotiation step.
type StepResult struct {
	Step  Step
	URL   string
	Token string
	Err   error
}

// Outcome is what EnsureAccess reports for an origin.
type Outcome struct {
	Origin Origin
	Result Result
	Token  string

	// Cached is true when the outcome came from State without negotiating.
	Cached bool

	// Steps lists the executed steps; empty for cached outcomes.
	Steps []StepResult

	// ProbeURL and Probe hold the probe request and its response when the
	// probe succeeded. Callers may reuse Probe for the same URL when no
	// token was required.
	ProbeURL string
	Probe    *transport.Response
}

// Config configures a Negotiator.
type Config struct {
	// Signature detects gate pages. Defaults to DefaultSignature().
	Signature Signature

	// Header is sent with every negotiation request (User-Agent, Accept).
	Header http.Header

	// FallbackOrigin overrides the origin root requested as the last step.
	FallbackOrigin string

	// Timeout bounds a whole negotiation. Defaults to 60s.
	Timeout time.Duration
}

// Negotiator runs the per-origin gate handshake.
type Negotiator struct {
	transport transport.Transport
	state     *State
	signature Signature
	header    http.Header
	fallback  string
	timeout   time.Duration
	group     singleflight.Group
	logger    zerolog.Logger
}

// NewNegotiator creates a negotiator recording results in state.
func NewNegotiator(tr transport.Transport, state *State, cfg Config) *Negotiator {
	if cfg.Signature == nil {
		cfg.Signature = DefaultSignature()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	header := cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Negotiator{
		transport: tr,
		state:     state,
		signature: cfg.Signature,
		header:    header,
		fallback:  cfg.FallbackOrigin,
		timeout:   cfg.Timeout,
		logger:    logging.NewLogger(logging.ComponentNegotiator),
	}
}

// SetLogger replaces the negotiator's logger.
func (n *Negotiator) SetLogger(logger zerolog.Logger) {
	n.logger = logger
}

// Signature returns the signature used to detect gate pages.
func (n *Negotiator) Signature() Signature {
	return n.signature
}

// EnsureAccess makes sure the origin of target has been negotiated and
// returns the outcome. Concurrent callers for the same origin share one
// negotiation. Negotiation failures are reported in the Outcome; the error
// is only non-nil when ctx ends while waiting.
func (n *Negotiator) EnsureAccess(ctx context.Context, target *url.URL) (Outcome, error) {
	origin := OriginOf(target)
	if e, ok := n.state.Get(origin); ok && e.Attempted {
		return cachedOutcome(origin, e), nil
	}

	// The negotiation is shared, so it must not die with the first caller.
	negotiateCtx := context.WithoutCancel(ctx)
	ch := n.group.DoChan(string(origin), func() (any, error) {
		if e, ok := n.state.Get(origin); ok && e.Attempted {
			return cachedOutcome(origin, e), nil
		}
		runCtx, cancel := context.WithTimeout(negotiateCtx, n.timeout)
		defer cancel()

		out := n.negotiate(runCtx, origin, target.String())
		n.state.record(origin, out.Result, out.Token)
		return out, nil
	})

	select {
	case <-ctx.Done():
		return Outcome{Origin: origin}, ctx.Err()
	case res := <-ch:
		return res.Val.(Outcome), nil
	}
}

func cachedOutcome(origin Origin, e Entry) Outcome {
	return Outcome{Origin: origin, Result: e.Result, Token: e.Token, Cached: true}
}

func (n *Negotiator) negotiate(ctx context.Context, origin Origin, probeURL string) Outcome {
	start := time.Now()
	out := Outcome{Origin: origin}
	logger := n.logger.With().Str("origin", string(origin)).Logger()

	defer func() {
		negotiationsTotal.WithLabelValues(string(out.Result)).Inc()
		negotiationDuration.Observe(time.Since(start).Seconds())
		logger.Info().
			Str("result", string(out.Result)).
			Bool("token", out.Token != "").
			Int("steps", len(out.Steps)).
			Dur("duration", time.Since(start)).
			Msg("Gate negotiation finished")
	}()

	resp, err := n.transport.Do(ctx, &transport.Request{Method: http.MethodGet, URL: probeURL, Header: n.header.Clone()})
	out.addStep(logger, StepResult{Step: StepProbe, URL: probeURL, Err: err})
	if err != nil {
		out.Result = ResultGateUnresolved
		return out
	}
	out.ProbeURL = probeURL
	out.Probe = resp

	probe := n.signature.Detect(resp, probeURL)
	if !probe.Gated {
		out.Result = ResultNoGateDetected
		return out
	}
	pageURL := resp.FinalURL(probeURL)
	logger.Debug().Str("page_url", pageURL).Msg("Gate page detected")

	// Redirect-follow
	if probe.RedirectURL != "" {
		step := n.capture(ctx, StepRedirect, &transport.Request{
			Method: http.MethodGet,
			URL:    probe.RedirectURL,
			Header: n.header.Clone(),
		})
		if out.addStep(logger, step) {
			return out
		}
	} else {
		out.addStep(logger, StepResult{Step: StepRedirect, Err: ErrNoRedirectURL})
	}

	// Form-submit
	if probe.Form != nil {
		header := n.header.Clone()
		header.Set("Content-Type", "application/x-www-form-urlencoded")
		header.Set("Referer", pageURL)
		step := n.capture(ctx, StepForm, &transport.Request{
			Method: http.MethodPost,
			URL:    probe.Form.Action,
			Header: header,
			Body:   []byte(probe.Form.Encode()),
		})
		if out.addStep(logger, step) {
			return out
		}
	} else {
		out.addStep(logger, StepResult{Step: StepForm, Err: ErrNoForm})
	}

	// Origin-fallback
	step := n.capture(ctx, StepOriginFallback, &transport.Request{
		Method: http.MethodGet,
		URL:    n.fallbackURL(origin),
		Header: n.header.Clone(),
	})
	if out.addStep(logger, step) {
		return out
	}

	out.Result = ResultGateUnresolved
	return out
}

// addStep appends step and reports whether it acquired a token.
func (o *Outcome) addStep(logger zerolog.Logger, step StepResult) bool {
	o.Steps = append(o.Steps, step)

	outcome := "ok"
	switch {
	case step.Err != nil:
		outcome = "failed"
	case step.Token != "":
		outcome = "token"
	}
	negotiationStepsTotal.WithLabelValues(string(step.Step), outcome).Inc()

	ev := logger.Debug().Str("step", string(step.Step)).Str("url", step.URL)
	if step.Err != nil {
		ev = ev.Err(step.Err)
	}
	ev.Msg("Gate negotiation step")

	if step.Token == "" {
		return false
	}
	o.Token = step.Token
	o.Result = ResultTokenAcquired
	return true
}

func (n *Negotiator) capture(ctx context.Context, step Step, req *transport.Request) StepResult {
	result := StepResult{Step: step, URL: req.URL}
	resp, err := n.transport.Do(ctx, req)
	if err != nil {
		result.Err = fmt.Errorf("%s request: %w", step, err)
		return result
	}
	token := NormalizeCookies(resp.SetCookies())
	if token == "" {
		result.Err = ErrNoCookie
		return result
	}
	result.Token = token
	return result
}

func (n *Negotiator) fallbackURL(origin Origin) string {
	if n.fallback != "" {
		return n.fallback
	}
	return origin.Root()
}

// NormalizeCookies turns Set-Cookie values into a single Cookie header value
// of name=value pairs joined by "; ". A name seen twice keeps its first
// position and its last value.
func NormalizeCookies(setCookies []string) string {
	var names []string
	values := make(map[string]string)
	for _, line := range setCookies {
		name, value, ok := transport.CookiePair(line)
		if !ok {
			continue
		}
		if _, seen := values[name]; !seen {
			names = append(names, name)
		}
		values[name] = value
	}

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+values[name])
	}
	return strings.Join(pairs, "; ")
}
