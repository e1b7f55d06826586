package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gatefetch/internal/testutil"
	"github.com/Sternrassler/gatefetch/pkg/gate"
	"github.com/Sternrassler/gatefetch/pkg/transport"
)

const testUserAgent = "gatefetch-test/1.0 (test@example.com)"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(DefaultConfig(testUserAgent))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetLogger(zerolog.Nop())
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig(testUserAgent),
		},
		{
			name:        "missing user agent",
			config:      DefaultConfig(""),
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "negative negotiation timeout",
			config: Config{
				UserAgent:          testUserAgent,
				NegotiationTimeout: -1,
			},
			expectError: true,
			errorMsg:    "negotiation_timeout must be >= 0",
		},
		{
			name: "invalid fallback origin",
			config: Config{
				UserAgent:      testUserAgent,
				FallbackOrigin: "not-a-url",
			},
			expectError: true,
			errorMsg:    "fallback origin",
		},
		{
			name: "invalid proxy url",
			config: Config{
				UserAgent:        testUserAgent,
				TransportOptions: transport.Options{ProxyURL: "://bad"},
			},
			expectError: true,
			errorMsg:    "create transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errorMsg)
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFetch_NegotiatesOnceAndSendsToken(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetGate(testutil.GateRedirect, "over18", "yes")
	site.SetResponse("/n1/", testutil.MockResponse{Body: "<html><body>novel</body></html>"})
	site.SetResponse("/n2/", testutil.MockResponse{Body: "<html><body>other</body></html>"})

	c := newTestClient(t)
	ctx := context.Background()

	resp, err := c.Fetch(ctx, site.URL()+"/n1/", Options{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(string(resp.Body), "novel") {
		t.Errorf("Body = %q, want novel content", resp.Body)
	}
	if resp.Gate != gate.ResultTokenAcquired {
		t.Errorf("Gate = %v, want %v", resp.Gate, gate.ResultTokenAcquired)
	}
	if resp.GateBlocked {
		t.Error("GateBlocked = true, want false")
	}

	before := site.RequestCount()
	if _, err := c.Fetch(ctx, site.URL()+"/n2/", Options{}); err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if got := site.RequestCount() - before; got != 1 {
		t.Errorf("second fetch made %d requests, want 1", got)
	}
	if got := site.PathCount("/ageauth"); got != 1 {
		t.Errorf("/ageauth requested %d times, want 1", got)
	}

	reqs := site.Requests()
	last := reqs[len(reqs)-1]
	if last.Cookie != "over18=yes" {
		t.Errorf("Cookie = %q, want %q", last.Cookie, "over18=yes")
	}
	if got := last.Header.Get("User-Agent"); got != testUserAgent {
		t.Errorf("User-Agent = %q, want %q", got, testUserAgent)
	}

	entry, ok := c.GateState(gate.Origin(strings.ToLower(site.URL())))
	if !ok || !entry.Attempted || entry.Token != "over18=yes" {
		t.Errorf("GateState() = %+v, %v; want attempted entry with token", entry, ok)
	}
}

func TestFetch_AppendsTokenAfterCallerCookie(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetGate(testutil.GateForm, "over18", "yes")
	site.SetResponse("/n1/", testutil.MockResponse{Body: "novel"})

	c := newTestClient(t)
	resp, err := c.Fetch(context.Background(), site.URL()+"/n1/", Options{
		Header: http.Header{"Cookie": []string{"lang=ja"}},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(resp.Body) != "novel" {
		t.Errorf("Body = %q, want %q", resp.Body, "novel")
	}

	reqs := site.Requests()
	if got := reqs[len(reqs)-1].Cookie; got != "lang=ja; over18=yes" {
		t.Errorf("Cookie = %q, want %q", got, "lang=ja; over18=yes")
	}
}

func TestFetch_ReusesProbeWhenUngated(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/n1/", testutil.MockResponse{Body: "plain"})

	c := newTestClient(t)
	resp, err := c.Fetch(context.Background(), site.URL()+"/n1/", Options{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(resp.Body) != "plain" {
		t.Errorf("Body = %q, want %q", resp.Body, "plain")
	}
	if resp.Gate != gate.ResultNoGateDetected {
		t.Errorf("Gate = %v, want %v", resp.Gate, gate.ResultNoGateDetected)
	}
	if got := site.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}

	// A request with headers is never answered from the probe.
	if _, err := c.Fetch(context.Background(), site.URL()+"/n2/", Options{Header: http.Header{"X-Test": []string{"1"}}}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := site.RequestCount(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestFetch_GateBlocked(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetGate(testutil.GateStuck, "over18", "yes")

	c := newTestClient(t)
	resp, err := c.Fetch(context.Background(), site.URL()+"/n1/", Options{})
	if err != nil {
		t.Fatalf("Fetch() error = %v, want nil for unresolved gate", err)
	}
	if resp.Gate != gate.ResultGateUnresolved {
		t.Errorf("Gate = %v, want %v", resp.Gate, gate.ResultGateUnresolved)
	}
	if !resp.GateBlocked {
		t.Error("GateBlocked = false, want true")
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}

	// Unresolved is permanent: no further negotiation.
	before := site.RequestCount()
	if _, err := c.Fetch(context.Background(), site.URL()+"/n1/", Options{}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := site.RequestCount() - before; got != 1 {
		t.Errorf("second fetch made %d requests, want 1", got)
	}
}

func TestFetch_ConcurrentCallersShareNegotiation(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetGate(testutil.GateRedirect, "over18", "yes")
	site.SetResponse("/n1/", testutil.MockResponse{Body: "novel"})

	c := newTestClient(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(context.Background(), site.URL()+"/n1/", Options{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Fetch() error = %v", err)
	}
	if got := site.PathCount("/ageauth"); got != 1 {
		t.Errorf("/ageauth requested %d times, want 1", got)
	}
}

func TestFetchPage_StatusError(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/gone", testutil.MockResponse{StatusCode: http.StatusNotFound, Body: "missing"})

	c := newTestClient(t)
	_, err := c.FetchPage(context.Background(), site.URL()+"/gone")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("FetchPage() error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", se.StatusCode)
	}
	if !IsStatus(err, http.StatusNotFound) {
		t.Error("IsStatus(err, 404) = false, want true")
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	c := newTestClient(t)

	for _, raw := range []string{"", "/relative/path", "ftp://example.com/x", "http://"} {
		t.Run(raw, func(t *testing.T) {
			_, err := c.Fetch(context.Background(), raw, Options{})
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("Fetch(%q) error = %v, want ErrInvalidURL", raw, err)
			}
		})
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()

	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, site.URL()+"/n1/", Options{})
	var te *transport.Error
	if !errors.As(err, &te) {
		t.Fatalf("Fetch() error = %v, want *transport.Error", err)
	}
	if te.Class != transport.ErrorClassCanceled {
		t.Errorf("Class = %v, want %v", te.Class, transport.ErrorClassCanceled)
	}
	if got := site.RequestCount(); got != 0 {
		t.Errorf("requests = %d, want 0", got)
	}
}

func TestFetch_TransportErrorNotNegotiation(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/drop", testutil.MockResponse{Drop: true})

	c := newTestClient(t)
	// The probe fails too, so the origin is unresolved; the content request
	// then surfaces the transport failure.
	_, err := c.Fetch(context.Background(), site.URL()+"/drop", Options{})
	var te *transport.Error
	if !errors.As(err, &te) {
		t.Fatalf("Fetch() error = %v, want *transport.Error", err)
	}
	if te.Class != transport.ErrorClassNetwork {
		t.Errorf("Class = %v, want %v", te.Class, transport.ErrorClassNetwork)
	}
}

func TestFetch_InjectedTransport(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	cfg := DefaultConfig(testUserAgent)
	cfg.Transport = transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		mu.Lock()
		seen = append(seen, req.Method+" "+req.URL)
		mu.Unlock()
		return &transport.Response{StatusCode: 200, Header: http.Header{}, Body: []byte("ok")}, nil
	})
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.SetLogger(zerolog.Nop())

	resp, err := c.Fetch(context.Background(), "https://novel.example.com/search", Options{
		Method: http.MethodPost,
		Body:   []byte("word=x"),
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Body = %q, want %q", resp.Body, "ok")
	}

	want := []string{"GET https://novel.example.com/search", "POST https://novel.example.com/search"}
	if len(seen) != len(want) {
		t.Fatalf("requests = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}
