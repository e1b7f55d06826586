package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/gatefetch/internal/testutil"
	"github.com/Sternrassler/gatefetch/pkg/client"
	"github.com/Sternrassler/gatefetch/pkg/novel"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func newTestClient(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(client.DefaultConfig("gatefetch-test/1.0"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	c.SetLogger(zerolog.Nop())
	return c
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		cache  pinger
		status int
	}{
		{"no_cache", nil, http.StatusOK},
		{"cache_up", fakePinger{}, http.StatusOK},
		{"not_ready_redis_down", fakePinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ready", nil)
			w := httptest.NewRecorder()

			readyHandler(tt.cache)(w, req)

			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestFetchHandler(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetGate(testutil.GateRedirect, "over18", "yes")
	site.SetResponse("/n1/", testutil.MockResponse{
		Body:       "<html><body>novel page</body></html>",
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
		SetCookies: []string{"session=abc"},
	})

	mux := newMux(newTestClient(t), nil, 5*time.Second, zerolog.Nop())

	t.Run("gated_page", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/fetch?url="+url.QueryEscape(site.URL()+"/n1/"), nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "novel page") {
			t.Errorf("Expected proxied content, got %q", w.Body.String())
		}
		if got := w.Header().Get(headerGate); got != "token_acquired" {
			t.Errorf("%s = %q, want token_acquired", headerGate, got)
		}
		if got := w.Header().Get(headerGateBlocked); got != "false" {
			t.Errorf("%s = %q, want false", headerGateBlocked, got)
		}
		if got := w.Header().Values("Set-Cookie"); len(got) != 0 {
			t.Errorf("Set-Cookie forwarded: %v", got)
		}
		if got := w.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
			t.Errorf("Content-Type = %q", got)
		}
	})

	t.Run("missing_url", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", "/fetch", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("invalid_url", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", "/fetch?url="+url.QueryEscape("ftp://example.com/"), nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("method_not_allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("POST", "/fetch?url=x", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", w.Code)
		}
	})

	t.Run("upstream_unreachable", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		deadURL := dead.URL
		dead.Close()

		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", "/fetch?url="+url.QueryEscape(deadURL+"/n1/"), nil))
		if w.Code != http.StatusBadGateway {
			t.Errorf("Expected status 502, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()

	c := newTestClient(t)
	if _, err := c.FetchPage(context.Background(), site.URL()+"/n1/"); err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	mux := newMux(c, nil, time.Second, zerolog.Nop())
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "# HELP") || !strings.Contains(body, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	for _, name := range []string{"gate_negotiations_total", "gated_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(buf.String(), "gatefetch version: "+Version) {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestFetchCommand(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetGate(testutil.GateForm, "over18", "yes")
	site.SetResponse("/n2/1/", testutil.MockResponse{Body: "<p>chapter text</p>"})

	t.Setenv("GATEFETCH_REDIS_ADDR", "")
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"fetch", "--log-level", "error", site.URL() + "/n2/1/"})
	defer func() {
		rootCmd.SetArgs(nil)
		flagLogLevel = ""
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(buf.String(), "chapter text") {
		t.Errorf("fetch output = %q, want chapter text", buf.String())
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	flagLogLevel = "loud"
	defer func() { flagLogLevel = "" }()

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error for invalid log level flag")
	}
}

func TestPrintItems(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)

	items := []novel.Item{
		{Name: "First Novel", Path: "/n1/"},
		{Name: "Second Novel", Path: "/n2/"},
	}
	if err := printItems(cmd, items); err != nil {
		t.Fatalf("printItems() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"First Novel", "/n1/", "Second Novel", "/n2/"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "First Novel") > strings.Index(out, "Second Novel") {
		t.Error("rows printed out of order")
	}
}

func TestPrintItems_Empty(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	if err := printItems(cmd, nil); err != nil {
		t.Fatalf("printItems() error = %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no table output, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "no novels found") {
		t.Errorf("expected warning, got %q", errOut.String())
	}
}
