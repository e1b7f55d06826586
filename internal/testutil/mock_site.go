// Package testutil provides a configurable mock site with an optional
// age gate for testing the gated client.
package testutil

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// GateMode selects how the mock age gate is cleared.
type GateMode int

const (
	// GateOff serves content without a gate.
	GateOff GateMode = iota

	// GateRedirect serves a gate page linking to /ageauth, which sets the
	// cookie and redirects back.
	GateRedirect

	// GateForm serves a gate page with a form posting to /confirm.
	GateForm

	// GateRootCookie serves a gate page without link or form; only the
	// origin root hands out the cookie.
	GateRootCookie

	// GateStuck serves a gate page that cannot be cleared.
	GateStuck
)

// MockResponse defines the behavior of a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	SetCookies []string
	Delay      time.Duration

	// Drop closes the connection without a response.
	Drop bool
}

// RecordedRequest is one request received by the mock site.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Cookie string
	Header http.Header
	Body   string
}

// MockSite is a configurable mock novel site.
type MockSite struct {
	server *httptest.Server

	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	paged    map[string]map[int]MockResponse
	requests []RecordedRequest

	gateMode    GateMode
	cookieName  string
	cookieValue string
}

// NewMockSite starts a mock site without a gate.
func NewMockSite() *MockSite {
	m := &MockSite{
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		paged:       make(map[string]map[int]MockResponse),
		cookieName:  "over18",
		cookieValue: "yes",
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the base URL of the site.
func (m *MockSite) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MockSite) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockSite) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetGate enables the age gate in the given mode. Content is only served to
// requests carrying name=value in their Cookie header.
func (m *MockSite) SetGate(mode GateMode, name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateMode = mode
	m.cookieName = name
	m.cookieValue = value
}

// SetHandler sets a custom handler for path.
func (m *MockSite) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for path.
func (m *MockSite) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetPages configures per-page responses for path, selected by the p query
// parameter. A request without p is served page 1.
func (m *MockSite) SetPages(path string, pages map[int]MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paged[path] = pages
}

// Requests returns a copy of all recorded requests.
func (m *MockSite) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests received.
func (m *MockSite) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// PathCount returns the number of requests received for path.
func (m *MockSite) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (m *MockSite) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Cookie: r.Header.Get("Cookie"),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	mode, name, value := m.gateMode, m.cookieName, m.cookieValue
	handler, hasHandler := m.handlers[r.URL.Path]
	pages, hasPages := m.paged[r.URL.Path]
	m.mu.Unlock()

	cookie := name + "=" + value
	switch r.URL.Path {
	case "/ageauth":
		if mode == GateRedirect {
			http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/"})
			back := r.URL.Query().Get("url")
			if back == "" {
				back = "/"
			}
			http.Redirect(w, r, back, http.StatusFound)
			return
		}
	case "/confirm":
		if mode == GateForm && r.Method == http.MethodPost {
			form, _ := url.ParseQuery(string(body))
			if form.Get("age") == "yes" {
				http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/"})
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	case "/":
		if mode == GateRootCookie {
			http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
	}

	gated := mode != GateOff && r.URL.Path != "/" && !strings.Contains(r.Header.Get("Cookie"), cookie)
	if gated {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, m.gatePage(mode, r))
		return
	}

	switch {
	case hasHandler:
		handler(w, r)
	case hasPages:
		page := 1
		if p, err := strconv.Atoi(r.URL.Query().Get("p")); err == nil {
			page = p
		}
		resp, ok := pages[page]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeResponse(w, resp)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "<html><body><p>ok</p></body></html>")
	}
}

func (m *MockSite) gatePage(mode GateMode, r *http.Request) string {
	back := url.QueryEscape(r.URL.RequestURI())
	switch mode {
	case GateRedirect:
		return GatePageWithLink(m.server.URL + "/ageauth?url=" + back)
	case GateForm:
		return GatePageWithForm("/confirm", "age", "yes", "back", r.URL.RequestURI())
	default:
		return GatePage("")
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	if resp.Drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	for _, c := range resp.SetCookies {
		w.Header().Add("Set-Cookie", c)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		io.WriteString(w, resp.Body)
	}
}

// GatePage returns a gate page with the given extra markup.
func GatePage(inner string) string {
	return "<html><head><title>年齢確認</title></head><body><p>18歳以上ですか？</p>" + inner + "</body></html>"
}

// GatePageWithLink returns a gate page linking to the authorization URL.
func GatePageWithLink(authURL string) string {
	return GatePage(fmt.Sprintf(`<a href="%s">はい</a>`, html.EscapeString(authURL)))
}

// GatePageWithForm returns a gate page with a form posting to action.
// Fields are given as name, value pairs.
func GatePageWithForm(action string, fields ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<form method="post" action="%s">`, html.EscapeString(action))
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, `<input type="hidden" name="%s" value="%s">`, html.EscapeString(fields[i]), html.EscapeString(fields[i+1]))
	}
	b.WriteString(`<input type="submit" value="Enter"></form>`)
	return GatePage(b.String())
}

// ChapterListPage renders a chapter list page in the Nocturne layout. When
// lastPage > 1 a pager with a last-page link is included.
func ChapterListPage(novelPath string, lastPage int, chapters ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><h1 class="p-novel__title">Test Novel</h1>`)
	b.WriteString(`<div class="p-novel__author">作者：Tester</div>`)
	b.WriteString(`<div class="c-announce">連載中</div><div id="novel_ex">Summary</div>`)
	for i, name := range chapters {
		fmt.Fprintf(&b, `<div class="p-eplist__sublist"><a href="%s%d/">%s</a><div class="p-eplist__update">2024/01/%02d 10:00</div></div>`,
			novelPath, i+1, html.EscapeString(name), i+1)
	}
	if lastPage > 1 {
		fmt.Fprintf(&b, `<div class="c-pager"><a class="c-pager__item--last" href="%s?p=%d">最後へ</a></div>`, novelPath, lastPage)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}
