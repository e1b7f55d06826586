// Package transport defines the raw HTTP collaborator used by the gated client
// and provides a net/http backed implementation.
//
// A Transport executes exactly one logical request and returns the response
// with a fully buffered body and a normalized, multi-valued header map. Every
// Set-Cookie value observed while following redirects is present in
// Response.Header, so callers never special-case header shapes.
package transport

import (
	"context"
	"net/http"
	"net/url"
)

// Transport executes a single HTTP request.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a plain function to the Transport interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Do calls f(ctx, req).
func (f Func) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Request describes one outbound request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy of the request so decorators can modify headers
// without touching the caller's value.
func (r *Request) Clone() *Request {
	c := &Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
	}
	if c.Header == nil {
		c.Header = http.Header{}
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int

	// Header holds the final response headers. Set-Cookie additionally
	// contains the values sent by every redirect hop, in order.
	Header http.Header

	Body []byte

	// URL is the final URL after redirects.
	URL *url.URL
}

// SetCookies returns every Set-Cookie value of the response.
func (r *Response) SetCookies() []string {
	if r == nil || r.Header == nil {
		return nil
	}
	return r.Header.Values("Set-Cookie")
}

// FinalURL returns the final URL as a string, or fallback when unknown.
func (r *Response) FinalURL(fallback string) string {
	if r == nil || r.URL == nil {
		return fallback
	}
	return r.URL.String()
}
