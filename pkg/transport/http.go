package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Defaults for HTTPTransport.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 8 * 1024 * 1024
	DefaultMaxRedirects = 10
)

// Options controls the HTTP transport.
type Options struct {
	// Timeout bounds a single hop of a request.
	Timeout time.Duration

	// MaxBodyBytes caps the decoded body size.
	MaxBodyBytes int64

	// MaxRedirects is the number of redirect hops followed per request.
	MaxRedirects int

	// ProxyURL routes requests through an HTTP proxy when set.
	ProxyURL string

	// HTTPClient replaces the internally built client (for testing).
	// Its CheckRedirect is overridden: redirects are followed by the transport.
	HTTPClient *http.Client
}

// HTTPTransport implements Transport with net/http. Redirects are followed
// manually so Set-Cookie values of intermediate hops are not lost.
type HTTPTransport struct {
	client       *http.Client
	maxBodyBytes int64
	maxRedirects int
}

// NewHTTPTransport builds an HTTP transport from opts.
func NewHTTPTransport(opts Options) (*HTTPTransport, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}

	var client http.Client
	if opts.HTTPClient != nil {
		client = *opts.HTTPClient
	} else {
		base := &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			Proxy:                 http.ProxyFromEnvironment,
		}
		if strings.TrimSpace(opts.ProxyURL) != "" {
			proxyURL, err := url.Parse(opts.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("parse proxy url: %w", err)
			}
			base.Proxy = http.ProxyURL(proxyURL)
		}
		client = http.Client{Timeout: opts.Timeout, Transport: base}
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &HTTPTransport{
		client:       &client,
		maxBodyBytes: opts.MaxBodyBytes,
		maxRedirects: opts.MaxRedirects,
	}, nil
}

// Do executes req, following redirects.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	body := req.Body
	current := req.URL

	// The caller's Cookie belongs to the origin host and is only sent there.
	callerCookie := header.Get("Cookie")
	header.Del("Cookie")
	var originHost string

	var hopCookies []string
	forwarded := make(map[string][]string)

	for hop := 0; ; hop++ {
		httpReq, err := newHTTPRequest(ctx, method, current, header, body)
		if err != nil {
			return nil, &Error{Op: "build", URL: current, Class: ErrorClassNetwork, Err: err}
		}
		if hop == 0 {
			originHost = httpReq.URL.Host
		}
		if callerCookie != "" && httpReq.URL.Host == originHost {
			httpReq.Header.Set("Cookie", callerCookie)
		}
		if pairs := forwarded[httpReq.URL.Host]; len(pairs) > 0 {
			AppendCookie(httpReq.Header, strings.Join(pairs, "; "))
		}

		resp, err := t.client.Do(httpReq)
		if err != nil {
			return nil, Wrap(method, current, err)
		}

		location := resp.Header.Get("Location")
		if isRedirect(resp.StatusCode) && location != "" {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
			_ = resp.Body.Close()

			setCookies := resp.Header.Values("Set-Cookie")
			hopCookies = append(hopCookies, setCookies...)
			for _, line := range setCookies {
				if name, value, ok := CookiePair(line); ok {
					forwarded[httpReq.URL.Host] = append(forwarded[httpReq.URL.Host], name+"="+value)
				}
			}

			if hop >= t.maxRedirects {
				return nil, &Error{Op: method, URL: current, Class: ErrorClassNetwork, Err: ErrTooManyRedirects}
			}
			next, err := httpReq.URL.Parse(location)
			if err != nil {
				return nil, &Error{Op: method, URL: current, Class: ErrorClassNetwork, Err: fmt.Errorf("parse location %q: %w", location, err)}
			}
			if resp.StatusCode == http.StatusSeeOther ||
				(method == http.MethodPost && (resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently)) {
				method = http.MethodGet
				body = nil
				header.Del("Content-Type")
			}
			current = next.String()
			continue
		}

		data, err := t.readBody(resp)
		if err != nil {
			return nil, &Error{Op: method, URL: current, Class: Classify(err), Err: err}
		}

		out := &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       data,
			URL:        httpReq.URL,
		}
		// Body is decoded.
		out.Header.Del("Content-Encoding")
		out.Header.Del("Content-Length")
		if len(hopCookies) > 0 {
			final := out.Header.Values("Set-Cookie")
			out.Header.Del("Set-Cookie")
			for _, v := range append(hopCookies, final...) {
				out.Header.Add("Set-Cookie", v)
			}
		}
		return out, nil
	}
}

func newHTTPRequest(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header = header.Clone()
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	return httpReq, nil
}

func (t *HTTPTransport) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	data, err := io.ReadAll(io.LimitReader(reader, t.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > t.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", t.maxBodyBytes)
	}
	return data, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// CookiePair extracts the name and value of a Set-Cookie line.
func CookiePair(line string) (name, value string, ok bool) {
	if c, err := http.ParseSetCookie(line); err == nil && c.Name != "" {
		return c.Name, c.Value, true
	}
	// ParseSetCookie rejects some values browsers accept; fall back to the
	// leading name=value segment.
	first, _, _ := strings.Cut(line, ";")
	name, value, found := strings.Cut(strings.TrimSpace(first), "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(value), true
}

// AppendCookie appends pairs to the Cookie header of h, keeping any value
// already present.
func AppendCookie(h http.Header, pairs string) {
	if pairs == "" {
		return
	}
	if existing := h.Get("Cookie"); existing != "" {
		h.Set("Cookie", existing+"; "+pairs)
		return
	}
	h.Set("Cookie", pairs)
}
