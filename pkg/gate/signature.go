package gate

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sternrassler/gatefetch/pkg/transport"
)

// Default gate markers for Japanese age-verification interstitials.
var (
	DefaultBodyMarkers     = []string{`年齢確認|18歳以上|年齢を確認`}
	DefaultURLMarkers      = []string{`ageauth|age_confirm|agecheck`}
	DefaultRedirectPattern = `(?i)https?://[^"'<>\s]*ageauth[^"'<>\s]*`
)

// Probe describes whether a fetched page is a gate page and how it might be
// cleared.
type Probe struct {
	Gated bool

	// RedirectURL is an authorization link found in the gate page.
	RedirectURL string

	// Form is the first form of the gate page, if any.
	Form *Form
}

// Field is one named form input.
type Field struct {
	Name  string
	Value string
}

// Form is a discovered HTML form with its action resolved to an absolute URL.
type Form struct {
	Action string
	Fields []Field
}

// Encode returns the fields as application/x-www-form-urlencoded data,
// preserving document order.
func (f *Form) Encode() string {
	var b strings.Builder
	for i, field := range f.Fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(field.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(field.Value))
	}
	return b.String()
}

// Signature recognizes one style of gate page.
type Signature interface {
	Detect(resp *transport.Response, requestURL string) Probe
}

// Signatures tries each signature in order; the first gated detection wins.
type Signatures []Signature

// Detect implements Signature.
func (s Signatures) Detect(resp *transport.Response, requestURL string) Probe {
	for _, sig := range s {
		if p := sig.Detect(resp, requestURL); p.Gated {
			return p
		}
	}
	return Probe{}
}

// PatternSignature detects gates with regular expressions over the body and
// final URL, and extracts the clearing form with goquery.
type PatternSignature struct {
	BodyMarkers     []*regexp.Regexp
	URLMarkers      []*regexp.Regexp
	RedirectPattern *regexp.Regexp
}

// NewPatternSignature compiles a pattern signature. An empty redirect
// pattern disables redirect discovery.
func NewPatternSignature(bodyMarkers, urlMarkers []string, redirectPattern string) (*PatternSignature, error) {
	sig := &PatternSignature{}
	for _, expr := range bodyMarkers {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile body marker %q: %w", expr, err)
		}
		sig.BodyMarkers = append(sig.BodyMarkers, re)
	}
	for _, expr := range urlMarkers {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile url marker %q: %w", expr, err)
		}
		sig.URLMarkers = append(sig.URLMarkers, re)
	}
	if redirectPattern != "" {
		re, err := regexp.Compile(redirectPattern)
		if err != nil {
			return nil, fmt.Errorf("compile redirect pattern %q: %w", redirectPattern, err)
		}
		sig.RedirectPattern = re
	}
	return sig, nil
}

// DefaultSignature returns the signature for the Japanese age gate.
func DefaultSignature() *PatternSignature {
	sig, err := NewPatternSignature(DefaultBodyMarkers, DefaultURLMarkers, DefaultRedirectPattern)
	if err != nil {
		panic(err)
	}
	return sig
}

// Detect implements Signature.
func (s *PatternSignature) Detect(resp *transport.Response, requestURL string) Probe {
	if resp == nil {
		return Probe{}
	}
	finalURL := resp.FinalURL(requestURL)
	if !s.matches(resp.Body, finalURL) {
		return Probe{}
	}

	probe := Probe{Gated: true}
	if s.RedirectPattern != nil {
		if m := s.RedirectPattern.Find(resp.Body); m != nil {
			probe.RedirectURL = html.UnescapeString(string(m))
		}
	}
	probe.Form = FirstForm(resp.Body, finalURL)
	return probe
}

func (s *PatternSignature) matches(body []byte, finalURL string) bool {
	for _, re := range s.BodyMarkers {
		if re.Match(body) {
			return true
		}
	}
	for _, re := range s.URLMarkers {
		if re.MatchString(finalURL) {
			return true
		}
	}
	return false
}

// FirstForm extracts the first form of body. The action is resolved against
// pageURL and defaults to pageURL when absent. Every input with a name
// attribute is included with its default value.
func FirstForm(body []byte, pageURL string) *Form {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	sel := doc.Find("form").First()
	if sel.Length() == 0 {
		return nil
	}

	form := &Form{Action: pageURL}
	if action := strings.TrimSpace(sel.AttrOr("action", "")); action != "" {
		form.Action = resolve(pageURL, action)
	}
	sel.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name := in.AttrOr("name", "")
		if name == "" {
			return
		}
		form.Fields = append(form.Fields, Field{Name: name, Value: in.AttrOr("value", "")})
	})
	return form
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
