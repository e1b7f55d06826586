// Package gate clears server-side age-verification interstitials.
//
// A Negotiator probes an origin once, and when a gate page is detected it
// tries to obtain an access cookie by following an authorization redirect,
// submitting the gate form, or requesting the origin root. The outcome is
// cached per origin in a State owned by the caller, so each origin is
// negotiated at most once for the lifetime of that State.
package gate

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Origin is the lower-cased scheme://host[:port] a token is scoped to.
type Origin string

// OriginOf returns the origin of u.
func OriginOf(u *url.URL) Origin {
	return Origin(strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host))
}

// ParseOrigin parses rawURL and returns its origin.
func ParseOrigin(rawURL string) (Origin, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return OriginOf(u), nil
}

// Root returns the bare root URL of the origin.
func (o Origin) Root() string {
	return string(o) + "/"
}

// Entry is the cached negotiation result of one origin.
type Entry struct {
	// Token is the Cookie header value proving the gate was passed.
	// Empty when no token was needed or none could be obtained.
	Token string

	// Attempted is true once negotiation for the origin has run.
	Attempted bool

	// Result is the terminal state the negotiation ended in.
	Result Result
	// NegotiatedAt is when the negotiation finished.
	NegotiatedAt time.Time
}

// State maps origins to their negotiation entries. The zero value is not
// usable; construct with NewState.
type State struct {
	mu      sync.RWMutex
	entries map[Origin]Entry
}

// NewState creates an empty gate state.
func NewState() *State {
	return &State{entries: make(map[Origin]Entry)}
}

// Get returns the entry for origin.
func (s *State) Get(origin Origin) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[origin]
	return e, ok
}

// Token returns the cached token of origin, if any.
func (s *State) Token(origin Origin) string {
	e, _ := s.Get(origin)
	return e.Token
}

// Attempted reports whether origin has already been negotiated.
func (s *State) Attempted(origin Origin) bool {
	e, _ := s.Get(origin)
	return e.Attempted
}

// record stores the final result of a negotiation. Token and the attempted
// flag are written together; an origin that is already attempted keeps its
// first entry.
func (s *State) record(origin Origin, result Result, token string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[origin]; ok && e.Attempted {
		return e
	}
	e := Entry{
		Token:        token,
		Attempted:    true,
		Result:       result,
		NegotiatedAt: time.Now(),
	}
	s.entries[origin] = e
	return e
}

// Origins returns all origins with an entry.
func (s *State) Origins() []Origin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Origin, 0, len(s.entries))
	for o := range s.entries {
		out = append(out, o)
	}
	return out
}
