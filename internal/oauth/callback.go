// Callback handling shared by the popup-style flow (loopback server) and the
// redirect variant (full-page navigation handled by a hosting web layer).
package oauth

import (
	"net/url"
	"sync"
)

// ParseCallback classifies the provider callback's query parameters into an
// Outcome. The parameter contract is owned by the backend:
//
//	error=<reason>            → OutcomeError
//	success=true              → OutcomeSuccess
//	requiresVerification=true → OutcomeRequiresVerification (email required)
//	requiresRegistration=true → OutcomeRequiresRegistration (email required)
//	email=<addr>              → OutcomeRequiresRegistration (legacy fallback)
func ParseCallback(q url.Values) Outcome {
	email := q.Get("email")
	switch {
	case q.Get("error") != "":
		return Outcome{Type: OutcomeError, Err: q.Get("error")}
	case q.Get("success") == "true":
		return Outcome{Type: OutcomeSuccess}
	case q.Get("requiresVerification") == "true" && email != "":
		return Outcome{Type: OutcomeRequiresVerification, Email: email}
	case q.Get("requiresRegistration") == "true" && email != "":
		return Outcome{Type: OutcomeRequiresRegistration, Email: email}
	case email != "":
		// Older backends omit the flag and send only the email.
		return Outcome{Type: OutcomeRequiresRegistration, Email: email}
	default:
		return Outcome{Type: OutcomeError, Err: "unknown authentication outcome"}
	}
}

// NextStep is the navigation target computed for the redirect variant, where
// the hosting page must forward the user instead of messaging an opener.
type NextStep struct {
	// Route is the app-internal destination ("/login", "/register",
	// "/verification", or the originally requested path).
	Route string
	// Query carries pre-filled parameters (email, error, redirect).
	Query url.Values
}

// NextStepFor maps an outcome to the page the user should land on,
// preserving the originally requested redirect target. redirect may be ""
// and defaults to the root.
func NextStepFor(o Outcome, redirect string) NextStep {
	if redirect == "" {
		redirect = "/"
	}
	switch o.Type {
	case OutcomeSuccess:
		return NextStep{Route: redirect, Query: url.Values{}}
	case OutcomeRequiresRegistration:
		q := url.Values{"google": {"1"}, "email": {o.Email}}
		if redirect != "/" {
			q.Set("redirect", redirect)
		}
		return NextStep{Route: "/register", Query: q}
	case OutcomeRequiresVerification:
		q := url.Values{"email": {o.Email}}
		if redirect != "/" {
			q.Set("redirect", redirect)
		}
		return NextStep{Route: "/verification", Query: q}
	default:
		return NextStep{Route: "/login", Query: url.Values{"error": {o.Err}}}
	}
}

// Registry routes provider callbacks to the in-flight attempt they belong
// to, keyed by state token. It is the loopback server's dispatch table.
type Registry struct {
	mu       sync.Mutex
	attempts map[string]*Handshake
}

// NewRegistry returns an empty dispatch table.
func NewRegistry() *Registry {
	return &Registry{attempts: make(map[string]*Handshake)}
}

// Register adds an attempt under its state token.
func (r *Registry) Register(h *Handshake) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[h.State()] = h
}

// Unregister removes an attempt; callers do this once the attempt settles.
func (r *Registry) Unregister(h *Handshake) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, h.State())
}

// Dispatch parses a callback query and delivers it to the matching attempt.
// Callbacks with no matching state are dropped, like a message from an
// unexpected origin. Reports whether an attempt accepted the outcome.
func (r *Registry) Dispatch(q url.Values) bool {
	state := q.Get("state")
	r.mu.Lock()
	h, ok := r.attempts[state]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return h.Deliver(state, ParseCallback(q))
}
