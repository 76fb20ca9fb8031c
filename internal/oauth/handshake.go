// Package oauth implements the browser-based login handshake.
//
// A web frontend runs this flow in a popup window that posts its outcome back
// to the opener via an origin-checked message. The client-side analog here:
// the system browser is sent to the provider, the provider calls back into a
// loopback HTTP server, and the callback is matched to the originating
// attempt through a random state token (the origin check's equivalent).
//
// Each attempt is one Handshake: a disposable mailbox that resolves exactly
// once with one of four outcomes (success, error, requires-registration,
// requires-verification), a bounded poll, or the absolute timeout. All
// listeners and timers are torn down on first settlement, so a late or
// duplicate callback can never resolve the same attempt twice.
package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome types, matching the frontend's cross-window message contract.
const (
	OutcomeSuccess              = "OAUTH_SUCCESS"
	OutcomeError                = "OAUTH_ERROR"
	OutcomeRequiresRegistration = "OAUTH_REQUIRES_REGISTRATION"
	OutcomeRequiresVerification = "OAUTH_REQUIRES_VERIFICATION"
)

// Outcome is the terminal result of one login attempt.
type Outcome struct {
	// Type is one of the Outcome* constants.
	Type string
	// Email is set for the requires-registration/verification outcomes.
	Email string
	// Err carries the provider or flow error for OutcomeError.
	Err string
}

// Handshake is the mailbox for a single login attempt.
type Handshake struct {
	state string

	once sync.Once
	ch   chan Outcome
}

// NewHandshake creates a mailbox with a fresh random state token.
func NewHandshake() *Handshake {
	return &Handshake{
		state: uuid.NewString(),
		ch:    make(chan Outcome, 1),
	}
}

// State returns the attempt's token. It must be threaded through the
// provider redirect and echoed on the callback.
func (h *Handshake) State() string { return h.state }

// Deliver hands a callback outcome to the mailbox. Outcomes carrying a wrong
// state token are ignored, exactly as a message from a foreign origin would
// be. Returns whether the outcome was accepted (a second delivery for the
// same attempt reports false).
func (h *Handshake) Deliver(state string, o Outcome) bool {
	if state != h.state {
		return false
	}
	return h.resolve(o)
}

// resolve settles the mailbox at most once.
func (h *Handshake) resolve(o Outcome) bool {
	settled := false
	h.once.Do(func() {
		h.ch <- o
		settled = true
	})
	return settled
}

// PollFunc is an out-of-band liveness check run while waiting for the
// callback. Returning ok=true settles the attempt with the given outcome
// (e.g. the session became authenticated behind our back).
type PollFunc func(ctx context.Context) (Outcome, bool)

// Await blocks until the attempt settles: a delivered callback, a positive
// poll, the absolute timeout, or context cancellation. Timers are always
// stopped before returning; exactly one outcome is ever returned per
// handshake.
func (h *Handshake) Await(ctx context.Context, timeout, pollInterval time.Duration, poll PollFunc) Outcome {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var tick *time.Ticker
	var tickC <-chan time.Time
	if poll != nil && pollInterval > 0 {
		tick = time.NewTicker(pollInterval)
		defer tick.Stop()
		tickC = tick.C
	}

	for {
		select {
		case o := <-h.ch:
			return o
		case <-tickC:
			if o, ok := poll(ctx); ok {
				// Route through resolve so a racing callback delivery
				// cannot also win; read back the settled value.
				h.resolve(o)
				return <-h.ch
			}
		case <-deadline.C:
			h.resolve(Outcome{Type: OutcomeError, Err: "authentication timed out"})
			return <-h.ch
		case <-ctx.Done():
			h.resolve(Outcome{Type: OutcomeError, Err: "authentication cancelled"})
			return <-h.ch
		}
	}
}
