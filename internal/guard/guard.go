// Package guard decides whether a navigation target may be shown for a
// given session snapshot. It is a pure function of its inputs: no I/O, no
// side effects, so hosting layers (web routes, the CLI loop) can call it on
// every transition.
package guard

import "github.com/unizar-ia/thesis-assistant-client/internal/session"

// Action is what the host should do with the requested route.
type Action string

const (
	// ActionAllow renders the requested route.
	ActionAllow Action = "allow"
	// ActionWait keeps the current view while the session is still being
	// restored. Redirecting here would bounce users with a valid cookie.
	ActionWait Action = "wait"
	// ActionRedirect sends the user to Decision.Target instead.
	ActionRedirect Action = "redirect"
)

// DefaultLanding is where authenticated users land when a route is not for
// them.
const DefaultLanding = "/"

// LoginRoute is where anonymous users are sent to authenticate.
const LoginRoute = "/login"

// Requirement describes what a route demands of the session.
type Requirement struct {
	RequireAuth  bool
	RequireAdmin bool
}

// Decision is the guard's verdict.
type Decision struct {
	Action Action
	// Target is the redirect destination; set only for ActionRedirect.
	Target string
	// ReturnTo carries the originally requested path so the login flow can
	// send the user back after authenticating. Set only when redirecting an
	// anonymous user to the login route.
	ReturnTo string
}

// Evaluate applies the route rules to a session snapshot.
//
// While the session is uninitialized or loading the answer is always wait,
// never redirect: the cookie check has not finished yet. Anonymous users are
// bounced to the login route with the requested path preserved. Admin-only
// routes silently land non-admins on the default page rather than exposing
// that the route exists.
func Evaluate(snap session.Snapshot, req Requirement, requestedPath string) Decision {
	switch snap.Phase {
	case session.PhaseUninitialized, session.PhaseLoading:
		if req.RequireAuth || req.RequireAdmin {
			return Decision{Action: ActionWait}
		}
		return Decision{Action: ActionAllow}
	}

	needsAuth := req.RequireAuth || req.RequireAdmin
	if needsAuth && !snap.IsAuthenticated() {
		return Decision{
			Action:   ActionRedirect,
			Target:   LoginRoute,
			ReturnTo: requestedPath,
		}
	}
	if req.RequireAdmin && !snap.IsAdmin() {
		return Decision{Action: ActionRedirect, Target: DefaultLanding}
	}
	return Decision{Action: ActionAllow}
}
