// Google login flows.
//
// The popup variant launches the system browser against the backend's
// /auth/google target and waits on a disposable oauth.Handshake: the
// provider callback lands on the local loopback server, is matched by state
// token, and settles the attempt with exactly one of the four outcomes. A
// bounded session poll and an absolute timeout guard against a browser that
// never comes back, so the caller can never hang in a loading state.
//
// The redirect variant only builds the navigation target; the hosting web
// layer consumes oauth.NextStepFor on its callback page.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unizar-ia/thesis-assistant-client/internal/oauth"
)

// GoogleOptions tunes one browser login attempt.
type GoogleOptions struct {
	// ForceAccountSelection makes the provider show its account chooser.
	ForceAccountSelection bool
}

// LoginWithGoogle runs the popup-style flow end to end and resolves exactly
// once. Outcomes:
//   - success: the session is refreshed and the Result is empty;
//   - requires registration/verification: the Result flags it with the
//     provider-supplied email (verification emails are persisted);
//   - provider error, launch failure, or timeout: a recoverable error.
func (m *Manager) LoginWithGoogle(ctx context.Context, opts GoogleOptions) (*Result, error) {
	tr := otel.Tracer("session/Manager")
	ctx, span := tr.Start(ctx, "LoginWithGoogle",
		trace.WithAttributes(attribute.Bool("oauth.force_select", opts.ForceAccountSelection)),
	)
	defer span.End()

	if m.registry == nil {
		return nil, errors.New("browser login is not configured")
	}

	h := oauth.NewHandshake()
	m.registry.Register(h)
	defer m.registry.Unregister(h)

	authURL := m.apiClient.GoogleAuthURL(opts.ForceAccountSelection, h.State(), m.callbackURL)
	if err := m.openBrowser(authURL); err != nil {
		m.log.Warn().Err(err).Msg("browser launch failed")
		return nil, ErrBrowserLaunch
	}

	// While waiting for the callback, periodically re-check the session:
	// if the cookie landed without the callback reaching us (opener lost,
	// in web terms), the attempt still resolves.
	poll := func(ctx context.Context) (oauth.Outcome, bool) {
		me, err := m.apiClient.Me(ctx)
		if err == nil && me != nil && me.IsAuthenticated {
			return oauth.Outcome{Type: oauth.OutcomeSuccess}, true
		}
		return oauth.Outcome{}, false
	}

	out := h.Await(ctx, m.oauthTimeout, m.pollInterval, poll)
	span.SetAttributes(attribute.String("oauth.outcome", out.Type))

	switch out.Type {
	case oauth.OutcomeSuccess:
		m.Refresh(ctx)
		return &Result{}, nil
	case oauth.OutcomeRequiresRegistration:
		return &Result{RequiresRegistration: true, Email: out.Email}, nil
	case oauth.OutcomeRequiresVerification:
		m.rememberPending(ctx, out.Email)
		return &Result{RequiresVerification: true, Email: out.Email}, nil
	default:
		if out.Err == "" {
			out.Err = "authentication failed"
		}
		return nil, fmt.Errorf("google login: %s", out.Err)
	}
}

// GoogleRedirectURL builds the full-page navigation target for the redirect
// variant. No state token is attached: the backend drives the callback page
// directly and oauth.NextStepFor routes the user afterwards.
func (m *Manager) GoogleRedirectURL(opts GoogleOptions) string {
	return m.apiClient.GoogleAuthURL(opts.ForceAccountSelection, "", "")
}
