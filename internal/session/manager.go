// Package session – Manager
//
// The Manager is the single source of truth for "who is the current user".
// It drives the state machine
//
//	uninitialized → loading → {authenticated | anonymous}
//
// where any state except uninitialized may re-enter loading on an explicit
// refresh, and authenticated drops to anonymous on logout. The Identity
// value is owned exclusively by the Manager: it is replaced wholesale on
// every refresh and cleared entirely on logout or an unrecoverable check.
// Consumers only ever see it through snapshots and treat it as read-only.
//
// Failure semantics: bad credentials, invalid codes, and provider errors are
// recoverable and surfaced to the caller; the negative "who am I" check is
// deliberately silent, because an anonymous visitor is an expected terminal
// state, not a failure.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/unizar-ia/thesis-assistant-client/internal/api"
	"github.com/unizar-ia/thesis-assistant-client/internal/domain"
	"github.com/unizar-ia/thesis-assistant-client/internal/oauth"
)

// Phase is the session state tag.
type Phase string

// Session phases.
const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseLoading       Phase = "loading"
	PhaseAuthenticated Phase = "authenticated"
	PhaseAnonymous     Phase = "anonymous"
)

// Snapshot is an immutable view of the session state. Identity is non-nil
// exactly when Phase is authenticated.
type Snapshot struct {
	Phase    Phase
	Identity *domain.Identity
}

// IsAuthenticated reports whether a user is signed in.
func (s Snapshot) IsAuthenticated() bool { return s.Phase == PhaseAuthenticated }

// IsAdmin reports whether the signed-in user carries the admin role.
func (s Snapshot) IsAdmin() bool { return s.Identity.IsAdmin() }

// AuthAPI is the backend surface the Manager depends on.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type AuthAPI interface {
	// Me performs the ambient-credential "who am I" check.
	Me(ctx context.Context) (*api.MeResponse, error)
	// Login submits email/password credentials.
	Login(ctx context.Context, email, password string) (*api.AuthResponse, error)
	// Register creates an account.
	Register(ctx context.Context, email, password, displayName string) (*api.AuthResponse, error)
	// Verify exchanges a one-time email code.
	Verify(ctx context.Context, email, code string) error
	// ResendCode requests a fresh verification code.
	ResendCode(ctx context.Context, email string) (string, error)
	// Logout notifies the backend that the session ends.
	Logout(ctx context.Context) error
	// GoogleAuthURL builds the browser navigation target for Google login.
	GoogleAuthURL(forceSelect bool, state, redirectURI string) string
}

// PendingStore persists the email awaiting verification across navigations
// and restarts. It is cleared once verification succeeds.
type PendingStore interface {
	SavePendingVerification(ctx context.Context, email string) error
	PendingVerification(ctx context.Context) (string, error)
	ClearPendingVerification(ctx context.Context) error
}

// Options configures a Manager. API is required; everything else has
// serviceable defaults.
type Options struct {
	API     AuthAPI
	Pending PendingStore

	// Browser login plumbing.
	Registry    *oauth.Registry
	CallbackURL string // loopback callback, e.g. "http://127.0.0.1:8765/auth/callback"

	// OAuthTimeout is the absolute ceiling for one browser login attempt.
	OAuthTimeout time.Duration
	// PollInterval controls the out-of-band session check while waiting.
	PollInterval time.Duration

	// ResendMinInterval throttles verification-code resends.
	ResendMinInterval time.Duration

	Logger zerolog.Logger
}

// Manager implements the authentication state machine. Safe for concurrent
// use; all state lives behind one mutex.
type Manager struct {
	apiClient AuthAPI
	pending   PendingStore

	registry     *oauth.Registry
	callbackURL  string
	oauthTimeout time.Duration
	pollInterval time.Duration

	resendLimiter *rate.Limiter
	log           zerolog.Logger

	// openBrowser is a seam for tests.
	openBrowser func(string) error

	mu       sync.Mutex
	phase    Phase
	identity *domain.Identity
	subs     map[int]chan Snapshot
	nextSub  int
}

// NewManager constructs a Manager in the uninitialized phase.
func NewManager(opts Options) *Manager {
	if opts.OAuthTimeout <= 0 {
		opts.OAuthTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ResendMinInterval <= 0 {
		opts.ResendMinInterval = 30 * time.Second
	}
	return &Manager{
		apiClient:     opts.API,
		pending:       opts.Pending,
		registry:      opts.Registry,
		callbackURL:   opts.CallbackURL,
		oauthTimeout:  opts.OAuthTimeout,
		pollInterval:  opts.PollInterval,
		resendLimiter: rate.NewLimiter(rate.Every(opts.ResendMinInterval), 1),
		log:           opts.Logger.With().Str("component", "session").Logger(),
		openBrowser:   oauth.OpenBrowser,
		phase:         PhaseUninitialized,
		subs:          make(map[int]chan Snapshot),
	}
}

// Snapshot returns the current session state. The Identity inside is shared
// and must be treated as read-only by consumers.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Phase: m.phase, Identity: m.identity}
}

// Subscribe returns a channel of state snapshots and a cancel function.
// Slow consumers may miss intermediate snapshots; the latest state is always
// available via Snapshot.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, 8)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// set transitions the state machine and notifies subscribers.
func (m *Manager) set(phase Phase, identity *domain.Identity) {
	m.mu.Lock()
	m.phase = phase
	m.identity = identity
	snap := Snapshot{Phase: phase, Identity: identity}
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	m.mu.Unlock()
}

// Initialize performs the first "who am I" check. Alias of Refresh; named
// separately so boot code reads naturally.
func (m *Manager) Initialize(ctx context.Context) { m.Refresh(ctx) }

// Refresh re-queries /me with the ambient session cookie. Any
// non-authenticated response or network failure lands in anonymous without
// surfacing an error: this negative path is expected, not exceptional.
func (m *Manager) Refresh(ctx context.Context) {
	tr := otel.Tracer("session/Manager")
	ctx, span := tr.Start(ctx, "Refresh")
	defer span.End()

	m.set(PhaseLoading, nil)

	me, err := m.apiClient.Me(ctx)
	if err != nil || me == nil || !me.IsAuthenticated || me.User == nil {
		if err != nil && !api.IsUnauthorized(err) {
			m.log.Debug().Err(err).Msg("identity check failed; treating as anonymous")
		}
		m.set(PhaseAnonymous, nil)
		return
	}
	me.User.Normalize()
	span.SetAttributes(attribute.String("user.id", me.User.ID))
	m.set(PhaseAuthenticated, me.User)
}

// Result reports the outcome of a credential exchange that did not fail.
// When RequiresVerification is set the caller must route to the verification
// step, carrying Email forward; identity remains unset until then.
type Result struct {
	RequiresVerification bool
	RequiresRegistration bool
	Email                string
}

// Login submits credentials. Outcomes:
//   - immediate success: authenticated, nil Result error;
//   - requires verification: Result flags it, session stays anonymous;
//   - rejected credentials or transport failure: recoverable error, session
//     returns to anonymous.
func (m *Manager) Login(ctx context.Context, email, password string) (*Result, error) {
	tr := otel.Tracer("session/Manager")
	ctx, span := tr.Start(ctx, "Login", trace.WithAttributes(attribute.String("user.email", email)))
	defer span.End()

	resp, err := m.apiClient.Login(ctx, email, password)
	if err != nil {
		m.set(PhaseAnonymous, nil)
		return nil, err
	}
	return m.applyAuthResponse(ctx, resp)
}

// Register creates an account. The outcome contract matches Login; on a
// non-verification success the session becomes authenticated immediately.
func (m *Manager) Register(ctx context.Context, email, password, displayName string) (*Result, error) {
	tr := otel.Tracer("session/Manager")
	ctx, span := tr.Start(ctx, "Register", trace.WithAttributes(attribute.String("user.email", email)))
	defer span.End()

	resp, err := m.apiClient.Register(ctx, email, password, displayName)
	if err != nil {
		m.set(PhaseAnonymous, nil)
		return nil, err
	}
	return m.applyAuthResponse(ctx, resp)
}

// applyAuthResponse folds the shared login/register payload into state.
func (m *Manager) applyAuthResponse(ctx context.Context, resp *api.AuthResponse) (*Result, error) {
	if resp.RequiresVerification {
		m.rememberPending(ctx, resp.Email)
		m.set(PhaseAnonymous, nil)
		return &Result{RequiresVerification: true, Email: resp.Email}, nil
	}
	if resp.User != nil {
		resp.User.Normalize()
		m.set(PhaseAuthenticated, resp.User)
		return &Result{Email: resp.User.Email}, nil
	}
	// Accepted but no identity attached: fall back to a full refresh.
	m.Refresh(ctx)
	return &Result{}, nil
}

// Verify exchanges the one-time code. email may be empty, in which case the
// stored pending email is used. On success the pending record is cleared and
// the session refreshed; on an invalid or expired code the error is
// recoverable and the caller stays on the verification step.
func (m *Manager) Verify(ctx context.Context, email, code string) error {
	tr := otel.Tracer("session/Manager")
	ctx, span := tr.Start(ctx, "Verify")
	defer span.End()

	if email == "" {
		email = m.pendingEmail(ctx)
		if email == "" {
			return ErrNoPendingVerification
		}
	}
	if err := m.apiClient.Verify(ctx, email, code); err != nil {
		return err
	}
	m.clearPending(ctx)
	m.Refresh(ctx)
	return nil
}

// ResendCode requests a fresh verification code. Side-effecting only: the
// session state never changes. Resends are throttled locally.
func (m *Manager) ResendCode(ctx context.Context, email string) (string, error) {
	if !m.resendLimiter.Allow() {
		return "", ErrResendCooldown
	}
	return m.apiClient.ResendCode(ctx, email)
}

// Logout notifies the backend best-effort and unconditionally clears local
// identity: a failed network call must never leave a stale session behind.
func (m *Manager) Logout(ctx context.Context) {
	tr := otel.Tracer("session/Manager")
	ctx, span := tr.Start(ctx, "Logout")
	defer span.End()

	if err := m.apiClient.Logout(ctx); err != nil {
		m.log.Warn().Err(err).Msg("server logout failed; clearing local session anyway")
	}
	m.set(PhaseAnonymous, nil)
}

// rememberPending persists the email awaiting verification (best effort).
func (m *Manager) rememberPending(ctx context.Context, email string) {
	if m.pending == nil || email == "" {
		return
	}
	if err := m.pending.SavePendingVerification(ctx, email); err != nil {
		m.log.Warn().Err(err).Msg("could not persist pending verification email")
	}
}

// pendingEmail loads the stored pending email, "" when none.
func (m *Manager) pendingEmail(ctx context.Context) string {
	if m.pending == nil {
		return ""
	}
	email, err := m.pending.PendingVerification(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("could not read pending verification email")
		return ""
	}
	return email
}

// clearPending removes the stored pending email (best effort).
func (m *Manager) clearPending(ctx context.Context) {
	if m.pending == nil {
		return
	}
	if err := m.pending.ClearPendingVerification(ctx); err != nil {
		m.log.Warn().Err(err).Msg("could not clear pending verification email")
	}
}
