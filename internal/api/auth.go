// Authentication endpoints.
//
// All shapes are owned by the backend; this file only types them. Session
// credentials are cookie-based and ride along via the client's jar, so none
// of these calls take or return tokens.
package api

import (
	"context"
	"net/url"

	"github.com/unizar-ia/thesis-assistant-client/internal/domain"
)

// Endpoint paths on the assistant backend.
const (
	pathMe           = "/me"
	pathLogin        = "/auth/login"
	pathRegister     = "/auth/register"
	pathVerify       = "/auth/verify"
	pathVerifyResend = "/auth/verify/resend"
	pathLogout       = "/auth/logout"
	pathGoogle       = "/auth/google"
)

// MeResponse is the "who am I" payload from GET /me.
type MeResponse struct {
	IsAuthenticated bool             `json:"isAuthenticated"`
	User            *domain.Identity `json:"user,omitempty"`
}

// AuthResponse is the shared login/register payload. RequiresVerification
// signals that the caller must route to the verification step, carrying the
// echoed Email forward.
type AuthResponse struct {
	OK                   bool             `json:"ok"`
	User                 *domain.Identity `json:"user,omitempty"`
	RequiresVerification bool             `json:"requiresVerification,omitempty"`
	Email                string           `json:"email,omitempty"`
	Message              string           `json:"message,omitempty"`
}

// OKResponse is the minimal acknowledgment envelope.
type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Me issues the "who am I" check using the ambient session cookie.
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var out MeResponse
	if err := c.get(ctx, "auth.me", pathMe, &out); err != nil {
		return nil, err
	}
	out.User.Normalize()
	return &out, nil
}

// Login submits email/password credentials.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var out AuthResponse
	if err := c.post(ctx, "auth.login", pathLogin, body, &out); err != nil {
		return nil, err
	}
	out.User.Normalize()
	return &out, nil
}

// Register creates an account. The outcome contract matches Login.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (*AuthResponse, error) {
	body := map[string]string{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}
	var out AuthResponse
	if err := c.post(ctx, "auth.register", pathRegister, body, &out); err != nil {
		return nil, err
	}
	out.User.Normalize()
	return &out, nil
}

// Verify exchanges a one-time email code.
func (c *Client) Verify(ctx context.Context, email, code string) error {
	body := map[string]string{"email": email, "code": code}
	var out OKResponse
	return c.post(ctx, "auth.verify", pathVerify, body, &out)
}

// ResendCode asks the backend to send a fresh verification code.
func (c *Client) ResendCode(ctx context.Context, email string) (string, error) {
	body := map[string]string{"email": email}
	var out OKResponse
	if err := c.post(ctx, "auth.resend", pathVerifyResend, body, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Logout notifies the backend. Callers clear local state regardless of the
// returned error.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "auth.logout", pathLogout, nil, nil)
}

// GoogleAuthURL builds the browser navigation target that starts the Google
// OAuth flow. This is a full-page target, not a JSON endpoint.
//
// forceSelect adds prompt=select_account so the provider shows the account
// chooser. state and redirectURI are threaded through so the provider
// callback can be validated and routed back to the local callback server.
func (c *Client) GoogleAuthURL(forceSelect bool, state, redirectURI string) string {
	q := url.Values{}
	if forceSelect {
		q.Set("prompt", "select_account")
	}
	if state != "" {
		q.Set("state", state)
	}
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	u := c.backendURL + pathGoogle
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}
