// HTTP client core.
//
// The Client wraps every exchange with the assistant backend: it owns the
// cookie jar (the session credential is ambient browser-style state, never
// passed by callers), applies an outbound token-bucket throttle, traces each
// call, records Prometheus metrics, and converts every failure into *Error.
//
// Endpoint methods live in auth.go, chat.go, and rag.go; this file only
// implements the shared request/response plumbing.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/unizar-ia/thesis-assistant-client/internal/config"
)

// maxResponseBytes caps how much of a response body is read (guards against
// a misbehaving collaborator, mirrors the server-side body cap).
const maxResponseBytes = 4 << 20

// Client talks to the assistant backend and the RAG engine.
// It is safe for concurrent use.
type Client struct {
	backendURL string
	ragURL     string

	hc      *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	locale  string
}

// New constructs a Client from configuration. The cookie jar is created here
// and never exposed: session cookies ride along implicitly on every request.
func New(cfg config.Config, log zerolog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)
	}

	locale := ""
	if cfg.Locale != language.Und {
		locale = cfg.Locale.String()
	}

	return &Client{
		backendURL: strings.TrimRight(cfg.BackendURL, "/"),
		ragURL:     strings.TrimRight(cfg.RAGURL, "/"),
		hc: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		log:     log.With().Str("component", "api").Logger(),
		locale:  locale,
	}, nil
}

// BackendURL returns the configured backend base URL (no trailing slash).
func (c *Client) BackendURL() string { return c.backendURL }

// do performs one JSON exchange against an absolute URL.
//
// op is a bounded logical operation name ("auth.login", "chat.ask", ...) used
// as the metrics label and span name. body (if non-nil) is JSON-encoded; out
// (if non-nil) receives the decoded response body on 2xx.
//
// Failure mapping:
//   - connection errors → *Error{Status: 0, Code: network_error}
//   - undecodable JSON  → *Error{Status, Code: bad_payload}
//   - non-2xx statuses  → *Error with the server's message when present
func (c *Client) do(ctx context.Context, op, method, rawURL string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Code: CodeNetworkError, Message: "request cancelled"}
		}
	}

	tr := otel.Tracer("api/Client")
	ctx, span := tr.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("api.op", op),
		),
	)
	defer span.End()

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &Error{Code: CodeBadPayload, Message: "could not encode request"}
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return &Error{Code: CodeNetworkError, Message: "invalid request"}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.locale != "" {
		req.Header.Set("Accept-Language", c.locale)
	}

	start := time.Now()
	inflight.Inc()
	resp, err := c.hc.Do(req)
	inflight.Dec()
	if err != nil {
		requests.WithLabelValues(method, op, "0").Inc()
		c.log.Warn().Err(err).Str("op", op).Msg("request failed")
		return &Error{Code: CodeNetworkError, Message: "could not reach the server"}
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	requests.WithLabelValues(method, op, statusLabel(resp.StatusCode)).Inc()
	latency.WithLabelValues(method, op).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	c.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("latency", elapsed).
		Msg("api call")

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Status: resp.StatusCode, Code: CodeNetworkError, Message: "could not read the server response"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return &Error{Status: resp.StatusCode, Code: CodeBadPayload, Message: "unexpected server response"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Status: resp.StatusCode, Code: CodeBadPayload, Message: "unexpected server response"}
	}
	return nil
}

// get/post/del are thin verbs over do for backend-relative paths.

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodGet, c.backendURL+path, nil, out)
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	return c.do(ctx, op, http.MethodPost, c.backendURL+path, body, out)
}

func (c *Client) del(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodDelete, c.backendURL+path, nil, out)
}

// errorEnvelope is the backend's JSON error shape. Both "message" and "error"
// spellings occur in the wild.
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     string `json:"error"`
}

// errorFromResponse builds an *Error from a non-2xx response, preferring the
// server-provided message when the body is a JSON envelope.
func errorFromResponse(status int, contentType string, raw []byte) *Error {
	e := &Error{Status: status, Code: codeForStatus(status)}
	if isJSON(contentType) && len(raw) > 0 {
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil {
			if env.Code != "" {
				e.Code = env.Code
			}
			switch {
			case env.Message != "":
				e.Message = env.Message
			case env.Err != "":
				e.Message = env.Err
			}
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}

func statusLabel(status int) string {
	// Exact status keeps cardinality bounded: it is a small set.
	return strconv.Itoa(status)
}
