// Package localhttp runs the loopback HTTP listener. It exists for one
// reason: the OAuth provider needs somewhere to land its callback when the
// login flow runs through the system browser. While it is up it also serves
// health and Prometheus metrics endpoints for free.
package localhttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/unizar-ia/thesis-assistant-client/internal/oauth"
)

// callbackPage is shown in the browser tab after the provider redirects
// back. The tab has done its job at that point.
const callbackPage = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign-in complete</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<p>Sign-in complete. You can close this tab and return to the application.</p>
</body>
</html>`

// Server is the loopback listener. Construct with New, then Start.
type Server struct {
	registry *oauth.Registry
	log      zerolog.Logger
	srv      *http.Server
}

// New builds the server around the given callback dispatch table.
// serviceName feeds the tracing middleware.
func New(addr, serviceName string, registry *oauth.Registry, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		registry: registry,
		log:      log.With().Str("component", "localhttp").Logger(),
	}

	r := gin.New()
	r.Use(otelgin.Middleware(serviceName))
	r.Use(RequestID())
	r.Use(Logger(s.log))
	r.Use(Recovery(s.log))

	r.GET("/auth/callback", s.handleCallback)
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// handleCallback forwards the provider's query parameters to the matching
// in-flight login attempt. The page rendered is the same either way so the
// browser never reveals whether a state token was valid.
func (s *Server) handleCallback(c *gin.Context) {
	accepted := s.registry.Dispatch(c.Request.URL.Query())
	if !accepted {
		s.log.Warn().Msg("callback with no matching login attempt")
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(callbackPage))
}

// Start binds the listener and serves until Shutdown. It returns once the
// listener is bound, so callers know the callback URL is live before opening
// the browser; serving continues in the background and fatal serve errors
// are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("loopback server listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("loopback server failed")
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
