// Package server exposes a passwordless.Passwordless instance over HTTP.
//
// Routes:
//
//	POST /ott/generate   request a magic link for a username
//	GET  /login/ott      page that submits the token from a magic link
//	POST /login/ott      redeem a token and start a session
//	GET  /api/username   name of the signed in user
//	POST /logout         end the session
//	GET  /healthz        liveness probe
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"gopkg.in/throttled/throttled.v2"
	"gopkg.in/throttled/throttled.v2/store/memstore"

	"github.com/johnsto/go-passwordless/v3"
)

const (
	sessionName    = "magiclink-session"
	rateLimitKeys  = 65536
	sessionUserKey = "username"
	sessionAuthKey = "authorities"
)

// Server is the HTTP front end of the magic link service.
type Server struct {
	echo     *echo.Echo
	pw       *passwordless.Passwordless
	sessions sessions.Store
	limiter  throttled.RateLimiter
	log      zerolog.Logger
}

// Option configures a Server.
type Option func(*options)

type options struct {
	trustedProxies []*net.IPNet
}

// WithTrustedProxies makes the client address come from X-Forwarded-For,
// skipping hops within the given ranges. Without it, forwarding headers are
// ignored and the peer address is used.
func WithTrustedProxies(ranges ...*net.IPNet) Option {
	return func(o *options) {
		o.trustedProxies = append(o.trustedProxies, ranges...)
	}
}

// New builds a Server. A nil limiter disables rate limiting of token
// requests.
func New(pw *passwordless.Passwordless, store sessions.Store, limiter throttled.RateLimiter, log zerolog.Logger, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = ipExtractor(o.trustedProxies)

	s := &Server{
		echo:     e,
		pw:       pw,
		sessions: store,
		limiter:  limiter,
		log:      log,
	}

	e.Use(middleware.Recover())
	e.Use(s.requestContext)

	generate := []echo.MiddlewareFunc{}
	if limiter != nil {
		generate = append(generate, s.rateLimit)
	}
	e.POST("/ott/generate", s.handleGenerate, generate...)
	e.GET("/login/ott", s.handleLoginPage)
	e.POST("/login/ott", s.handleLogin)
	e.POST("/logout", s.handleLogout)
	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api", s.requireSession)
	api.GET("/username", s.handleUsername)

	return s
}

// ipExtractor never trusts client supplied headers unless proxies are
// configured, and then only the hops they appended.
func ipExtractor(proxies []*net.IPNet) echo.IPExtractor {
	if len(proxies) == 0 {
		return echo.ExtractIPDirect()
	}
	trust := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, r := range proxies {
		trust = append(trust, echo.TrustIPRange(r))
	}
	return echo.ExtractIPFromXFFHeader(trust...)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("echo.Start: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// NewSessionStore returns a cookie session store. Empty keys are replaced
// with random ones, which invalidates sessions on restart.
func NewSessionStore(authKey, encryptionKey string, maxAge time.Duration, secure bool) (*sessions.CookieStore, error) {
	ak := []byte(authKey)
	if len(ak) == 0 {
		ak = securecookie.GenerateRandomKey(64)
	}
	ek := []byte(encryptionKey)
	if len(ek) == 0 {
		ek = securecookie.GenerateRandomKey(32)
	}
	if len(ak) == 0 {
		return nil, errors.New("could not generate session authentication key")
	}
	switch len(ek) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("session encryption key must be 16, 24 or 32 bytes, got %d", len(ek))
	}

	store := sessions.NewCookieStore(ak, ek)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store, nil
}

// NewRateLimiter returns a GCRA limiter allowing `perMinute` requests per
// key with bursts of `burst`. It returns nil when perMinute is zero.
func NewRateLimiter(perMinute, burst int) (throttled.RateLimiter, error) {
	if perMinute <= 0 {
		return nil, nil
	}
	store, err := memstore.New(rateLimitKeys)
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	quota := throttled.RateQuota{MaxRate: throttled.PerMin(perMinute), MaxBurst: burst}
	limiter, err := throttled.NewGCRARateLimiter(store, quota)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return limiter, nil
}
