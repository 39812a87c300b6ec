package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/johnsto/go-passwordless/v3"
)

// requestContext tags each request with an ID and puts a request logger in
// its context, which the passwordless package logs through.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		id := req.Header.Get(echo.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, id)

		logger := s.log.With().Str("request_id", id).Logger()
		c.SetRequest(req.WithContext(logger.WithContext(req.Context())))

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		logger.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", c.Response().Status).
			Dur("latency", time.Since(start)).
			Msg("request")
		return nil
	}
}

// rateLimit throttles requests per client IP.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		limited, res, err := s.limiter.RateLimit(c.RealIP(), 1)
		if err != nil {
			s.log.Error().Err(err).Msg("rate limiter failed")
			return next(c)
		}

		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", strconv.Itoa(int(res.ResetAfter.Seconds())))
		if limited {
			h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			return c.JSON(http.StatusTooManyRequests, errorBody("too many requests"))
		}
		return next(c)
	}
}

// requireSession rejects requests without a signed in user and puts the
// principal in the request context otherwise.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := s.sessionPrincipal(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, errorBody("not signed in"))
		}
		req := c.Request()
		c.SetRequest(req.WithContext(passwordless.WithPrincipal(req.Context(), p)))
		return next(c)
	}
}

func (s *Server) sessionPrincipal(c echo.Context) (*passwordless.Principal, bool) {
	session, err := s.sessions.Get(c.Request(), sessionName)
	if err != nil {
		return nil, false
	}
	username, ok := session.Values[sessionUserKey].(string)
	if !ok || username == "" {
		return nil, false
	}
	auths, _ := session.Values[sessionAuthKey].([]string)
	return &passwordless.Principal{Username: username, Authorities: auths}, true
}
