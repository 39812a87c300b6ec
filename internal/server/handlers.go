package server

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/johnsto/go-passwordless/v3"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<form method="post" action="{{.Action}}">
<label for="token">Token</label>
<input type="text" id="token" name="token" value="{{.Token}}" autocomplete="off" required>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

type statusBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func errorBody(msg string) statusBody {
	return statusBody{Status: "error", Message: msg}
}

// handleGenerate issues a token and answers with the same acknowledgement
// whether or not the user exists.
func (s *Server) handleGenerate(c echo.Context) error {
	var body struct {
		Username string `json:"username" form:"username"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	ack, err := s.pw.RequestToken(c.Request().Context(), body.Username)
	if errors.Is(err, passwordless.ErrInvalidRequest) {
		return c.JSON(http.StatusBadRequest, errorBody("username is required"))
	} else if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("please try again later"))
	}
	return c.JSON(http.StatusCreated, ack)
}

// handleLoginPage renders a form that submits the token from the link.
// Redemption needs a POST so link scanners cannot use up the token.
func (s *Server) handleLoginPage(c echo.Context) error {
	var buf bytes.Buffer
	err := loginPage.Execute(&buf, struct {
		Action string
		Token  string
	}{
		Action: c.Request().URL.Path,
		Token:  c.QueryParam(passwordless.TokenParam),
	})
	if err != nil {
		return err
	}
	c.Response().Header().Set("Referrer-Policy", "no-referrer")
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// handleLogin redeems a token and stores the principal in the session.
func (s *Server) handleLogin(c echo.Context) error {
	var body struct {
		Token string `json:"token" form:"token"`
	}
	if err := c.Bind(&body); err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}

	ctx := c.Request().Context()
	p, err := s.pw.Redeem(ctx, body.Token)
	if err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}

	session, err := s.sessions.New(c.Request(), sessionName)
	if session == nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("could not create session")
		return c.NoContent(http.StatusInternalServerError)
	}
	session.Values[sessionUserKey] = p.Username
	session.Values[sessionAuthKey] = p.Authorities
	if err := session.Save(c.Request(), c.Response()); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("could not save session")
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.String(http.StatusOK, "logged in!")
}

// handleUsername returns the name of the signed in user.
func (s *Server) handleUsername(c echo.Context) error {
	p, ok := passwordless.PrincipalFromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("not signed in"))
	}
	return c.JSON(http.StatusOK, map[string]string{"username": p.Username})
}

// handleLogout removes the session cookie.
func (s *Server) handleLogout(c echo.Context) error {
	session, _ := s.sessions.Get(c.Request(), sessionName)
	if session == nil {
		return c.NoContent(http.StatusNoContent)
	}
	session.Values = map[interface{}]interface{}{}
	if session.Options == nil {
		session.Options = &sessions.Options{Path: "/"}
	}
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response()); err != nil {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("could not clear session")
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, statusBody{Status: "ok"})
}
