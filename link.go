package passwordless

import (
	"fmt"
	"net/url"
)

// TokenParam is the query parameter carrying the token in redeem links.
const TokenParam = "token"

// RedeemURL returns `base` with the token added as a query parameter. The
// path of `base` is left untouched and existing query parameters are kept.
func RedeemURL(base *url.URL, token string) string {
	u := *base
	q := u.Query()
	q.Set(TokenParam, token)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// ParseRedeemBase parses and checks a redeem base URL. It must be absolute.
func ParseRedeemBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redeem base URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("redeem base URL %q must be absolute", raw)
	}
	return u, nil
}
