package passwordless

import (
	"context"
	"strings"
)

// Principal is the identity established by redeeming a token.
type Principal struct {
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
}

// UserLookup resolves a username into a Principal. Implementations return
// ErrUserNotFound for unknown users.
type UserLookup interface {
	LookupUser(ctx context.Context, username string) (*Principal, error)
}

// UserLookupFunc adapts a function into a UserLookup.
type UserLookupFunc func(ctx context.Context, username string) (*Principal, error)

func (f UserLookupFunc) LookupUser(ctx context.Context, username string) (*Principal, error) {
	return f(ctx, username)
}

// AnyUser accepts every username and grants no authorities.
type AnyUser struct{}

func (AnyUser) LookupUser(ctx context.Context, username string) (*Principal, error) {
	return &Principal{Username: username, Authorities: []string{}}, nil
}

// StaticUsers is a fixed directory of users mapped to their authorities.
// Usernames are compared case-insensitively.
type StaticUsers map[string][]string

// NewStaticUsers builds a directory granting no authorities to each of the
// given usernames.
func NewStaticUsers(usernames ...string) StaticUsers {
	u := StaticUsers{}
	for _, name := range usernames {
		if name = strings.TrimSpace(name); name != "" {
			u[strings.ToLower(name)] = []string{}
		}
	}
	return u
}

func (u StaticUsers) LookupUser(ctx context.Context, username string) (*Principal, error) {
	auths, ok := u[strings.ToLower(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := make([]string, len(auths))
	copy(cp, auths)
	return &Principal{Username: username, Authorities: cp}, nil
}
