package passwordless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is how long issued tokens remain valid.
	DefaultTTL = 5 * time.Minute
	// DefaultTokenByteLength is the number of random bytes in a token.
	DefaultTokenByteLength = 32
	// MaxIssueAttempts bounds regeneration after value collisions.
	MaxIssueAttempts = 3
)

// Issuer creates tokens and places them in a TokenStore.
type Issuer struct {
	store     TokenStore
	generator TokenGenerator
	ttl       time.Duration
	now       Clock
}

// NewIssuer returns an Issuer that stores tokens valid for `ttl`. It fails
// if the generator yields fewer than MinTokenEntropy bits.
func NewIssuer(store TokenStore, g TokenGenerator, ttl time.Duration, now Clock) (*Issuer, error) {
	if err := checkEntropy(g); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be positive, got %s", ttl)
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		store:     store,
		generator: g,
		ttl:       ttl,
		now:       now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue creates a token for `username` and stores it. It does not check
// whether the user exists.
func (i *Issuer) Issue(ctx context.Context, username string) (*Token, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is empty", ErrInvalidRequest)
	}

	for attempt := 1; attempt <= MaxIssueAttempts; attempt++ {
		value, err := i.generator.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		tok := NewToken(value, username, i.now(), i.ttl)

		err = i.store.Insert(ctx, tok)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrDuplicateToken) {
			return nil, err
		}
		zerolog.Ctx(ctx).Warn().Int("attempt", attempt).
			Msg("token value collision, regenerating")
	}
	return nil, fmt.Errorf("%w: no unique token after %d attempts",
		ErrStoreUnavailable, MaxIssueAttempts)
}
