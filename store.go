package passwordless

import (
	"context"
	"time"
)

// TokenStore holds issued tokens until they are consumed or expire. It is
// the only owner of live token records; callers receive copies.
type TokenStore interface {
	// Insert adds a new token built by NewToken. It returns ErrInvalidToken
	// for a token without a value or whose ExpiresAt is not after IssuedAt,
	// ErrDuplicateToken if a token with the same value is present, and
	// ErrStoreUnavailable if the token cannot be held.
	Insert(ctx context.Context, token *Token) error
	// ConsumeIfValid atomically marks the token with the given value as
	// consumed and returns it. It returns ErrTokenNotFound, ErrTokenExpired
	// or ErrTokenUsed otherwise; expired and used entries are removed.
	ConsumeIfValid(ctx context.Context, value string) (*Token, error)
	// PurgeExpired removes all entries that expired before `now` and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	// Release stops background work and drops all entries.
	Release()
}

// Clock returns the current time.
type Clock func() time.Time
