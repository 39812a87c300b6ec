package passwordless

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Token is a one-time login token bound to a username. Build tokens with
// NewToken so ExpiresAt is derived from IssuedAt; stores reject records
// that do not expire after they were issued.
type Token struct {
	Value     string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// NewToken returns an unconsumed token issued at `now` that expires after
// `ttl`.
func NewToken(value, username string, now time.Time, ttl time.Duration) *Token {
	return &Token{
		Value:     value,
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the token is past its expiry at time `now`.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Fingerprint returns a short digest of the token value that is safe to log.
func (t *Token) Fingerprint() string {
	return hashToken(t.Value)[:12]
}

// validate rejects records that NewToken could not have produced.
func (t *Token) validate() error {
	if t == nil || t.Value == "" || !t.ExpiresAt.After(t.IssuedAt) {
		return ErrInvalidToken
	}
	return nil
}

func (t *Token) clone() *Token {
	c := *t
	return &c
}

// hashToken returns the hex SHA-256 digest of a token value. Stores key
// entries by digest so raw values are never held as map keys.
func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
