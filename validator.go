package passwordless

import (
	"context"
	"errors"
	"fmt"
)

// Validator redeems tokens for principals.
type Validator struct {
	store     TokenStore
	users     UserLookup
	sanitizer TokenGenerator
}

// NewValidator returns a Validator consuming tokens from `store` and
// resolving their users through `users`. The sanitizer's Sanitize method is
// applied to presented values and may be nil.
func NewValidator(store TokenStore, users UserLookup, sanitizer TokenGenerator) *Validator {
	return &Validator{
		store:     store,
		users:     users,
		sanitizer: sanitizer,
	}
}

// Validate consumes the token and returns its principal. Every failure is an
// *AuthError; a token can be validated successfully at most once.
func (v *Validator) Validate(ctx context.Context, value string) (*Principal, error) {
	if v.sanitizer != nil {
		s, err := v.sanitizer.Sanitize(ctx, value)
		if err != nil {
			return nil, &AuthError{Reason: ReasonNotFound, Err: err}
		}
		value = s
	}
	if value == "" {
		return nil, &AuthError{Reason: ReasonNotFound, Err: ErrTokenNotFound}
	}

	tok, err := v.store.ConsumeIfValid(ctx, value)
	if err != nil {
		return nil, &AuthError{Reason: reasonFor(err), Err: err}
	}

	p, err := v.users.LookupUser(ctx, tok.Username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			err = fmt.Errorf("lookup user: %w", err)
		}
		return nil, &AuthError{Reason: ReasonUnknownUser, Err: err}
	}
	if p == nil {
		return nil, &AuthError{Reason: ReasonUnknownUser, Err: ErrUserNotFound}
	}
	return p, nil
}
