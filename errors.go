package passwordless

import (
	"errors"
)

var (
	ErrInvalidRequest   = errors.New("invalid token request")
	ErrDuplicateToken   = errors.New("a token with this value already exists")
	ErrInvalidToken     = errors.New("the token has no value or does not expire after it is issued")
	ErrStoreUnavailable = errors.New("the token store is unavailable")
	ErrStoreClosed      = errors.New("the token store has been released")
	ErrDeliveryFailed   = errors.New("the token could not be delivered")
	ErrUserNotFound     = errors.New("the user does not exist")

	ErrTokenNotFound      = errors.New("the token does not exist")
	ErrTokenExpiredOrUsed = errors.New("the token has expired or was already used")
	ErrTokenExpired       = &tokenStateError{msg: "the token has expired"}
	ErrTokenUsed          = &tokenStateError{msg: "the token was already used"}

	// ErrAuthenticationFailed is matched by every *AuthError. Callers facing
	// external clients should never report anything more specific.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// tokenStateError lets ErrTokenExpired and ErrTokenUsed stay distinct while
// both matching ErrTokenExpiredOrUsed.
type tokenStateError struct {
	msg string
}

func (e *tokenStateError) Error() string {
	return e.msg
}

func (e *tokenStateError) Is(target error) bool {
	return target == ErrTokenExpiredOrUsed
}

// FailureReason records why a redemption was rejected. It is meant for logs
// and hooks only.
type FailureReason string

const (
	ReasonNotFound    FailureReason = "not_found"
	ReasonExpired     FailureReason = "expired"
	ReasonUsed        FailureReason = "already_used"
	ReasonUnknownUser FailureReason = "unknown_user"
	ReasonStore       FailureReason = "store_error"
)

// AuthError is returned by Validate and Redeem for every negative outcome.
// Its message is identical whatever the reason.
type AuthError struct {
	Reason FailureReason
	Err    error
}

func (e *AuthError) Error() string {
	return ErrAuthenticationFailed.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// reasonFor maps a store error onto a failure reason.
func reasonFor(err error) FailureReason {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, ErrTokenUsed):
		return ReasonUsed
	case errors.Is(err, ErrUserNotFound):
		return ReasonUnknownUser
	default:
		return ReasonStore
	}
}
