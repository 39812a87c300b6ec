package passwordless

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidatorFixture(t *testing.T, users UserLookup) (*Issuer, *Validator, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := NewMemStore(0, WithStoreClock(clock.Now))
	t.Cleanup(store.Release)
	g := NewURLSafeGenerator(32)
	i, err := NewIssuer(store, g, 5*time.Minute, clock.Now)
	require.NoError(t, err)
	return i, NewValidator(store, users, g), clock
}

func assertAuthFailure(t *testing.T, err error, reason FailureReason) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, ErrAuthenticationFailed.Error(), err.Error())
	var authErr *AuthError
	if assert.True(t, errors.As(err, &authErr)) {
		assert.Equal(t, reason, authErr.Reason)
	}
}

func TestValidatorValidate(t *testing.T) {
	i, v, _ := newValidatorFixture(t, AnyUser{})
	ctx := context.Background()

	tok, err := i.Issue(ctx, "alice")
	require.NoError(t, err)

	p, err := v.Validate(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Empty(t, p.Authorities)

	// Replay
	p, err = v.Validate(ctx, tok.Value)
	assert.Nil(t, p)
	assertAuthFailure(t, err, ReasonUsed)
}

func TestValidatorUnknownToken(t *testing.T) {
	_, v, _ := newValidatorFixture(t, AnyUser{})

	_, err := v.Validate(context.Background(), "nope")
	assertAuthFailure(t, err, ReasonNotFound)

	_, err = v.Validate(context.Background(), "   ")
	assertAuthFailure(t, err, ReasonNotFound)
}

func TestValidatorExpired(t *testing.T) {
	i, v, clock := newValidatorFixture(t, AnyUser{})
	ctx := context.Background()

	tok, err := i.Issue(ctx, "alice")
	require.NoError(t, err)
	clock.Advance(5*time.Minute + time.Second)

	_, err = v.Validate(ctx, tok.Value)
	assertAuthFailure(t, err, ReasonExpired)
}

func TestValidatorExpiredRealTime(t *testing.T) {
	store := NewMemStore(0)
	defer store.Release()
	g := NewURLSafeGenerator(32)
	i, err := NewIssuer(store, g, time.Millisecond, nil)
	require.NoError(t, err)
	v := NewValidator(store, AnyUser{}, g)

	tok, err := i.Issue(context.Background(), "alice")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, err = v.Validate(context.Background(), tok.Value)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestValidatorUnknownUser(t *testing.T) {
	i, v, _ := newValidatorFixture(t, NewStaticUsers("alice"))
	ctx := context.Background()

	tok, err := i.Issue(ctx, "mallory")
	require.NoError(t, err)
	_, err = v.Validate(ctx, tok.Value)
	assertAuthFailure(t, err, ReasonUnknownUser)
	assert.ErrorIs(t, err, ErrUserNotFound)

	// The token was consumed even though the user was unknown
	_, err = v.Validate(ctx, tok.Value)
	assertAuthFailure(t, err, ReasonUsed)
}

func TestValidatorLookupError(t *testing.T) {
	boom := errors.New("directory down")
	i, v, _ := newValidatorFixture(t, UserLookupFunc(func(ctx context.Context, username string) (*Principal, error) {
		return nil, boom
	}))

	tok, err := i.Issue(context.Background(), "alice")
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), tok.Value)
	assertAuthFailure(t, err, ReasonUnknownUser)
	assert.ErrorIs(t, err, boom)
}

func TestValidatorConcurrent(t *testing.T) {
	i, v, _ := newValidatorFixture(t, AnyUser{})
	tok, err := i.Issue(context.Background(), "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	start := make(chan struct{})
	for k := range results {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			<-start
			_, results[k] = v.Validate(context.Background(), tok.Value)
		}(k)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		}
	}
	assert.Equal(t, 1, successes)
}
