package passwordless

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTransport struct {
	mut        sync.Mutex
	deliveries []Delivery
	err        error
}

func (t *testTransport) Send(ctx context.Context, d Delivery) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.deliveries = append(t.deliveries, d)
	return t.err
}

func (t *testTransport) last() Delivery {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.deliveries[len(t.deliveries)-1]
}

func newTestPasswordless(t *testing.T, tt Transport, users UserLookup, opts ...Option) *Passwordless {
	t.Helper()
	store := NewMemStore(0)
	t.Cleanup(store.Release)
	opts = append([]Option{WithRedeemBaseURL("https://example.com/login/ott")}, opts...)
	p, err := New(store, tt, users, opts...)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	store := NewMemStore(0)
	defer store.Release()
	tt := &testTransport{}

	_, err := New(nil, tt, AnyUser{})
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = New(store, nil, AnyUser{})
	assert.ErrorIs(t, err, ErrNoTransport)
	_, err = New(store, tt, nil)
	assert.ErrorIs(t, err, ErrNoUsers)

	_, err = New(store, tt, AnyUser{}, WithRedeemBaseURL("/login/ott"))
	assert.Error(t, err)
	_, err = New(store, tt, AnyUser{}, WithTokenByteLength(8))
	assert.ErrorIs(t, err, ErrWeakGenerator)
	_, err = New(store, tt, AnyUser{}, WithDeliveryTimeout(0))
	assert.Error(t, err)

	p, err := New(store, tt, AnyUser{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, p.TTL())
}

func TestPasswordlessEndToEnd(t *testing.T) {
	tt := &testTransport{}
	p := newTestPasswordless(t, tt, AnyUser{})
	ctx := context.Background()

	ack, err := p.RequestToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, GenericAcknowledgement, ack)

	p.Wait()
	d := tt.last()
	assert.Equal(t, "alice", d.Recipient)
	assert.Equal(t, "alice", d.Username)
	assert.NotEmpty(t, d.Token)

	u, err := url.Parse(d.RedeemURL)
	require.NoError(t, err)
	assert.Equal(t, "/login/ott", u.Path)
	assert.Equal(t, d.Token, u.Query().Get(TokenParam))
	assert.NotContains(t, u.Path, d.Token)

	principal, err := p.Redeem(ctx, u.Query().Get(TokenParam))
	require.NoError(t, err)
	assert.Equal(t, &Principal{Username: "alice", Authorities: []string{}}, principal)

	_, err = p.Redeem(ctx, d.Token)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestPasswordlessInvalidRequest(t *testing.T) {
	tt := &testTransport{}
	p := newTestPasswordless(t, tt, AnyUser{})

	_, err := p.RequestToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, tt.deliveries)
}

func TestPasswordlessUnknownUserAcknowledged(t *testing.T) {
	tt := &testTransport{}
	p := newTestPasswordless(t, tt, NewStaticUsers("alice"))
	ctx := context.Background()

	known, err := p.RequestToken(ctx, "alice")
	require.NoError(t, err)
	unknown, err := p.RequestToken(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, known, unknown)

	// A link is still sent, but it cannot be redeemed
	p.Wait()
	d := tt.last()
	assert.Equal(t, "nobody@example.com", d.Recipient)
	_, err = p.Redeem(ctx, d.Token)
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, ReasonUnknownUser, authErr.Reason)
}

func TestPasswordlessDeliveryFailure(t *testing.T) {
	tt := &testTransport{err: errors.New("smtp down")}
	p := newTestPasswordless(t, tt, AnyUser{})

	ack, err := p.RequestToken(context.Background(), "alice")
	assert.NoError(t, err)
	assert.Equal(t, GenericAcknowledgement, ack)
	p.Wait()
	assert.Len(t, tt.deliveries, 1)
}

func TestPasswordlessDeliveryTiming(t *testing.T) {
	slow := TransportFunc(func(ctx context.Context, d Delivery) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	rejected := TransportFunc(func(ctx context.Context, d Delivery) error {
		return errors.New("550 no such mailbox")
	})

	var latencies []time.Duration
	for _, tr := range []Transport{slow, rejected} {
		p := newTestPasswordless(t, tr, AnyUser{})
		start := time.Now()
		ack, err := p.RequestToken(context.Background(), "alice")
		latencies = append(latencies, time.Since(start))
		require.NoError(t, err)
		assert.Equal(t, GenericAcknowledgement, ack)
		p.Wait()
	}
	for _, l := range latencies {
		assert.Less(t, l, 100*time.Millisecond)
	}
}

func TestPasswordlessDeliveryOutlivesRequest(t *testing.T) {
	done := make(chan error, 1)
	tr := TransportFunc(func(ctx context.Context, d Delivery) error {
		time.Sleep(20 * time.Millisecond)
		done <- ctx.Err()
		return nil
	})
	p := newTestPasswordless(t, tr, AnyUser{}, WithDeliveryTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := p.RequestToken(ctx, "alice")
	require.NoError(t, err)
	cancel()
	p.Wait()
	assert.NoError(t, <-done)
}

func TestPasswordlessDeliveryTimeout(t *testing.T) {
	got := make(chan error, 1)
	tr := TransportFunc(func(ctx context.Context, d Delivery) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	p := newTestPasswordless(t, tr, AnyUser{}, WithDeliveryTimeout(10*time.Millisecond))

	_, err := p.RequestToken(context.Background(), "alice")
	require.NoError(t, err)
	p.Wait()
	assert.ErrorIs(t, <-got, context.DeadlineExceeded)
}

func TestPasswordlessRecipientFunc(t *testing.T) {
	tt := &testTransport{}
	p := newTestPasswordless(t, tt, AnyUser{}, WithRecipientFunc(
		func(ctx context.Context, username string) (string, error) {
			return username + "@example.com", nil
		}))

	_, err := p.RequestToken(context.Background(), "alice")
	require.NoError(t, err)
	p.Wait()
	assert.Equal(t, "alice@example.com", tt.last().Recipient)
}

func TestPasswordlessStoreUnavailable(t *testing.T) {
	store := NewMemStore(0, WithCapacity(1))
	defer store.Release()
	p, err := New(store, &testTransport{}, AnyUser{})
	require.NoError(t, err)

	_, err = p.RequestToken(context.Background(), "alice")
	require.NoError(t, err)
	_, err = p.RequestToken(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPasswordlessHooks(t *testing.T) {
	var issued []*Token
	var validated []*Principal
	var failed []FailureReason
	hooks := Hooks{
		OnIssued:    func(ctx context.Context, tok *Token) { issued = append(issued, tok) },
		OnValidated: func(ctx context.Context, p *Principal) { validated = append(validated, p) },
		OnFailed: func(ctx context.Context, reason FailureReason, err error) {
			failed = append(failed, reason)
		},
	}
	clock := newTestClock()
	tt := &testTransport{}
	p := newTestPasswordless(t, tt, AnyUser{}, WithHooks(hooks), WithClock(clock.Now), WithTTL(time.Minute))
	ctx := context.Background()

	_, err := p.RequestToken(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, "alice", issued[0].Username)
	assert.Equal(t, clock.Now().Add(time.Minute), issued[0].ExpiresAt)
	p.Wait()

	_, err = p.Redeem(ctx, tt.last().Token)
	require.NoError(t, err)
	_, err = p.Redeem(ctx, tt.last().Token)
	assert.Error(t, err)
	_, err = p.Redeem(ctx, "bogus")
	assert.Error(t, err)

	require.Len(t, validated, 1)
	assert.Equal(t, "alice", validated[0].Username)
	assert.Equal(t, []FailureReason{ReasonUsed, ReasonNotFound}, failed)
}
