package passwordless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	ms := NewMemStore(0)
	defer ms.Release()
	assert.NotNil(t, ms)
	assert.Equal(t, 0, ms.Len())

	ctx := context.Background()
	require.NoError(t, ms.Insert(ctx, NewToken("uid", "alice", time.Now(), time.Hour)))
	assert.Equal(t, 1, ms.Len())

	// Tokens are keyed by digest, never by their value
	ms.mut.Lock()
	_, raw := ms.data["uid"]
	_, hashed := ms.data[hashToken("uid")]
	ms.mut.Unlock()
	assert.False(t, raw)
	assert.True(t, hashed)

	// Consumed entries linger until they expire
	_, err := ms.ConsumeIfValid(ctx, "uid")
	require.NoError(t, err)
	assert.Equal(t, 1, ms.Len())
}

func TestMemStoreCleaner(t *testing.T) {
	ms := NewMemStore(5 * time.Millisecond)
	defer ms.Release()

	ctx := context.Background()
	require.NoError(t, ms.Insert(ctx, NewToken("short", "alice", time.Now(), time.Millisecond)))
	require.NoError(t, ms.Insert(ctx, NewToken("long", "bob", time.Now(), time.Hour)))

	assert.Eventually(t, func() bool {
		return ms.Len() == 1
	}, time.Second, 5*time.Millisecond)

	tok, err := ms.ConsumeIfValid(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, "bob", tok.Username)
}

func TestMemStoreCapacityReclaimsExpired(t *testing.T) {
	clock := newTestClock()
	ms := NewMemStore(0, WithCapacity(1), WithStoreClock(clock.Now))
	defer ms.Release()

	ctx := context.Background()
	require.NoError(t, ms.Insert(ctx, NewToken("a", "alice", clock.Now(), time.Minute)))
	assert.ErrorIs(t, ms.Insert(ctx, NewToken("b", "bob", clock.Now(), time.Minute)), ErrStoreUnavailable)

	clock.Advance(2 * time.Minute)
	require.NoError(t, ms.Insert(ctx, NewToken("b", "bob", clock.Now(), time.Minute)))
	assert.Equal(t, 1, ms.Len())
}
