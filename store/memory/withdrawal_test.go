package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/store/storetest"
)

func TestWithdrawalStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) offramp.WithdrawalStore {
		return NewWithdrawalStore()
	})
}

func TestWithdrawalStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewWithdrawalStore()
	w := &offramp.Withdrawal{ID: "tx-1", Amount: "10"}
	require.NoError(t, store.Save(ctx, w))

	w.Amount = "99"
	got, err := store.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "10", got.Amount)

	got.Amount = "77"
	again, err := store.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "10", again.Amount)
}

func TestNonceStore(t *testing.T) {
	ctx := context.Background()
	store := NewNonceStore()

	require.NoError(t, store.Add(ctx, "n1", time.Now().Add(time.Minute)))
	assert.Error(t, store.Add(ctx, "n1", time.Now().Add(time.Minute)))

	ok, err := store.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok, "single use")

	require.NoError(t, store.Add(ctx, "n2", time.Now().Add(-time.Second)))
	ok, err = store.Consume(ctx, "n2")
	require.NoError(t, err)
	assert.False(t, ok, "expired")

	clock := time.Now()
	store.now = func() time.Time { return clock }
	require.NoError(t, store.Add(ctx, "n3", clock.Add(time.Minute)))
	assert.Equal(t, 1, store.Len())
	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, 0, store.Len(), "expired nonces are swept")
}
