// Package storetest holds the behavioural suite every offramp.WithdrawalStore must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
)

// Run exercises store. newStore must return an empty store on every call.
func Run(t *testing.T, newStore func(t *testing.T) offramp.WithdrawalStore) {
	t.Run("SaveFind", func(t *testing.T) { testSaveFind(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ClaimOnce", func(t *testing.T) { testClaimOnce(t, newStore(t)) })
	t.Run("ClaimConcurrent", func(t *testing.T) { testClaimConcurrent(t, newStore(t)) })
	t.Run("ReleaseAndComplete", func(t *testing.T) { testReleaseAndComplete(t, newStore(t)) })
}

func sample(id, user string, created time.Time) *offramp.Withdrawal {
	return &offramp.Withdrawal{
		ID:           id,
		UserID:       user,
		AnchorDomain: "testanchor.stellar.org",
		AssetCode:    "USDC",
		AssetIssuer:  "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5",
		Amount:       "10",
		Account:      "GFUNDS",
		Status:       offramp.StatusIncomplete,
		CreatedAt:    created,
	}
}

func testSaveFind(t *testing.T, store offramp.WithdrawalStore) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sample("tx-1", "u1", time.Now())))

	got, err := store.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, offramp.StatusIncomplete, got.Status)
	assert.False(t, got.UpdatedAt.IsZero())

	err = store.Save(ctx, sample("tx-1", "u1", time.Now()))
	assert.Error(t, err, "duplicate id")

	_, err = store.FindByID(ctx, "missing")
	assert.True(t, errors.HasCode(err, errors.NOT_FOUND))
}

func testUpdate(t *testing.T, store offramp.WithdrawalStore) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sample("tx-1", "u1", time.Now())))

	status := offramp.StatusPendingUserTransferComplete
	ext := "mg-123"
	settle, memo := "GSETTLE", "memo-1"
	require.NoError(t, store.Update(ctx, "tx-1", &offramp.WithdrawalUpdate{
		Status:                &status,
		ExternalTransactionID: &ext,
		SettlementAccount:     &settle,
		WithdrawMemo:          &memo,
	}))

	got, err := store.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, status, got.Status)
	assert.Equal(t, "mg-123", got.ExternalTransactionID)
	assert.Equal(t, "GSETTLE", got.SettlementAccount)
	assert.Equal(t, "memo-1", got.WithdrawMemo)
	assert.Equal(t, "10", got.Amount, "untouched fields survive")

	err = store.Update(ctx, "missing", &offramp.WithdrawalUpdate{Status: &status})
	assert.True(t, errors.HasCode(err, errors.NOT_FOUND))
}

func testList(t *testing.T, store offramp.WithdrawalStore) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, sample("tx-1", "u1", base)))
	require.NoError(t, store.Save(ctx, sample("tx-2", "u1", base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, sample("tx-3", "u2", base.Add(2*time.Minute))))

	got, err := store.List(ctx, offramp.WithdrawalFilters{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tx-2", got[0].ID, "newest first")

	got, err = store.List(ctx, offramp.WithdrawalFilters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tx-3", got[0].ID)

	done := offramp.StatusCompleted
	got, err = store.List(ctx, offramp.WithdrawalFilters{Status: &done})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testClaimOnce(t *testing.T, store offramp.WithdrawalStore) {
	ctx := context.Background()

	ok, err := store.ClaimRemittance(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ClaimRemittance(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := store.FindRemittance(ctx, "tx-1")
	require.NoError(t, err)
	assert.Nil(t, res, "claimed but not completed")
}

func testClaimConcurrent(t *testing.T, store offramp.WithdrawalStore) {
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ClaimRemittance(ctx, "tx-race")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testReleaseAndComplete(t *testing.T, store offramp.WithdrawalStore) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sample("tx-1", "u1", time.Now())))

	ok, err := store.ClaimRemittance(ctx, "tx-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.ReleaseRemittance(ctx, "tx-1"))
	ok, err = store.ClaimRemittance(ctx, "tx-1")
	require.NoError(t, err)
	require.True(t, ok, "released claims can be taken again")

	require.NoError(t, store.CompleteRemittance(ctx, "tx-1", offramp.RemittanceResult{LedgerTransactionID: "stellar-tx-99"}))

	res, err := store.FindRemittance(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "stellar-tx-99", res.LedgerTransactionID)

	got, err := store.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "stellar-tx-99", got.StellarTxHash)

	require.NoError(t, store.ReleaseRemittance(ctx, "tx-1"))
	ok, err = store.ClaimRemittance(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, ok, "completed claims are never released")

	err = store.CompleteRemittance(ctx, "unclaimed", offramp.RemittanceResult{LedgerTransactionID: "x"})
	assert.Error(t, err)
}
