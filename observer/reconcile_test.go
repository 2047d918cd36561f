package observer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/store/memory"
	"github.com/marwen-abid/offramp-go/withdraw"
)

func seed(t *testing.T, store offramp.WithdrawalStore, id, memo string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &offramp.Withdrawal{
		ID:        id,
		UserID:    "u1",
		Account:   funds,
		Amount:    "10",
		Status:    offramp.StatusIncomplete,
		CreatedAt: time.Now(),
	}))
	status := offramp.StatusPendingUserTransferStart
	dest := settle
	require.NoError(t, store.Update(ctx, id, &offramp.WithdrawalUpdate{
		Status:            &status,
		SettlementAccount: &dest,
		WithdrawMemo:      &memo,
	}))
}

func TestReconcilerRecordsAmbiguousPayment(t *testing.T) {
	store := memory.NewWithdrawalStore()
	hooks := withdraw.NewHookRegistry()
	var remitted []withdraw.Event
	hooks.On(withdraw.HookRemitted, func(ev withdraw.Event) { remitted = append(remitted, ev) })

	seed(t, store, "tx-1", "memo-1")
	seed(t, store, "tx-2", "memo-2")
	// A remitter that lost track of its submission keeps the claim.
	claimed, err := store.ClaimRemittance(context.Background(), "tx-2")
	require.NoError(t, err)
	require.True(t, claimed)

	r := NewReconciler(store, hooks, nil)
	require.NoError(t, r.Handle(PaymentEvent{From: funds, To: settle, Memo: "memo-2", TransactionHash: "hash-2"}))

	res, err := store.FindRemittance(context.Background(), "tx-2")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "hash-2", res.LedgerTransactionID)

	rec, err := store.FindByID(context.Background(), "tx-2")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", rec.StellarTxHash)

	none, err := store.FindRemittance(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.Len(t, remitted, 1)
	assert.Equal(t, "tx-2", remitted[0].SessionID)
	assert.Equal(t, "hash-2", remitted[0].LedgerTransactionID)
}

func TestReconcilerIgnoresUnrelatedPayments(t *testing.T) {
	store := memory.NewWithdrawalStore()
	seed(t, store, "tx-1", "memo-1")
	r := NewReconciler(store, nil, nil)

	for _, evt := range []PaymentEvent{
		{From: funds, To: settle, Memo: "", TransactionHash: "h"},
		{From: funds, To: settle, Memo: "other", TransactionHash: "h"},
		{From: funds, To: "GOTHER", Memo: "memo-1", TransactionHash: "h"},
		{From: "GSOMEONE", To: settle, Memo: "memo-1", TransactionHash: "h"},
	} {
		require.NoError(t, r.Handle(evt))
	}

	res, err := store.FindRemittance(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestReconcilerKeepsRecordedRemittance(t *testing.T) {
	store := memory.NewWithdrawalStore()
	seed(t, store, "tx-1", "memo-1")
	ctx := context.Background()
	_, err := store.ClaimRemittance(ctx, "tx-1")
	require.NoError(t, err)
	require.NoError(t, store.CompleteRemittance(ctx, "tx-1", offramp.RemittanceResult{LedgerTransactionID: "first"}))

	r := NewReconciler(store, nil, nil)
	require.NoError(t, r.Handle(PaymentEvent{From: funds, To: settle, Memo: "memo-1", TransactionHash: "second"}))

	res, err := store.FindRemittance(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "first", res.LedgerTransactionID)
}

func TestReconcilerAttach(t *testing.T) {
	store := memory.NewWithdrawalStore()
	seed(t, store, "tx-1", "memo-1")
	obs := NewHorizonObserver("https://horizon.invalid", funds)
	NewReconciler(store, nil, nil).Attach(obs, funds)

	obs.processEvent(PaymentEvent{From: "GSOMEONE", To: settle, Memo: "memo-1", TransactionHash: "x"})
	obs.processEvent(PaymentEvent{From: funds, To: settle, Memo: "memo-1", TransactionHash: "y"})

	res, err := store.FindRemittance(context.Background(), "tx-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "y", res.LedgerTransactionID)
}
