package observer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/withdraw"
)

// Reconciler records settlement payments seen on the ledger against the sessions they
// paid. A session matches when the payment came from its funds account and went to its
// settlement account with its memo.
type Reconciler struct {
	store   offramp.WithdrawalStore
	hooks   *withdraw.HookRegistry
	logger  logrus.FieldLogger
	timeout time.Duration
}

// NewReconciler creates a Reconciler. hooks and logger may be nil.
func NewReconciler(store offramp.WithdrawalStore, hooks *withdraw.HookRegistry, logger logrus.FieldLogger) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{store: store, hooks: hooks, logger: logger, timeout: 10 * time.Second}
}

// Attach registers the reconciler for payments sent by fundsAccount.
func (r *Reconciler) Attach(obs Observer, fundsAccount string) {
	obs.OnPayment(r.Handle, WithSource(fundsAccount))
}

// Handle matches one payment. Payments without a memo or a matching session are ignored.
func (r *Reconciler) Handle(evt PaymentEvent) error {
	if evt.Memo == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	pending := offramp.StatusPendingUserTransferStart
	candidates, err := r.store.List(ctx, offramp.WithdrawalFilters{Status: &pending})
	if err != nil {
		return err
	}

	for _, w := range candidates {
		if w.Account != evt.From || w.SettlementAccount != evt.To || w.WithdrawMemo != evt.Memo {
			continue
		}
		return r.record(ctx, w, evt)
	}
	return nil
}

func (r *Reconciler) record(ctx context.Context, w *offramp.Withdrawal, evt PaymentEvent) error {
	log := r.logger.WithFields(logrus.Fields{"session_id": w.ID, "tx_hash": evt.TransactionHash})

	existing, err := r.store.FindRemittance(ctx, w.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	// The claim is usually still held by the remitter that lost track of the outcome.
	if _, err := r.store.ClaimRemittance(ctx, w.ID); err != nil {
		return err
	}
	result := offramp.RemittanceResult{LedgerTransactionID: evt.TransactionHash}
	if err := r.store.CompleteRemittance(ctx, w.ID, result); err != nil && !errors.HasCode(err, errors.NOT_FOUND) {
		return err
	}

	r.hooks.Trigger(withdraw.Event{
		Name:                withdraw.HookRemitted,
		SessionID:           w.ID,
		UserID:              w.UserID,
		Status:              w.Status,
		LedgerTransactionID: evt.TransactionHash,
	})
	log.Info("settlement payment found on ledger")
	return nil
}
