package withdraw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/ledger"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/store/memory"
)

const (
	defaultBaseFee        = int64(100)
	defaultPaymentTimeout = 180 * time.Second
)

// RemitterConfig holds the payment parameters.
type RemitterConfig struct {
	NetworkPassphrase string
	// BaseFee is the per-operation fee in stroops.
	BaseFee int64
	// Timeout bounds the transaction's validity window.
	Timeout time.Duration
}

// Remitter pays the anchor's settlement account once a session is ready for funds.
//
// Each session is claimed in the store before anything is submitted, so at most one
// payment is made per session no matter how many watchers reach READY. Payments from the
// same funds account are serialised; a stale sequence number is still retried once with
// a freshly loaded account.
type Remitter struct {
	ledger offramp.Ledger
	store  offramp.WithdrawalStore
	cfg    RemitterConfig
	locks  *accountLocks
	logger logrus.FieldLogger
}

// NewRemitter creates a Remitter. A nil store falls back to an in-memory one.
func NewRemitter(l offramp.Ledger, store offramp.WithdrawalStore, cfg RemitterConfig, logger logrus.FieldLogger) *Remitter {
	if store == nil {
		store = memory.NewWithdrawalStore()
	}
	if cfg.BaseFee <= 0 {
		cfg.BaseFee = defaultBaseFee
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPaymentTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Remitter{
		ledger: l,
		store:  store,
		cfg:    cfg,
		locks:  newAccountLocks(),
		logger: logger,
	}
}

// payment is the validated content of one settlement payment.
type payment struct {
	destination string
	amount      string
	asset       txnbuild.Asset
	memo        txnbuild.Memo
}

// Remit pays the amount the anchor asked for, to the account and memo it named, signed by
// funds only. A session already paid returns the recorded result without submitting.
func (r *Remitter) Remit(ctx context.Context, funds offramp.Signer, sessionID string, tx *offramp.AnchorTransaction, asset offramp.Asset) (*offramp.RemittanceResult, error) {
	if funds == nil || funds.PublicKey() == "" {
		return nil, errors.NewFlowError(errors.CONFIG_INVALID, "funds signer is not configured", nil)
	}

	p, err := preparePayment(tx, asset)
	if err != nil {
		return nil, err
	}

	log := r.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"account":    funds.PublicKey(),
		"amount":     p.amount,
	})

	claimed, err := r.store.ClaimRemittance(ctx, sessionID)
	if err != nil {
		return nil, errors.NewFlowError(errors.LEDGER_SUBMISSION_FAILED, "cannot claim remittance", err).
			With("session_id", sessionID)
	}
	if !claimed {
		existing, err := r.store.FindRemittance(ctx, sessionID)
		if err != nil {
			return nil, errors.NewFlowError(errors.LEDGER_SUBMISSION_FAILED, "cannot read remittance", err).
				With("session_id", sessionID)
		}
		if existing != nil {
			log.WithField("tx_hash", existing.LedgerTransactionID).Info("session already remitted")
			return existing, nil
		}
		return nil, errors.NewFlowError(
			errors.LEDGER_SUBMISSION_FAILED,
			"remittance already in progress for this session",
			errors.NewStoreError(errors.REMITTANCE_IN_PROGRESS, sessionID, nil),
		).With("session_id", sessionID)
	}

	release, err := r.locks.acquire(ctx, funds.PublicKey())
	if err != nil {
		r.release(sessionID, log)
		return nil, errors.NewFlowError(errors.LEDGER_SUBMISSION_FAILED, "cancelled waiting for account lock", err)
	}
	defer release()

	res, err := r.submit(ctx, funds, p)
	if err != nil && ledger.IsBadSequence(err) {
		log.Warn("stale sequence number, reloading account and retrying once")
		res, err = r.submit(ctx, funds, p)
	}
	if err != nil {
		return nil, r.fail(sessionID, err, log)
	}

	result := offramp.RemittanceResult{LedgerTransactionID: res.Hash}
	if err := r.store.CompleteRemittance(ctx, sessionID, result); err != nil {
		// The payment is on the ledger; only the bookkeeping failed.
		log.WithError(err).Error("failed to record remittance")
	}

	log.WithFields(logrus.Fields{"tx_hash": res.Hash, "ledger": res.Ledger}).Info("remittance submitted")
	return &result, nil
}

// fail converts a submission failure and decides whether the claim can be dropped.
// Only a definite rejection (result codes present) or a failure before submission frees
// the session; an unknown outcome keeps it claimed.
func (r *Remitter) fail(sessionID string, err error, log logrus.FieldLogger) error {
	out := errors.NewFlowError(errors.LEDGER_SUBMISSION_FAILED, "payment submission failed", err).
		With("session_id", sessionID)

	var ambiguous bool
	if se, ok := ledger.AsSubmitError(err); ok {
		out.With("result_code", se.TransactionCode).With("operation_codes", se.OperationCodes)
	} else if _, ok := err.(*submitUnknown); ok {
		ambiguous = true
	}

	if ambiguous {
		log.WithError(err).Error("payment outcome unknown, keeping session claimed")
	} else {
		r.release(sessionID, log)
	}
	return out
}

func (r *Remitter) release(sessionID string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.ReleaseRemittance(ctx, sessionID); err != nil {
		log.WithError(err).Error("failed to release remittance claim")
	}
}

// submitUnknown marks a submission whose outcome is unknown (transport failure after send).
type submitUnknown struct {
	cause error
}

func (e *submitUnknown) Error() string { return fmt.Sprintf("submission outcome unknown: %v", e.cause) }
func (e *submitUnknown) Unwrap() error { return e.cause }

// submit performs one load-build-sign-submit cycle.
func (r *Remitter) submit(ctx context.Context, funds offramp.Signer, p *payment) (*offramp.SubmitResult, error) {
	account, err := r.ledger.LoadAccount(ctx, funds.PublicKey())
	if err != nil {
		return nil, err
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: funds.PublicKey(), Sequence: account.Sequence},
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{&txnbuild.Payment{
			Destination: p.destination,
			Amount:      p.amount,
			Asset:       p.asset,
		}},
		BaseFee: r.cfg.BaseFee,
		Memo:    p.memo,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(int64(r.cfg.Timeout / time.Second)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build payment: %w", err)
	}

	envelope, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}

	signed, err := funds.SignTransaction(ctx, envelope, r.cfg.NetworkPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payment: %w", err)
	}

	res, err := r.ledger.Submit(ctx, signed)
	if err != nil {
		if _, ok := ledger.AsSubmitError(err); ok {
			return nil, err
		}
		return nil, &submitUnknown{cause: err}
	}
	return res, nil
}

// preparePayment validates the anchor-specified payment fields.
func preparePayment(tx *offramp.AnchorTransaction, asset offramp.Asset) (*payment, error) {
	if tx == nil || !tx.ReadyForFunds() {
		return nil, errors.NewFlowError(errors.ANCHOR_PROTOCOL_ERROR, "transaction is not ready for funds", nil)
	}

	dest := tx.WithdrawAnchorAccount
	if _, err := xdr.AddressToMuxedAccount(dest); err != nil {
		return nil, errors.NewFlowError(errors.ANCHOR_PROTOCOL_ERROR, fmt.Sprintf("invalid withdraw_anchor_account %q", dest), err)
	}

	amount, err := NormalizeAmount(tx.AmountIn)
	if err != nil {
		return nil, errors.NewFlowError(errors.ANCHOR_PROTOCOL_ERROR, "invalid amount_in", err)
	}

	memo, err := memoFor(tx.WithdrawMemo, tx.WithdrawMemoType)
	if err != nil {
		return nil, errors.NewFlowError(errors.ANCHOR_PROTOCOL_ERROR, "invalid withdraw memo", err)
	}

	var a txnbuild.Asset = txnbuild.NativeAsset{}
	if !asset.IsNative() {
		a = txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer}
	}

	return &payment{destination: dest, amount: amount, asset: a, memo: memo}, nil
}

// accountLocks serialises submissions per source account. Waiting honours ctx.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]chan struct{})}
}

func (l *accountLocks) acquire(ctx context.Context, account string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[account]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[account] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
