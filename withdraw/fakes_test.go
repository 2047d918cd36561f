package withdraw

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/ledger"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/signers"
)

// fakeLedger answers submissions from a queue of outcomes; an exhausted queue succeeds.
// A stale-sequence outcome also advances the account, as if another transaction had
// landed first.
type fakeLedger struct {
	mu       sync.Mutex
	sequence int64
	outcomes []error
	hashes   []string
	loads    int
	submits  []string
}

const concurrentTxs = 5

func newFakeLedger() *fakeLedger {
	return &fakeLedger{sequence: 100}
}

func (l *fakeLedger) fail(errs ...error) *fakeLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, errs...)
	return l
}

func (l *fakeLedger) withHashes(hashes ...string) *fakeLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashes = append(l.hashes, hashes...)
	return l
}

func (l *fakeLedger) LoadAccount(ctx context.Context, accountID string) (*offramp.LedgerAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	return &offramp.LedgerAccount{ID: accountID, Sequence: l.sequence}, nil
}

func (l *fakeLedger) Submit(ctx context.Context, txXDR string) (*offramp.SubmitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submits = append(l.submits, txXDR)
	if len(l.outcomes) > 0 {
		err := l.outcomes[0]
		l.outcomes = l.outcomes[1:]
		if err != nil {
			if ledger.IsBadSequence(err) {
				l.sequence += concurrentTxs
			}
			return nil, err
		}
	}
	l.sequence++
	hash := fmt.Sprintf("hash-%d", len(l.submits))
	if len(l.hashes) > 0 {
		hash, l.hashes = l.hashes[0], l.hashes[1:]
	}
	return &offramp.SubmitResult{Hash: hash, Ledger: 42}, nil
}

func (l *fakeLedger) submitted() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.submits...)
}

func badSeq() error {
	return &ledger.SubmitError{TransactionCode: ledger.CodeBadSequence}
}

func underfunded() error {
	return &ledger.SubmitError{TransactionCode: "tx_failed", OperationCodes: []string{"op_underfunded"}}
}

func transportFailure() error {
	return errors.NewCoreError(errors.NETWORK_ERROR, "connection reset", nil)
}

func randomSigner(t *testing.T) offramp.Signer {
	t.Helper()
	s, err := signers.FromSecret(keypair.MustRandom().Seed())
	require.NoError(t, err)
	return s
}

// decodePayment returns the single payment operation and memo of a submitted envelope.
func decodePayment(t *testing.T, envelope string) (*txnbuild.Transaction, *txnbuild.Payment) {
	t.Helper()
	parsed, err := txnbuild.TransactionFromXDR(envelope)
	require.NoError(t, err)
	tx, ok := parsed.Transaction()
	require.True(t, ok)
	require.Len(t, tx.Operations(), 1)
	payment, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	return tx, payment
}
