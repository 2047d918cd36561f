// Package ledger is the Stellar ledger client used by the withdrawal flow and the
// custodial account tooling. It loads accounts, submits signed envelopes and classifies
// Horizon result codes.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stellar/go-stellar-sdk/clients/horizonclient"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
)

// CodeBadSequence is the Horizon result code for a stale sequence number.
const CodeBadSequence = "tx_bad_seq"

// SubmitError is a submission the ledger answered with result codes.
type SubmitError struct {
	TransactionCode string
	OperationCodes  []string
	Cause           error
}

func (e *SubmitError) Error() string {
	if len(e.OperationCodes) > 0 {
		return fmt.Sprintf("transaction rejected: %s [%s]", e.TransactionCode, strings.Join(e.OperationCodes, ","))
	}
	return fmt.Sprintf("transaction rejected: %s", e.TransactionCode)
}

func (e *SubmitError) Unwrap() error {
	return e.Cause
}

// IsBadSequence reports whether err is a ledger rejection for a stale sequence number.
func IsBadSequence(err error) bool {
	var se *SubmitError
	return stderrors.As(err, &se) && se.TransactionCode == CodeBadSequence
}

// AsSubmitError returns the SubmitError in err's chain, if any.
func AsSubmitError(err error) (*SubmitError, bool) {
	var se *SubmitError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Horizon implements offramp.Ledger against a Horizon server.
type Horizon struct {
	client *horizonclient.Client
	logger logrus.FieldLogger
}

// Option configures a Horizon ledger client.
type Option func(*Horizon)

// WithHTTP sets the HTTP client used for Horizon requests.
func WithHTTP(hc *http.Client) Option {
	return func(h *Horizon) {
		h.client.HTTP = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Horizon) {
		h.logger = logger
	}
}

// NewHorizon creates a ledger client backed by the given Horizon URL.
func NewHorizon(horizonURL string, opts ...Option) *Horizon {
	h := &Horizon{
		client: &horizonclient.Client{HorizonURL: strings.TrimSuffix(horizonURL, "/") + "/"},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ offramp.Ledger = (*Horizon)(nil)

// LoadAccount returns the account's current sequence number and balances.
func (h *Horizon) LoadAccount(ctx context.Context, accountID string) (*offramp.LedgerAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "load account cancelled", err)
	}

	account, err := h.client.AccountDetail(horizonclient.AccountRequest{
		AccountID: accountID,
	})
	if err != nil {
		if herr := horizonclient.GetError(err); herr != nil && herr.Problem.Status == http.StatusNotFound {
			return nil, errors.NewCoreError(errors.ACCOUNT_NOT_FOUND, fmt.Sprintf("account %s not found", accountID), err).
				With("account", accountID)
		}
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, fmt.Sprintf("failed to fetch account %s", accountID), err)
	}

	seq, err := account.GetSequenceNumber()
	if err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "invalid account sequence", err)
	}

	balances := make([]offramp.Balance, len(account.Balances))
	for i, b := range account.Balances {
		balances[i] = offramp.Balance{
			AssetType:   b.Asset.Type,
			AssetCode:   b.Asset.Code,
			AssetIssuer: b.Asset.Issuer,
			Balance:     b.Balance,
			Limit:       b.Limit,
		}
	}

	return &offramp.LedgerAccount{
		ID:       account.AccountID,
		Sequence: seq,
		Balances: balances,
	}, nil
}

// Balances returns the balances of accountID.
func (h *Horizon) Balances(ctx context.Context, accountID string) ([]offramp.Balance, error) {
	account, err := h.LoadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return account.Balances, nil
}

// Submit sends a signed envelope. Rejections that carry result codes come back as
// *SubmitError; anything else (transport, timeout) is a NETWORK_ERROR whose outcome is
// unknown.
func (h *Horizon) Submit(ctx context.Context, txXDR string) (*offramp.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "submit cancelled", err)
	}

	tx, err := h.client.SubmitTransactionXDR(txXDR)
	if err != nil {
		if herr := horizonclient.GetError(err); herr != nil {
			if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil && codes.TransactionCode != "" {
				se := &SubmitError{
					TransactionCode: codes.TransactionCode,
					OperationCodes:  codes.OperationCodes,
					Cause:           err,
				}
				if codes.InnerTransactionCode != "" {
					se.TransactionCode = codes.InnerTransactionCode
				}
				h.logger.WithFields(logrus.Fields{
					"result_code":     se.TransactionCode,
					"operation_codes": se.OperationCodes,
				}).Warn("ledger rejected transaction")
				return nil, se
			}
		}
		return nil, errors.NewCoreError(errors.NETWORK_ERROR, "transaction submission failed", err)
	}

	return &offramp.SubmitResult{
		Hash:   tx.Hash,
		Ledger: tx.Ledger,
	}, nil
}
