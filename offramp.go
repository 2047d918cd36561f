// Package offramp moves a stablecoin balance held in a custodial Stellar account to a cash
// payout through a SEP-24 anchor (MoneyGram Access or the SDF test anchor).
//
// The flow authenticates with the anchor (SEP-10), opens an interactive withdrawal
// (SEP-24), watches the anchor transaction until the anchor is ready to receive funds and
// then pays the anchor's settlement account with the anchor-specified memo. The root
// package holds the types and collaborator interfaces shared by the sub-packages; the
// flow itself lives in package withdraw.
package offramp

import (
	"context"
	"time"
)

// Signer is the minimal contract for proving identity and authorizing actions.
// The caller provides a Signer; the SDK uses it.
type Signer interface {
	// PublicKey returns the Stellar address (G...) identifying this signer.
	PublicKey() string

	// SignTransaction signs a Stellar transaction envelope (base64 XDR).
	// The networkPassphrase is required for computing the correct transaction hash.
	// Returns the signed envelope as base64 XDR.
	SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error)
}

// AuthToken is a SEP-10 bearer credential scoped to one anchor domain and one account.
// Expiry is informational: the anchor enforces it, and callers re-authenticate on failure.
type AuthToken struct {
	Token      string
	HomeDomain string
	Account    string
	ExpiresAt  time.Time
}

// IsValid reports whether the token has not passed its advertised expiry.
func (t *AuthToken) IsValid() bool {
	return t != nil && t.Token != "" && time.Now().Before(t.ExpiresAt)
}

// Asset identifies a Stellar asset. An empty Issuer with Code "native" or "XLM" is lumens.
type Asset struct {
	Code   string
	Issuer string
}

// IsNative reports whether the asset is the native lumen.
func (a Asset) IsNative() bool {
	return a.Issuer == "" && (a.Code == "native" || a.Code == "XLM")
}

// String returns "CODE:ISSUER", or "native".
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// WithdrawalSession is an interactive withdrawal opened with the anchor.
// ID is the join key used for watching and out-of-band status checks.
type WithdrawalSession struct {
	ID             string
	InteractiveURL string
}

// RemittanceResult records the ledger payment that settled a withdrawal session.
type RemittanceResult struct {
	LedgerTransactionID string
}

// TransactionStatus is the SEP-24 status reported by the anchor.
type TransactionStatus string

const (
	StatusIncomplete                  TransactionStatus = "incomplete"
	StatusPendingUserTransferStart    TransactionStatus = "pending_user_transfer_start"
	StatusPendingUserTransferComplete TransactionStatus = "pending_user_transfer_complete"
	StatusPendingExternal             TransactionStatus = "pending_external"
	StatusPendingAnchor               TransactionStatus = "pending_anchor"
	StatusPendingStellar              TransactionStatus = "pending_stellar"
	StatusPendingTrust                TransactionStatus = "pending_trust"
	StatusPendingUser                 TransactionStatus = "pending_user"
	StatusCompleted                   TransactionStatus = "completed"
	StatusRefunded                    TransactionStatus = "refunded"
	StatusExpired                     TransactionStatus = "expired"
	StatusNoMarket                    TransactionStatus = "no_market"
	StatusTooSmall                    TransactionStatus = "too_small"
	StatusTooLarge                    TransactionStatus = "too_large"
	StatusError                       TransactionStatus = "error"
)

// IsFailure reports whether the anchor considers the transaction failed.
func (s TransactionStatus) IsFailure() bool {
	switch s {
	case StatusError, StatusExpired, StatusRefunded, StatusNoMarket, StatusTooSmall, StatusTooLarge:
		return true
	default:
		return false
	}
}

// IsSettled reports whether the anchor already has the funds or considers the flow done.
func (s TransactionStatus) IsSettled() bool {
	return s == StatusPendingUserTransferComplete || s == StatusCompleted
}

// AnchorTransaction is a SEP-24 transaction record as returned by GET /transaction.
type AnchorTransaction struct {
	ID                    string            `json:"id"`
	Kind                  string            `json:"kind"`
	Status                TransactionStatus `json:"status"`
	StatusETA             int               `json:"status_eta,omitempty"`
	MoreInfoURL           string            `json:"more_info_url,omitempty"`
	AmountIn              string            `json:"amount_in,omitempty"`
	AmountInAsset         string            `json:"amount_in_asset,omitempty"`
	AmountOut             string            `json:"amount_out,omitempty"`
	AmountFee             string            `json:"amount_fee,omitempty"`
	StartedAt             *time.Time        `json:"started_at,omitempty"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
	StellarTransactionID  string            `json:"stellar_transaction_id,omitempty"`
	ExternalTransactionID string            `json:"external_transaction_id,omitempty"`
	Message               string            `json:"message,omitempty"`
	To                    string            `json:"to,omitempty"`
	From                  string            `json:"from,omitempty"`
	WithdrawAnchorAccount string            `json:"withdraw_anchor_account,omitempty"`
	WithdrawMemo          string            `json:"withdraw_memo,omitempty"`
	WithdrawMemoType      string            `json:"withdraw_memo_type,omitempty"`
}

// ReadyForFunds reports whether the transaction carries everything needed to pay the
// anchor: status pending_user_transfer_start with destination, memo and amount present.
func (t *AnchorTransaction) ReadyForFunds() bool {
	return t.Status == StatusPendingUserTransferStart &&
		t.WithdrawAnchorAccount != "" &&
		t.WithdrawMemo != "" &&
		t.AmountIn != ""
}

// LedgerAccount is the subset of ledger account state the flow needs.
type LedgerAccount struct {
	ID       string
	Sequence int64
	Balances []Balance
}

// Balance is one trustline (or the native balance) of an account.
type Balance struct {
	AssetType   string
	AssetCode   string
	AssetIssuer string
	Balance     string
	Limit       string
}

// SubmitResult is the ledger's acknowledgement of an applied transaction.
type SubmitResult struct {
	Hash   string
	Ledger int32
}

// Ledger is the capability the flow needs from the distributed ledger.
// Submit failures that the ledger rejected with a result code are reported as
// *ledger.SubmitError so the stale-sequence condition can be told apart.
type Ledger interface {
	LoadAccount(ctx context.Context, accountID string) (*LedgerAccount, error)
	Submit(ctx context.Context, txXDR string) (*SubmitResult, error)
}

// Withdrawal is the persisted record of one user-initiated withdrawal.
type Withdrawal struct {
	ID                    string // anchor transaction id
	UserID                string
	AnchorDomain          string
	AssetCode             string
	AssetIssuer           string
	Amount                string // decimal string
	Account               string // funds account
	InteractiveURL        string
	Status                TransactionStatus
	StellarTxHash         string
	SettlementAccount     string // anchor account the funds go to
	WithdrawMemo          string
	ExternalTransactionID string
	MoreInfoURL           string
	Message               string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	CompletedAt           *time.Time
}

// WithdrawalUpdate contains the mutable fields for a withdrawal update.
// Only non-nil fields are applied.
type WithdrawalUpdate struct {
	Status                *TransactionStatus
	StellarTxHash         *string
	SettlementAccount     *string
	WithdrawMemo          *string
	ExternalTransactionID *string
	MoreInfoURL           *string
	Message               *string
	CompletedAt           *time.Time
}

// WithdrawalFilters for listing withdrawals.
type WithdrawalFilters struct {
	UserID string
	Status *TransactionStatus
	Limit  int
}

// WithdrawalStore is the persistence interface for withdrawal records and the
// per-session remittance claim that guarantees at most one payment per session.
type WithdrawalStore interface {
	// Save persists a new withdrawal record.
	Save(ctx context.Context, w *Withdrawal) error

	// FindByID retrieves a withdrawal by its anchor transaction id.
	FindByID(ctx context.Context, id string) (*Withdrawal, error)

	// Update applies partial updates to an existing withdrawal.
	Update(ctx context.Context, id string, update *WithdrawalUpdate) error

	// List returns withdrawals matching the filters, newest first.
	List(ctx context.Context, filters WithdrawalFilters) ([]*Withdrawal, error)

	// ClaimRemittance atomically reserves the right to pay the anchor for a session.
	// It returns false if the session was already claimed.
	ClaimRemittance(ctx context.Context, id string) (bool, error)

	// CompleteRemittance records the payment for a claimed session.
	CompleteRemittance(ctx context.Context, id string, result RemittanceResult) error

	// ReleaseRemittance drops an unfinished claim so a later invocation may pay.
	ReleaseRemittance(ctx context.Context, id string) error

	// FindRemittance returns the recorded payment, or nil if none was completed.
	FindRemittance(ctx context.Context, id string) (*RemittanceResult, error)
}
