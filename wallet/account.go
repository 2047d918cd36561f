// Package wallet provisions custodial funds accounts: a fresh keypair funded by an
// operator account, a trustline to the withdrawal asset and a PIN-sealed secret.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/crypto"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/signers"
)

const (
	defaultStartingBalance = "2"
	defaultTrustLimit      = "1000000"
	defaultBaseFee         = int64(100)
	defaultTimeout         = 30 * time.Second
	minPinLength           = 4
)

// Config holds the provisioning parameters.
type Config struct {
	NetworkPassphrase string
	// Asset is the trustline to open; a native asset skips the trustline.
	Asset           offramp.Asset
	StartingBalance string
	TrustLimit      string
	BaseFee         int64
	Timeout         time.Duration
}

// Account is a provisioned custodial account.
type Account struct {
	PublicKey       string `json:"public_key"`
	SealedSecret    string `json:"sealed_secret"`
	CreateTxHash    string `json:"create_tx_hash"`
	TrustlineTxHash string `json:"trustline_tx_hash,omitempty"`
}

// Creator opens accounts funded by funder.
type Creator struct {
	ledger offramp.Ledger
	funder offramp.Signer
	cfg    Config
	logger logrus.FieldLogger
}

// NewCreator validates cfg and returns a Creator. A nil funder is CONFIG_INVALID.
func NewCreator(l offramp.Ledger, funder offramp.Signer, cfg Config, logger logrus.FieldLogger) (*Creator, error) {
	if l == nil {
		return nil, errors.NewClientError(errors.CONFIG_INVALID, "ledger is required", nil)
	}
	if funder == nil {
		return nil, errors.NewClientError(errors.CONFIG_INVALID, "funder signer is not configured", nil)
	}
	if cfg.NetworkPassphrase == "" {
		return nil, errors.NewClientError(errors.CONFIG_INVALID, "network passphrase is required", nil)
	}
	if cfg.StartingBalance == "" {
		cfg.StartingBalance = defaultStartingBalance
	}
	if cfg.TrustLimit == "" {
		cfg.TrustLimit = defaultTrustLimit
	}
	if cfg.BaseFee <= 0 {
		cfg.BaseFee = defaultBaseFee
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Creator{ledger: l, funder: funder, cfg: cfg, logger: logger}, nil
}

// CreateAccount creates and funds a new account, opens the asset trustline and returns
// the secret sealed under pin. The secret itself never leaves this function.
func (c *Creator) CreateAccount(ctx context.Context, pin string) (*Account, error) {
	if len(strings.TrimSpace(pin)) < minPinLength {
		return nil, errors.NewClientError(errors.INVALID_REQUEST, fmt.Sprintf("pin must be at least %d characters", minPinLength), nil)
	}

	kp, err := keypair.Random()
	if err != nil {
		return nil, errors.NewClientError(errors.LEDGER_SUBMISSION_FAILED, "failed to generate keypair", err)
	}
	sealed, err := crypto.Seal(kp.Seed(), pin)
	if err != nil {
		return nil, err
	}
	owner, err := signers.FromSecret(kp.Seed())
	if err != nil {
		return nil, err
	}

	log := c.logger.WithFields(logrus.Fields{"account": kp.Address(), "funder": c.funder.PublicKey()})

	createHash, err := c.submit(ctx, c.funder, &txnbuild.CreateAccount{
		Destination: kp.Address(),
		Amount:      c.cfg.StartingBalance,
	})
	if err != nil {
		return nil, errors.NewClientError(errors.LEDGER_SUBMISSION_FAILED, "failed to create account", err).
			With("account", kp.Address())
	}
	log.WithField("tx_hash", createHash).Info("account created")

	account := &Account{
		PublicKey:    kp.Address(),
		SealedSecret: sealed,
		CreateTxHash: createHash,
	}

	if c.cfg.Asset.IsNative() || c.cfg.Asset.Code == "" {
		return account, nil
	}

	trustHash, _, err := c.EnsureTrustline(ctx, owner)
	if err != nil {
		// The account exists and is funded; return it so the caller can retry the trustline.
		return account, err
	}
	account.TrustlineTxHash = trustHash
	return account, nil
}

// EnsureTrustline opens the configured asset trustline for the signer's account unless it
// already exists. It reports whether a transaction was submitted.
func (c *Creator) EnsureTrustline(ctx context.Context, owner offramp.Signer) (string, bool, error) {
	loaded, err := c.ledger.LoadAccount(ctx, owner.PublicKey())
	if err != nil {
		return "", false, errors.NewClientError(errors.LEDGER_SUBMISSION_FAILED, "failed to load account", err)
	}
	for _, b := range loaded.Balances {
		if b.AssetCode == c.cfg.Asset.Code && b.AssetIssuer == c.cfg.Asset.Issuer {
			return "", false, nil
		}
	}

	line, err := txnbuild.CreditAsset{Code: c.cfg.Asset.Code, Issuer: c.cfg.Asset.Issuer}.ToChangeTrustAsset()
	if err != nil {
		return "", false, errors.NewClientError(errors.ASSET_UNSUPPORTED, "invalid trustline asset", err)
	}
	hash, err := c.submit(ctx, owner, &txnbuild.ChangeTrust{Line: line, Limit: c.cfg.TrustLimit})
	if err != nil {
		return "", false, errors.NewClientError(errors.LEDGER_SUBMISSION_FAILED, "failed to open trustline", err).
			With("account", owner.PublicKey())
	}
	c.logger.WithFields(logrus.Fields{"account": owner.PublicKey(), "tx_hash": hash}).Info("trustline opened")
	return hash, true, nil
}

// Balances returns the balances of account.
func (c *Creator) Balances(ctx context.Context, account string) ([]offramp.Balance, error) {
	if !crypto.IsPublicKey(account) {
		return nil, errors.NewClientError(errors.INVALID_REQUEST, fmt.Sprintf("invalid account %q", account), nil)
	}
	loaded, err := c.ledger.LoadAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return loaded.Balances, nil
}

func (c *Creator) submit(ctx context.Context, source offramp.Signer, op txnbuild.Operation) (string, error) {
	loaded, err := c.ledger.LoadAccount(ctx, source.PublicKey())
	if err != nil {
		return "", err
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: source.PublicKey(), Sequence: loaded.Sequence},
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              c.cfg.BaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(int64(c.cfg.Timeout / time.Second)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}
	envelope, err := tx.Base64()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	signed, err := source.SignTransaction(ctx, envelope, c.cfg.NetworkPassphrase)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	res, err := c.ledger.Submit(ctx, signed)
	if err != nil {
		return "", err
	}
	return res.Hash, nil
}
