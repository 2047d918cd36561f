package signers

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/crypto"
	"github.com/marwen-abid/offramp-go/errors"
)

type keypairSigner struct {
	kp *keypair.Full
}

// FromSecret creates a Signer from a Stellar secret key (S...).
// An empty or malformed secret returns a CONFIG_INVALID error.
func FromSecret(secret string) (offramp.Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.NewClientError(errors.CONFIG_INVALID, "signing secret is not configured", nil)
	}
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, errors.NewClientError(errors.CONFIG_INVALID, "invalid secret key", err)
	}
	return &keypairSigner{kp: kp}, nil
}

// FromSealedSecret opens a secret sealed with crypto.Seal under pin. The opened key is
// not retained: each signature opens the envelope again.
func FromSealedSecret(sealed, pin string) (offramp.Signer, error) {
	open := func() (*keypairSigner, error) {
		if strings.TrimSpace(sealed) == "" {
			return nil, errors.NewClientError(errors.CONFIG_INVALID, "sealed secret is not configured", nil)
		}
		secret, err := crypto.Open(sealed, pin)
		if err != nil {
			return nil, errors.NewClientError(errors.CONFIG_INVALID, "cannot open sealed secret", err)
		}
		s, err := FromSecret(secret)
		if err != nil {
			return nil, err
		}
		return s.(*keypairSigner), nil
	}

	s, err := open()
	if err != nil {
		return nil, err
	}
	return FromCallback(s.PublicKey(), func(ctx context.Context, xdr, networkPassphrase string) (string, error) {
		s, err := open()
		if err != nil {
			return "", err
		}
		return s.SignTransaction(ctx, xdr, networkPassphrase)
	}), nil
}

func (s *keypairSigner) PublicKey() string { return s.kp.Address() }

// SignTransaction adds this key's signature to a base64 transaction envelope.
// Fee-bump envelopes are refused; the funds account only signs its own payments.
func (s *keypairSigner) SignTransaction(_ context.Context, envelope string, networkPassphrase string) (string, error) {
	generic, err := txnbuild.TransactionFromXDR(envelope)
	if err != nil {
		return "", fmt.Errorf("parse envelope: %w", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return "", fmt.Errorf("fee-bump envelopes are not signed")
	}
	if tx, err = tx.Sign(networkPassphrase, s.kp); err != nil {
		return "", fmt.Errorf("sign envelope: %w", err)
	}
	return tx.Base64()
}
