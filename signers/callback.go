package signers

import (
	"context"

	"github.com/marwen-abid/offramp-go"
)

// SignFunc returns the base64 envelope signed for the network.
type SignFunc func(ctx context.Context, xdr string, networkPassphrase string) (string, error)

type callbackSigner struct {
	publicKey string
	sign      SignFunc
}

// FromCallback adapts an external signing function, such as an HSM or a signer that
// decrypts its key per call, to offramp.Signer.
func FromCallback(publicKey string, sign SignFunc) offramp.Signer {
	return &callbackSigner{publicKey: publicKey, sign: sign}
}

func (s *callbackSigner) PublicKey() string { return s.publicKey }

func (s *callbackSigner) SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error) {
	return s.sign(ctx, xdr, networkPassphrase)
}
