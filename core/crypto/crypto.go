// Package crypto holds the small cryptographic helpers shared by the module: random
// nonces, Stellar address checks and PIN sealing of custodial secrets.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/stellar/go/keypair"
)

// GenerateNonce returns n random bytes, base64 encoded. SEP-10 challenges use 48
// bytes, which encode to the 64 characters manage_data values allow.
func GenerateNonce(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("nonce length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// IsPublicKey reports whether s is a valid Stellar account address (G...).
func IsPublicKey(s string) bool {
	_, err := keypair.ParseAddress(s)
	return err == nil
}

// SignedBy reports whether signature is account's signature of message. A malformed
// account never matches.
func SignedBy(account string, message, signature []byte) bool {
	kp, err := keypair.ParseAddress(account)
	if err != nil {
		return false
	}
	return kp.Verify(message, signature) == nil
}
