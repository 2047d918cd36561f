package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/marwen-abid/offramp-go/errors"
)

// scrypt parameters for sealing custodial secrets with a user PIN.
// N is lower than a wallet file would use: sealing happens on request paths.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
	nonceLen     = 12
)

// Seal encrypts secret with a key derived from pin and returns
// base64(salt || nonce || ciphertext).
//
// This is a convenience for custodial test deployments, not hardened key custody.
func Seal(secret, pin string) (string, error) {
	if pin == "" {
		return "", errors.NewCoreError(errors.SEAL_FAILED, "pin is required", nil)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errors.NewCoreError(errors.SEAL_FAILED, "failed to generate salt", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.NewCoreError(errors.SEAL_FAILED, "failed to generate nonce", err)
	}

	aead, err := newAEAD(pin, salt)
	if err != nil {
		return "", err
	}

	plaintext := []byte(secret)
	defer clear(plaintext)

	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. A wrong pin fails authentication and returns SEAL_FAILED.
func Open(sealed, pin string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.NewCoreError(errors.SEAL_FAILED, "sealed secret is not base64", err)
	}
	if len(raw) < saltLen+nonceLen+1 {
		return "", errors.NewCoreError(errors.SEAL_FAILED, "sealed secret is truncated", nil)
	}

	salt := raw[:saltLen]
	nonce := raw[saltLen : saltLen+nonceLen]
	ciphertext := raw[saltLen+nonceLen:]

	aead, err := newAEAD(pin, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.NewCoreError(errors.SEAL_FAILED, "failed to open sealed secret (wrong pin?)", err)
	}
	defer clear(plaintext)
	return string(plaintext), nil
}

func newAEAD(pin string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(pin), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, errors.NewCoreError(errors.SEAL_FAILED, "failed to derive key", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewCoreError(errors.SEAL_FAILED, "failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewCoreError(errors.SEAL_FAILED, "failed to create GCM", err)
	}
	return aead, nil
}

