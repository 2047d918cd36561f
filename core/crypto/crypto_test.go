package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go/errors"
)

func TestGenerateNonce(t *testing.T) {
	nonce, err := GenerateNonce(48)
	require.NoError(t, err)
	assert.Len(t, nonce, 64)

	raw, err := base64.StdEncoding.DecodeString(nonce)
	require.NoError(t, err)
	assert.Len(t, raw, 48)

	_, err = GenerateNonce(0)
	assert.Error(t, err)
}

func TestIsPublicKey(t *testing.T) {
	kp := keypair.MustRandom()
	assert.True(t, IsPublicKey(kp.Address()))
	assert.False(t, IsPublicKey(kp.Seed()))
	assert.False(t, IsPublicKey("GABC"))
}

func TestSignedBy(t *testing.T) {
	kp := keypair.MustRandom()
	msg := []byte("challenge")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	assert.True(t, SignedBy(kp.Address(), msg, sig))
	assert.False(t, SignedBy(kp.Address(), []byte("other"), sig))
	assert.False(t, SignedBy(keypair.MustRandom().Address(), msg, sig))
	assert.False(t, SignedBy("GABC", msg, sig))
}

func TestSealOpen(t *testing.T) {
	secret := keypair.MustRandom().Seed()

	sealed, err := Seal(secret, "4821")
	require.NoError(t, err)
	assert.NotContains(t, sealed, secret)

	opened, err := Open(sealed, "4821")
	require.NoError(t, err)
	assert.Equal(t, secret, opened)

	again, err := Seal(secret, "4821")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "salt and nonce are random")
}

func TestOpenFailures(t *testing.T) {
	sealed, err := Seal("SSECRET", "4821")
	require.NoError(t, err)

	_, err = Open(sealed, "0000")
	assert.True(t, errors.HasCode(err, errors.SEAL_FAILED))

	_, err = Open("%%%", "4821")
	assert.True(t, errors.HasCode(err, errors.SEAL_FAILED))

	_, err = Open(base64.StdEncoding.EncodeToString([]byte("short")), "4821")
	assert.True(t, errors.HasCode(err, errors.SEAL_FAILED))

	_, err = Seal("SSECRET", "")
	assert.True(t, errors.HasCode(err, errors.SEAL_FAILED))
}
