package sdk

import (
	"context"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/anchortest"
	"github.com/marwen-abid/offramp-go/core/net"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/signers"
)

func newSigner(t *testing.T) offramp.Signer {
	t.Helper()
	s, err := signers.FromSecret(keypair.MustRandom().Seed())
	require.NoError(t, err)
	return s
}

func newClient(a *anchortest.Server) *Client {
	return NewClient(a.NetworkPassphrase(), WithHTTPClient(net.NewClient(
		net.WithMaxRetries(1),
		net.WithRetryBackoff(time.Millisecond),
	)))
}

func TestAuthenticate(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := newClient(a)
	signer := newSigner(t)

	token, err := client.Authenticate(context.Background(), a.Domain(), signer)
	require.NoError(t, err)

	assert.NotEmpty(t, token.Token)
	assert.Equal(t, signer.PublicKey(), token.Account)
	assert.Equal(t, a.Domain(), token.HomeDomain)
	assert.True(t, token.IsValid())
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, time.Minute)
	assert.Equal(t, 1, a.Authentications())
}

func TestAuthenticateNilSigner(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})

	_, err := newClient(a).Authenticate(context.Background(), a.Domain(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CONFIG_INVALID, errors.KindOf(err))
	assert.Zero(t, a.Challenges())
}

func TestAuthenticateNetworkMismatch(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := NewClient("Public Global Stellar Network ; September 2015")

	_, err := client.Authenticate(context.Background(), a.Domain(), newSigner(t))
	require.Error(t, err)
	assert.Equal(t, errors.AUTH_FAILED, errors.KindOf(err))
	assert.Zero(t, a.Authentications())
}

func TestAuthenticateWithoutWebAuth(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{OmitWebAuth: true})

	_, err := newClient(a).Authenticate(context.Background(), a.Domain(), newSigner(t))
	require.Error(t, err)
	assert.Equal(t, errors.AUTH_FAILED, errors.KindOf(err))
}

func TestResolveAsset(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := newClient(a)
	ctx := context.Background()

	asset, err := client.ResolveAsset(ctx, a.Domain(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, a.Asset(), asset)

	_, err = client.ResolveAsset(ctx, a.Domain(), "EURC")
	require.Error(t, err)
	assert.Equal(t, errors.ASSET_UNSUPPORTED, errors.KindOf(err))
}

func TestInitiateWithdrawal(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := newClient(a)
	signer := newSigner(t)
	ctx := context.Background()

	token, err := client.Authenticate(ctx, a.Domain(), signer)
	require.NoError(t, err)

	req := WithdrawalRequest{AssetCode: "USDC", Amount: "25.5", UserID: "user-1", Lang: "en", Country: "US"}
	first, err := client.InitiateWithdrawal(ctx, token, req)
	require.NoError(t, err)
	second, err := client.InitiateWithdrawal(ctx, token, req)
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Contains(t, first.InteractiveURL, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	got := a.Withdrawals()
	require.Len(t, got, 2)
	assert.Equal(t, "USDC", got[0].AssetCode)
	assert.Equal(t, anchortest.DefaultAssetIssuer, got[0].AssetIssuer)
	assert.Equal(t, signer.PublicKey(), got[0].Account)
	assert.Equal(t, signer.PublicKey(), got[0].Subject)
	assert.Equal(t, "25.5", got[0].Amount)
	assert.Equal(t, "en", got[0].Lang)
	assert.Equal(t, "user-1", got[0].UserID)
}

func TestInitiateWithdrawalNotRetried(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := newClient(a)
	ctx := context.Background()

	token, err := client.Authenticate(ctx, a.Domain(), newSigner(t))
	require.NoError(t, err)

	a.FailInitiations(1)
	_, err = client.InitiateWithdrawal(ctx, token, WithdrawalRequest{AssetCode: "USDC", Amount: "1"})
	require.Error(t, err)
	assert.Equal(t, errors.ANCHOR_PROTOCOL_ERROR, errors.KindOf(err))
	assert.Empty(t, a.Withdrawals())
}

func TestInitiateWithdrawalRejectedToken(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := newClient(a)
	ctx := context.Background()

	token, err := client.Authenticate(ctx, a.Domain(), newSigner(t))
	require.NoError(t, err)

	a.RejectTokens(1)
	_, err = client.InitiateWithdrawal(ctx, token, WithdrawalRequest{AssetCode: "USDC", Amount: "1"})
	require.Error(t, err)
	assert.Equal(t, errors.AUTH_FAILED, errors.KindOf(err))
}

func TestInitiateWithdrawalUnsupportedAsset(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := newClient(a)
	ctx := context.Background()

	token, err := client.Authenticate(ctx, a.Domain(), newSigner(t))
	require.NoError(t, err)

	_, err = client.InitiateWithdrawal(ctx, token, WithdrawalRequest{AssetCode: "EURC", Amount: "1"})
	require.Error(t, err)
	assert.Equal(t, errors.ASSET_UNSUPPORTED, errors.KindOf(err))
	assert.Empty(t, a.Withdrawals())
}

func TestFetchTransaction(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{
		Script: []anchortest.Step{
			{Status: offramp.StatusIncomplete},
			anchortest.Ready("GSETTLE", "memo-1", "10"),
		},
	})
	client := newClient(a)
	ctx := context.Background()

	token, err := client.Authenticate(ctx, a.Domain(), newSigner(t))
	require.NoError(t, err)
	session, err := client.InitiateWithdrawal(ctx, token, WithdrawalRequest{AssetCode: "USDC", Amount: "10"})
	require.NoError(t, err)

	tx, err := client.FetchTransaction(ctx, token, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, tx.ID)
	assert.Equal(t, offramp.StatusIncomplete, tx.Status)
	assert.False(t, tx.ReadyForFunds())

	tx, err = client.FetchTransaction(ctx, token, session.ID)
	require.NoError(t, err)
	assert.True(t, tx.ReadyForFunds())
	assert.Equal(t, "memo-1", tx.WithdrawMemo)
	assert.Equal(t, 2, a.Lookups(session.ID))
}

func TestFetchTransactionErrors(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := newClient(a)
	ctx := context.Background()

	token, err := client.Authenticate(ctx, a.Domain(), newSigner(t))
	require.NoError(t, err)

	_, err = client.FetchTransaction(ctx, token, "missing")
	require.Error(t, err)
	assert.Equal(t, errors.ANCHOR_PROTOCOL_ERROR, errors.KindOf(err))

	a.RejectTokens(1)
	_, err = client.FetchTransaction(ctx, token, "missing")
	assert.Equal(t, errors.AUTH_FAILED, errors.KindOf(err))

	// Persistent 5xx surfaces as a transport error without a kind.
	a.FailLookups(5)
	_, err = client.FetchTransaction(ctx, token, "missing")
	require.Error(t, err)
	assert.Empty(t, errors.KindOf(err))
	assert.True(t, errors.HasCode(err, errors.NETWORK_ERROR))
}

func TestFetchTransactionTomlRefreshFailureIsTransport(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{
		Script: []anchortest.Step{anchortest.Ready("GSETTLE", "memo-1", "10")},
	})
	client := newClient(a)
	ctx := context.Background()

	token, err := client.Authenticate(ctx, a.Domain(), newSigner(t))
	require.NoError(t, err)
	session, err := client.InitiateWithdrawal(ctx, token, WithdrawalRequest{AssetCode: "USDC", Amount: "10"})
	require.NoError(t, err)

	// Cache expired and the refresh cannot reach the anchor.
	client.tomlResolver.Invalidate(a.Domain())
	a.FailToml(2)
	_, err = client.FetchTransaction(ctx, token, session.ID)
	require.Error(t, err)
	assert.Empty(t, errors.KindOf(err))
	assert.True(t, errors.HasCode(err, errors.NETWORK_ERROR))

	tx, err := client.FetchTransaction(ctx, token, session.ID)
	require.NoError(t, err)
	assert.True(t, tx.ReadyForFunds())
}
