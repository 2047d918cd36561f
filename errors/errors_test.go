package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("boom")
	err := NewClientError(AUTH_FAILED, "challenge rejected", cause)

	assert.Equal(t, "[client] AUTH_FAILED: challenge rejected (caused by: boom)", err.Error())
	assert.Same(t, cause, stderrors.Unwrap(err))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewFlowError(WATCH_TIMEOUT, "gave up", nil))

	assert.True(t, stderrors.Is(err, Sentinel(WATCH_TIMEOUT)))
	assert.False(t, stderrors.Is(err, Sentinel(AUTH_FAILED)))
	assert.True(t, HasCode(err, WATCH_TIMEOUT))
}

func TestKindOfReturnsOutermostKind(t *testing.T) {
	inner := NewStoreError(REMITTANCE_IN_PROGRESS, "claimed", nil)
	outer := NewFlowError(LEDGER_SUBMISSION_FAILED, "cannot remit", inner)

	assert.Equal(t, LEDGER_SUBMISSION_FAILED, KindOf(outer))
	assert.True(t, HasCode(outer, REMITTANCE_IN_PROGRESS))

	assert.Equal(t, Code(""), KindOf(inner))
	assert.Equal(t, Code(""), KindOf(stderrors.New("plain")))
	assert.Equal(t, Code(""), KindOf(nil))
}

func TestEnsureKind(t *testing.T) {
	network := NewCoreError(NETWORK_ERROR, "dial failed", nil)

	err := EnsureKind(network, AUTH_FAILED, "client", "authentication failed")
	assert.Equal(t, AUTH_FAILED, KindOf(err))
	assert.True(t, HasCode(err, NETWORK_ERROR))

	already := NewClientError(ASSET_UNSUPPORTED, "no USDC", nil)
	assert.Same(t, already, EnsureKind(already, AUTH_FAILED, "client", "x"))

	assert.NoError(t, EnsureKind(nil, AUTH_FAILED, "client", "x"))
}

func TestWithAndAs(t *testing.T) {
	err := NewFlowError(LEDGER_SUBMISSION_FAILED, "rejected", nil).
		With("result_code", "tx_failed").
		With("session_id", "tx-1")

	var target *OfframpError
	require.True(t, As(fmt.Errorf("ctx: %w", err), &target))
	assert.Equal(t, "tx_failed", target.Context["result_code"])
	assert.Equal(t, "tx-1", target.Context["session_id"])
	assert.Equal(t, "flow", target.Layer)
	assert.False(t, As(nil, &target))
}

func TestIsKind(t *testing.T) {
	for _, code := range []Code{CONFIG_INVALID, AUTH_FAILED, ASSET_UNSUPPORTED, ANCHOR_PROTOCOL_ERROR, WATCH_TIMEOUT, LEDGER_SUBMISSION_FAILED} {
		assert.True(t, IsKind(code), code)
	}
	assert.False(t, IsKind(NETWORK_ERROR))
}
