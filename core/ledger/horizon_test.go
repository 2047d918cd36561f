package ledger

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go/errors"
)

const testAccount = "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5"

func newTestHorizon(t *testing.T, handler http.HandlerFunc) *Horizon {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewHorizon(srv.URL, WithHTTP(srv.Client()), WithLogger(logger))
}

func TestLoadAccount(t *testing.T) {
	h := newTestHorizon(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts/"+testAccount, r.URL.Path)
		w.Header().Set("Content-Type", "application/hal+json")
		fmt.Fprintf(w, `{
			"id": %q,
			"account_id": %q,
			"sequence": "4294967296",
			"balances": [
				{"balance": "12.5000000", "limit": "1000000.0000000", "asset_type": "credit_alphanum4", "asset_code": "USDC", "asset_issuer": %q},
				{"balance": "2.0000000", "asset_type": "native"}
			]
		}`, testAccount, testAccount, testAccount)
	})

	account, err := h.LoadAccount(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, testAccount, account.ID)
	assert.Equal(t, int64(4294967296), account.Sequence)
	require.Len(t, account.Balances, 2)
	assert.Equal(t, "USDC", account.Balances[0].AssetCode)
	assert.Equal(t, "12.5000000", account.Balances[0].Balance)
	assert.Equal(t, "native", account.Balances[1].AssetType)
}

func TestLoadAccountNotFound(t *testing.T) {
	h := newTestHorizon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"type": "https://stellar.org/horizon-errors/not_found", "title": "Resource Missing", "status": 404}`)
	})

	_, err := h.LoadAccount(context.Background(), testAccount)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ACCOUNT_NOT_FOUND))
}

func TestSubmitSuccess(t *testing.T) {
	h := newTestHorizon(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transactions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "AAAA", r.PostForm.Get("tx"))
		fmt.Fprint(w, `{"hash": "stellar-tx-99", "ledger": 42, "successful": true}`)
	})

	res, err := h.Submit(context.Background(), "AAAA")
	require.NoError(t, err)
	assert.Equal(t, "stellar-tx-99", res.Hash)
	assert.Equal(t, int32(42), res.Ledger)
}

func TestSubmitBadSequence(t *testing.T) {
	h := newTestHorizon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{
			"type": "https://stellar.org/horizon-errors/transaction_failed",
			"title": "Transaction Failed",
			"status": 400,
			"extras": {"result_codes": {"transaction": "tx_bad_seq"}}
		}`)
	})

	_, err := h.Submit(context.Background(), "AAAA")
	require.Error(t, err)
	assert.True(t, IsBadSequence(err))

	se, ok := AsSubmitError(err)
	require.True(t, ok)
	assert.Equal(t, CodeBadSequence, se.TransactionCode)
}

func TestSubmitOperationFailure(t *testing.T) {
	h := newTestHorizon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{
			"type": "https://stellar.org/horizon-errors/transaction_failed",
			"title": "Transaction Failed",
			"status": 400,
			"extras": {"result_codes": {"transaction": "tx_failed", "operations": ["op_underfunded"]}}
		}`)
	})

	_, err := h.Submit(context.Background(), "AAAA")
	require.Error(t, err)
	assert.False(t, IsBadSequence(err))

	se, ok := AsSubmitError(err)
	require.True(t, ok)
	assert.Equal(t, "tx_failed", se.TransactionCode)
	assert.Equal(t, []string{"op_underfunded"}, se.OperationCodes)
}

func TestSubmitCancelled(t *testing.T) {
	h := newTestHorizon(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Submit(ctx, "AAAA")
	require.Error(t, err)
	_, ok := AsSubmitError(err)
	assert.False(t, ok)
	assert.True(t, errors.HasCode(err, errors.NETWORK_ERROR))
}
