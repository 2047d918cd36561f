package withdraw

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/anchortest"
	"github.com/marwen-abid/offramp-go/core/net"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/sdk"
)

type harness struct {
	anchor *anchortest.Server
	ledger *fakeLedger
	orch   *Orchestrator
	funds  offramp.Signer
	settle string
}

func newHarness(t *testing.T, attempts int, script ...anchortest.Step) *harness {
	t.Helper()
	a := anchortest.New(t, anchortest.Config{Script: script})
	client := sdk.NewClient(a.NetworkPassphrase(), sdk.WithHTTPClient(net.NewClient(net.WithMaxRetries(0))))
	l := newFakeLedger()
	funds := randomSigner(t)

	o, err := New(Config{
		AnchorDomain:    a.Domain(),
		AssetCode:       "USDC",
		Lang:            "en",
		PollInterval:    5 * time.Millisecond,
		MaxPollAttempts: attempts,
	}, client, l, WithAuthSigner(funds), WithFundsSigner(funds))
	require.NoError(t, err)

	return &harness{anchor: a, ledger: l, orch: o, funds: funds, settle: keypair.MustRandom().Address()}
}

func (h *harness) ready(memo, amount string) anchortest.Step {
	return anchortest.Ready(h.settle, memo, amount)
}

func TestWithdrawEndToEnd(t *testing.T) {
	h := newHarness(t, 20)
	h.ledger.withHashes("stellar-tx-99")
	ctx := context.Background()

	hooks := h.orch.Hooks()
	events := recordEvents(hooks)
	hooks.On(HookInitiated, func(ev Event) {
		h.anchor.SetScript(ev.SessionID,
			anchortest.Step{Status: offramp.StatusIncomplete},
			anchortest.Step{Status: offramp.StatusIncomplete},
			h.ready("MG-1", "10"),
		)
	})

	res, err := h.orch.Withdraw(ctx, Request{Amount: "10", UserID: "user-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.InteractiveURL)
	assert.Equal(t, offramp.StatusPendingUserTransferStart, res.FinalStatus)
	assert.Equal(t, "stellar-tx-99", res.LedgerTransactionID)
	assert.Equal(t, []HookEvent{HookInitiated, HookStatusChanged, HookStatusChanged, HookReady, HookRemitted}, events())

	initiated := h.anchor.Withdrawals()
	require.Len(t, initiated, 1)
	assert.Equal(t, "10", initiated[0].Amount)
	assert.Equal(t, "user-1", initiated[0].UserID)
	assert.Equal(t, h.funds.PublicKey(), initiated[0].Account)
	assert.Equal(t, "en", initiated[0].Lang)

	submits := h.ledger.submitted()
	require.Len(t, submits, 1)
	envelope, payment := decodePayment(t, submits[0])
	assert.Equal(t, h.settle, payment.Destination)
	assert.Equal(t, "10.0000000", payment.Amount)
	assert.Equal(t, txnbuild.MemoText("MG-1"), envelope.Memo())
	assert.Equal(t, h.funds.PublicKey(), envelope.SourceAccount().AccountID)

	rec, err := h.orch.Store().FindByID(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, offramp.StatusPendingUserTransferStart, rec.Status)
	assert.Equal(t, "stellar-tx-99", rec.StellarTxHash)
	assert.Equal(t, h.settle, rec.SettlementAccount)
	assert.Equal(t, "MG-1", rec.WithdrawMemo)
}

func TestWithdrawTomlRefreshFailureCountsAsAttempt(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	client := sdk.NewClient(a.NetworkPassphrase(),
		sdk.WithHTTPClient(net.NewClient(net.WithMaxRetries(0))),
		sdk.WithTomlCacheTTL(0),
	)
	l := newFakeLedger()
	l.withHashes("stellar-tx-3")
	funds := randomSigner(t)
	o, err := New(Config{
		AnchorDomain:    a.Domain(),
		AssetCode:       "USDC",
		PollInterval:    5 * time.Millisecond,
		MaxPollAttempts: 10,
	}, client, l, WithAuthSigner(funds), WithFundsSigner(funds))
	require.NoError(t, err)

	settle := keypair.MustRandom().Address()
	o.Hooks().On(HookInitiated, func(ev Event) {
		a.SetScript(ev.SessionID,
			anchortest.Step{Status: offramp.StatusIncomplete},
			anchortest.Ready(settle, "MG-3", "10"),
		)
	})
	o.Hooks().On(HookStatusChanged, func(ev Event) {
		if ev.Status == offramp.StatusIncomplete {
			a.FailToml(1)
		}
	})

	res, err := o.Withdraw(context.Background(), Request{Amount: "10", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "stellar-tx-3", res.LedgerTransactionID)
	assert.Len(t, l.submitted(), 1)
}

func TestStartTwiceOpensDistinctSessions(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	first, err := h.orch.Start(ctx, Request{Amount: "5", UserID: "user-1"})
	require.NoError(t, err)
	second, err := h.orch.Start(ctx, Request{Amount: "5", UserID: "user-1"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.InteractiveURL, second.InteractiveURL)
	assert.Len(t, h.anchor.Withdrawals(), 2)
	assert.Empty(t, h.ledger.submitted())

	list, err := h.orch.Store().List(ctx, offramp.WithdrawalFilters{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestWithdrawTimeoutMakesNoPayment(t *testing.T) {
	h := newHarness(t, 4, anchortest.Step{Status: offramp.StatusIncomplete})

	res, err := h.orch.Withdraw(context.Background(), Request{Amount: "10", UserID: "user-1"})
	require.Error(t, err)
	assert.Equal(t, errors.WATCH_TIMEOUT, errors.KindOf(err))
	assert.Equal(t, offramp.StatusIncomplete, res.FinalStatus)
	assert.Empty(t, h.ledger.submitted())
	assert.Equal(t, 4, h.anchor.Lookups(res.SessionID))

	rec, err := h.orch.Store().FindByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Contains(t, rec.Message, string(errors.WATCH_TIMEOUT))
}

func TestWithdrawAnchorErrorMakesNoPayment(t *testing.T) {
	h := newHarness(t, 10,
		anchortest.Step{Status: offramp.StatusIncomplete},
		anchortest.Step{Status: offramp.StatusError, Message: "KYC rejected"},
	)

	res, err := h.orch.Withdraw(context.Background(), Request{Amount: "10", UserID: "user-1"})
	require.Error(t, err)
	assert.Equal(t, errors.ANCHOR_PROTOCOL_ERROR, errors.KindOf(err))
	assert.Contains(t, err.Error(), "KYC rejected")
	assert.Equal(t, offramp.StatusError, res.FinalStatus)
	assert.Empty(t, h.ledger.submitted())

	rec, err := h.orch.Store().FindByID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, offramp.StatusError, rec.Status)
}

func TestWithdrawRetriesBadSequenceOnce(t *testing.T) {
	h := newHarness(t, 10)
	h.orch.Hooks().On(HookInitiated, func(ev Event) { h.anchor.SetScript(ev.SessionID, h.ready("MG-2", "3")) })
	h.ledger.fail(badSeq())

	res, err := h.orch.Withdraw(context.Background(), Request{Amount: "3", UserID: "user-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.LedgerTransactionID)
	assert.Len(t, h.ledger.submitted(), 2)
}

func TestWithdrawBadSequenceNotRetriedTwice(t *testing.T) {
	h := newHarness(t, 10)
	h.orch.Hooks().On(HookInitiated, func(ev Event) { h.anchor.SetScript(ev.SessionID, h.ready("MG-3", "3")) })
	h.ledger.fail(badSeq(), badSeq(), badSeq())

	_, err := h.orch.Withdraw(context.Background(), Request{Amount: "3", UserID: "user-1"})
	require.Error(t, err)
	assert.Equal(t, errors.LEDGER_SUBMISSION_FAILED, errors.KindOf(err))
	assert.Len(t, h.ledger.submitted(), 2)
}

func TestWithdrawReauthenticatesOnce(t *testing.T) {
	h := newHarness(t, 10)
	h.orch.Hooks().On(HookInitiated, func(ev Event) { h.anchor.SetScript(ev.SessionID, h.ready("MG-4", "1")) })
	h.anchor.RejectTokens(1)

	_, err := h.orch.Withdraw(context.Background(), Request{Amount: "1", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, h.anchor.Authentications())
	assert.Len(t, h.anchor.Withdrawals(), 1)
}

func TestWithdrawGivesUpAfterSecondRejection(t *testing.T) {
	h := newHarness(t, 10)
	h.anchor.RejectTokens(2)

	_, err := h.orch.Withdraw(context.Background(), Request{Amount: "1", UserID: "user-1"})
	require.Error(t, err)
	assert.Equal(t, errors.AUTH_FAILED, errors.KindOf(err))
	assert.Equal(t, 2, h.anchor.Authentications())
	assert.Empty(t, h.anchor.Withdrawals())
}

func TestWithdrawRejectsBadInputBeforeNetwork(t *testing.T) {
	h := newHarness(t, 10)

	for _, req := range []Request{
		{Amount: "", UserID: "user-1"},
		{Amount: "-4", UserID: "user-1"},
		{Amount: "1.123456789", UserID: "user-1"},
		{Amount: "10", UserID: ""},
	} {
		_, err := h.orch.Withdraw(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.INVALID_REQUEST))
		assert.Empty(t, errors.KindOf(err))
	}
	assert.Zero(t, h.anchor.Challenges())
}

func TestWithdrawWithoutSigners(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	o, err := New(Config{AnchorDomain: a.Domain(), AssetCode: "USDC"}, sdk.NewClient(a.NetworkPassphrase()), newFakeLedger())
	require.NoError(t, err)

	_, err = o.Withdraw(context.Background(), Request{Amount: "1", UserID: "user-1"})
	require.Error(t, err)
	assert.Equal(t, errors.CONFIG_INVALID, errors.KindOf(err))
	assert.Zero(t, a.Challenges())

	_, err = o.CheckStatus(context.Background(), "tx-1")
	assert.Equal(t, errors.CONFIG_INVALID, errors.KindOf(err))
}

func TestNewValidatesConfig(t *testing.T) {
	client := sdk.NewClient("Test SDF Network ; September 2015")
	_, err := New(Config{AssetCode: "USDC"}, client, newFakeLedger())
	assert.Equal(t, errors.CONFIG_INVALID, errors.KindOf(err))

	_, err = New(Config{AnchorDomain: "anchor.example"}, client, newFakeLedger())
	assert.Equal(t, errors.CONFIG_INVALID, errors.KindOf(err))

	_, err = New(Config{AnchorDomain: "anchor.example", AssetCode: "USDC"}, client, nil)
	assert.Equal(t, errors.CONFIG_INVALID, errors.KindOf(err))
}

func TestWithdrawUnsupportedAsset(t *testing.T) {
	a := anchortest.New(t, anchortest.Config{})
	funds := randomSigner(t)
	o, err := New(Config{AnchorDomain: a.Domain(), AssetCode: "EURC"}, sdk.NewClient(a.NetworkPassphrase()), newFakeLedger(),
		WithAuthSigner(funds), WithFundsSigner(funds))
	require.NoError(t, err)

	_, err = o.Withdraw(context.Background(), Request{Amount: "1", UserID: "user-1"})
	assert.Equal(t, errors.ASSET_UNSUPPORTED, errors.KindOf(err))
	assert.Empty(t, a.Withdrawals())
}

func TestCheckStatusIsReadOnly(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	session, err := h.orch.Start(ctx, Request{Amount: "10", UserID: "user-1"})
	require.NoError(t, err)
	h.anchor.SetScript(session.ID, h.ready("MG-5", "10"))

	report, err := h.orch.CheckStatus(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, report.Transaction.ReadyForFunds())
	assert.Equal(t, NextSteps(offramp.StatusPendingUserTransferStart), report.NextSteps)
	assert.Nil(t, report.Remittance)
	assert.Empty(t, h.ledger.submitted())

	rec, err := h.orch.Store().FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, offramp.StatusIncomplete, rec.Status)

	_, err = h.orch.CheckStatus(ctx, "")
	assert.True(t, errors.HasCode(err, errors.INVALID_REQUEST))
}

func TestResumePaysOnceAcrossInvocations(t *testing.T) {
	h := newHarness(t, 10)
	h.ledger.withHashes("stellar-tx-7")
	ctx := context.Background()

	session, err := h.orch.Start(ctx, Request{Amount: "10", UserID: "user-1"})
	require.NoError(t, err)
	h.anchor.SetScript(session.ID, h.ready("MG-6", "10"))

	res, err := h.orch.Resume(ctx, session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "stellar-tx-7", res.LedgerTransactionID)
	assert.Equal(t, session.InteractiveURL, res.InteractiveURL)

	// Still ready on the anchor side: the recorded payment is reused.
	res, err = h.orch.Resume(ctx, session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "stellar-tx-7", res.LedgerTransactionID)

	h.anchor.SetScript(session.ID, anchortest.Step{Status: offramp.StatusCompleted})
	res, err = h.orch.Resume(ctx, session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, offramp.StatusCompleted, res.FinalStatus)
	assert.Equal(t, "stellar-tx-7", res.LedgerTransactionID)

	assert.Len(t, h.ledger.submitted(), 1)

	report, err := h.orch.CheckStatus(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, report.Remittance)
	assert.Equal(t, "stellar-tx-7", report.Remittance.LedgerTransactionID)
}

func TestConcurrentResumeSinglePayment(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	session, err := h.orch.Start(ctx, Request{Amount: "10", UserID: "user-1"})
	require.NoError(t, err)
	h.anchor.SetScript(session.ID, h.ready("MG-7", "10"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.Resume(ctx, session.ID, nil)
		}()
	}
	wg.Wait()

	assert.Len(t, h.ledger.submitted(), 1)
}

func TestResumeRequiresSession(t *testing.T) {
	h := newHarness(t, 10)
	_, err := h.orch.Resume(context.Background(), " ", nil)
	assert.True(t, errors.HasCode(err, errors.INVALID_REQUEST))
}

func TestLaunchCancel(t *testing.T) {
	h := newHarness(t, 10000, anchortest.Step{Status: offramp.StatusIncomplete})

	session, task, err := h.orch.Launch(context.Background(), Request{Amount: "10", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, session.ID, task.SessionID)

	running, ok := h.orch.Task(session.ID)
	require.True(t, ok)
	assert.Same(t, task, running)

	task.Cancel()
	res, err := task.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.WATCH_TIMEOUT, errors.KindOf(err))
	assert.Equal(t, session.ID, res.SessionID)
	assert.Empty(t, h.ledger.submitted())

	assert.Eventually(t, func() bool {
		_, ok := h.orch.Task(session.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestLaunchOutlivesRequestContext(t *testing.T) {
	h := newHarness(t, 20)
	h.orch.Hooks().On(HookInitiated, func(ev Event) {
		h.anchor.SetScript(ev.SessionID,
			anchortest.Step{Status: offramp.StatusIncomplete},
			anchortest.Step{Status: offramp.StatusIncomplete},
			h.ready("MG-8", "2"),
		)
	})

	ctx, cancel := context.WithCancel(context.Background())
	_, task, err := h.orch.Launch(ctx, Request{Amount: "2", UserID: "user-1"})
	require.NoError(t, err)
	cancel()

	res, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.LedgerTransactionID)
}

func TestWithdrawCallerDeadline(t *testing.T) {
	h := newHarness(t, 10000, anchortest.Step{Status: offramp.StatusIncomplete})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := h.orch.Withdraw(ctx, Request{Amount: "10", UserID: "user-1"})
	require.Error(t, err)
	assert.Equal(t, errors.WATCH_TIMEOUT, errors.KindOf(err))
	assert.NotEmpty(t, res.SessionID)
	assert.Empty(t, h.ledger.submitted())
}

func TestShutdownCancelsRunningTasks(t *testing.T) {
	h := newHarness(t, 10000, anchortest.Step{Status: offramp.StatusIncomplete})

	var tasks []*Task
	for i := 0; i < 2; i++ {
		_, task, err := h.orch.Launch(context.Background(), Request{Amount: "1", UserID: "user-1"})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	for _, task := range tasks {
		select {
		case <-task.Done():
		default:
			t.Fatal("task still running after shutdown")
		}
	}
}
