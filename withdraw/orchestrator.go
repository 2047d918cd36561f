// Package withdraw runs the anchor withdrawal flow: authenticate (SEP-10), open an
// interactive withdrawal (SEP-24), watch the anchor transaction until it is ready for
// funds, and pay the anchor's settlement account.
package withdraw

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/sdk"
	"github.com/marwen-abid/offramp-go/store/memory"
)

// Anchor is the anchor client the orchestrator drives. *sdk.Client implements it.
type Anchor interface {
	NetworkPassphrase() string
	Authenticate(ctx context.Context, homeDomain string, signer offramp.Signer) (*offramp.AuthToken, error)
	ResolveAsset(ctx context.Context, homeDomain, assetCode string) (offramp.Asset, error)
	InitiateWithdrawal(ctx context.Context, token *offramp.AuthToken, req sdk.WithdrawalRequest) (*offramp.WithdrawalSession, error)
	FetchTransaction(ctx context.Context, token *offramp.AuthToken, id string) (*offramp.AnchorTransaction, error)
}

var _ Anchor = (*sdk.Client)(nil)

// Config is the per-deployment flow configuration.
type Config struct {
	AnchorDomain string
	AssetCode    string

	Lang    string
	Country string
	State   string

	PollInterval    time.Duration
	MaxPollAttempts int

	BaseFee        int64
	PaymentTimeout time.Duration
}

// Request starts one user-initiated withdrawal.
type Request struct {
	Amount string
	UserID string
	// Funds overrides the orchestrator's funds identity, e.g. a custodial account opened
	// with a PIN.
	Funds offramp.Signer
}

// Result is the externally reported outcome of a withdrawal.
type Result struct {
	SessionID           string                    `json:"id"`
	InteractiveURL      string                    `json:"url,omitempty"`
	FinalStatus         offramp.TransactionStatus `json:"final_status"`
	LedgerTransactionID string                    `json:"ledger_transaction_id,omitempty"`
}

// StatusReport is the read-only view returned by CheckStatus.
type StatusReport struct {
	Transaction *offramp.AnchorTransaction `json:"transaction"`
	NextSteps   []string                   `json:"next_steps"`
	Remittance  *offramp.RemittanceResult  `json:"remittance,omitempty"`
}

// Orchestrator composes authentication, initiation, watching and remittance.
type Orchestrator struct {
	cfg      Config
	anchor   Anchor
	auth     offramp.Signer
	funds    offramp.Signer
	store    offramp.WithdrawalStore
	hooks    *HookRegistry
	remitter *Remitter
	logger   logrus.FieldLogger

	mu    sync.Mutex
	tasks map[string]*Task
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAuthSigner sets the identity that signs SEP-10 challenges.
func WithAuthSigner(s offramp.Signer) Option {
	return func(o *Orchestrator) { o.auth = s }
}

// WithFundsSigner sets the identity that signs settlement payments.
func WithFundsSigner(s offramp.Signer) Option {
	return func(o *Orchestrator) { o.funds = s }
}

// WithStore sets the withdrawal store (default: in-memory).
func WithStore(s offramp.WithdrawalStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(h *HookRegistry) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator. Missing signers are not an error here; operations that
// need them fail with CONFIG_INVALID.
func New(cfg Config, anchor Anchor, l offramp.Ledger, opts ...Option) (*Orchestrator, error) {
	if strings.TrimSpace(cfg.AnchorDomain) == "" {
		return nil, errors.NewFlowError(errors.CONFIG_INVALID, "anchor domain is required", nil)
	}
	if strings.TrimSpace(cfg.AssetCode) == "" {
		return nil, errors.NewFlowError(errors.CONFIG_INVALID, "asset code is required", nil)
	}
	if anchor == nil || l == nil {
		return nil, errors.NewFlowError(errors.CONFIG_INVALID, "anchor client and ledger are required", nil)
	}

	o := &Orchestrator{
		cfg:    cfg,
		anchor: anchor,
		tasks:  make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = memory.NewWithdrawalStore()
	}
	if o.hooks == nil {
		o.hooks = NewHookRegistry()
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}

	o.remitter = NewRemitter(l, o.store, RemitterConfig{
		NetworkPassphrase: anchor.NetworkPassphrase(),
		BaseFee:           cfg.BaseFee,
		Timeout:           cfg.PaymentTimeout,
	}, o.logger)

	o.hooks.On(HookStatusChanged, o.persistStatus)
	o.hooks.On(HookCompleted, o.persistStatus)

	return o, nil
}

// Hooks returns the lifecycle hook registry.
func (o *Orchestrator) Hooks() *HookRegistry {
	return o.hooks
}

// Store returns the withdrawal store.
func (o *Orchestrator) Store() offramp.WithdrawalStore {
	return o.store
}

// invocation is the state of one flow run. It is discarded when the run ends.
type invocation struct {
	o        *Orchestrator
	token    *offramp.AuthToken
	reauthed bool
	asset    offramp.Asset
	funds    offramp.Signer
	log      logrus.FieldLogger
}

func (o *Orchestrator) newInvocation(funds offramp.Signer) (*invocation, error) {
	if o.auth == nil {
		return nil, errors.NewFlowError(errors.CONFIG_INVALID, "authentication signer is not configured", nil)
	}
	if funds == nil {
		funds = o.funds
	}
	if funds == nil {
		return nil, errors.NewFlowError(errors.CONFIG_INVALID, "funds signer is not configured", nil)
	}
	return &invocation{
		o:     o,
		funds: funds,
		log:   o.logger.WithField("anchor", o.cfg.AnchorDomain),
	}, nil
}

func (inv *invocation) authenticate(ctx context.Context) error {
	token, err := inv.o.anchor.Authenticate(ctx, inv.o.cfg.AnchorDomain, inv.o.auth)
	if err != nil {
		return errors.EnsureKind(err, errors.AUTH_FAILED, "flow", "authentication failed")
	}
	inv.token = token
	return nil
}

// withToken runs call with the current token, re-authenticating once per invocation
// if the anchor rejects it.
func (inv *invocation) withToken(ctx context.Context, call func(token *offramp.AuthToken) error) error {
	if inv.token == nil {
		if err := inv.authenticate(ctx); err != nil {
			return err
		}
	}
	err := call(inv.token)
	if errors.KindOf(err) != errors.AUTH_FAILED || inv.reauthed {
		return err
	}

	inv.reauthed = true
	inv.log.WithError(err).Warn("anchor rejected token, re-authenticating")
	if err := inv.authenticate(ctx); err != nil {
		return err
	}
	return call(inv.token)
}

// Start authenticates and opens the withdrawal with the anchor. The interactive URL must
// be shown to the user; nothing is watched.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*offramp.WithdrawalSession, error) {
	_, session, err := o.start(ctx, req)
	return session, err
}

func (o *Orchestrator) start(ctx context.Context, req Request) (*invocation, *offramp.WithdrawalSession, error) {
	amount, err := NormalizeAmount(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, nil, errors.NewFlowError(errors.INVALID_REQUEST, "invalid amount", err)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, nil, errors.NewFlowError(errors.INVALID_REQUEST, "user id is required", nil)
	}

	inv, err := o.newInvocation(req.Funds)
	if err != nil {
		return nil, nil, err
	}

	if err := inv.authenticate(ctx); err != nil {
		return nil, nil, err
	}

	asset, err := o.anchor.ResolveAsset(ctx, o.cfg.AnchorDomain, o.cfg.AssetCode)
	if err != nil {
		return nil, nil, errors.EnsureKind(err, errors.ANCHOR_PROTOCOL_ERROR, "flow", "asset lookup failed")
	}
	inv.asset = asset

	var session *offramp.WithdrawalSession
	err = inv.withToken(ctx, func(token *offramp.AuthToken) error {
		var err error
		session, err = o.anchor.InitiateWithdrawal(ctx, token, sdk.WithdrawalRequest{
			AssetCode: asset.Code,
			Amount:    amount,
			UserID:    req.UserID,
			Account:   inv.funds.PublicKey(),
			Lang:      o.cfg.Lang,
			Country:   o.cfg.Country,
			State:     o.cfg.State,
		})
		return err
	})
	if err != nil {
		return nil, nil, errors.EnsureKind(err, errors.ANCHOR_PROTOCOL_ERROR, "flow", "withdrawal initiation failed")
	}

	inv.log = inv.log.WithField("session_id", session.ID)

	record := &offramp.Withdrawal{
		ID:             session.ID,
		UserID:         req.UserID,
		AnchorDomain:   o.cfg.AnchorDomain,
		AssetCode:      asset.Code,
		AssetIssuer:    asset.Issuer,
		Amount:         amount,
		Account:        inv.funds.PublicKey(),
		InteractiveURL: session.InteractiveURL,
		Status:         offramp.StatusIncomplete,
	}
	if err := o.store.Save(ctx, record); err != nil {
		inv.log.WithError(err).Error("failed to persist withdrawal")
	}

	o.hooks.Trigger(Event{
		Name:           HookInitiated,
		SessionID:      session.ID,
		UserID:         req.UserID,
		Status:         offramp.StatusIncomplete,
		InteractiveURL: session.InteractiveURL,
	})
	inv.log.WithField("user_id", req.UserID).Info("withdrawal initiated")

	return inv, session, nil
}

// Launch starts the withdrawal and watches it in a background task.
func (o *Orchestrator) Launch(ctx context.Context, req Request) (*offramp.WithdrawalSession, *Task, error) {
	inv, session, err := o.start(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	task := o.track(startTask(ctx, session.ID, func(ctx context.Context) (*Result, error) {
		res, err := o.watchAndRemit(ctx, inv, session.ID)
		if res != nil {
			res.InteractiveURL = session.InteractiveURL
		}
		return res, err
	}))
	return session, task, nil
}

// Withdraw runs the whole flow and blocks until it resolves. If ctx ends first the
// background run is cancelled.
func (o *Orchestrator) Withdraw(ctx context.Context, req Request) (*Result, error) {
	session, task, err := o.Launch(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := task.Wait(ctx)
	if err != nil && err == ctx.Err() {
		task.Cancel()
		res, err = task.Wait(context.Background())
	}
	if res == nil {
		res = &Result{SessionID: session.ID, InteractiveURL: session.InteractiveURL}
	}
	return res, err
}

// Resume watches and remits an existing session, e.g. after the user finished the
// interactive flow opened by Start. The remittance claim keeps a resumed session and a
// running watcher from both paying.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, funds offramp.Signer) (*Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.NewFlowError(errors.INVALID_REQUEST, "session id is required", nil)
	}
	inv, err := o.newInvocation(funds)
	if err != nil {
		return nil, err
	}
	inv.log = inv.log.WithField("session_id", sessionID)

	if err := inv.authenticate(ctx); err != nil {
		return nil, err
	}
	asset, err := o.anchor.ResolveAsset(ctx, o.cfg.AnchorDomain, o.cfg.AssetCode)
	if err != nil {
		return nil, errors.EnsureKind(err, errors.ANCHOR_PROTOCOL_ERROR, "flow", "asset lookup failed")
	}
	inv.asset = asset

	res, err := o.watchAndRemit(ctx, inv, sessionID)
	if res != nil {
		if rec, ferr := o.store.FindByID(ctx, sessionID); ferr == nil {
			res.InteractiveURL = rec.InteractiveURL
		}
	}
	return res, err
}

// CheckStatus re-queries the anchor without running any remittance logic.
func (o *Orchestrator) CheckStatus(ctx context.Context, sessionID string) (*StatusReport, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.NewFlowError(errors.INVALID_REQUEST, "session id is required", nil)
	}
	if o.auth == nil {
		return nil, errors.NewFlowError(errors.CONFIG_INVALID, "authentication signer is not configured", nil)
	}
	inv := &invocation{o: o, log: o.logger.WithField("session_id", sessionID)}

	var tx *offramp.AnchorTransaction
	err := inv.withToken(ctx, func(token *offramp.AuthToken) error {
		var err error
		tx, err = o.anchor.FetchTransaction(ctx, token, sessionID)
		return err
	})
	if err != nil {
		return nil, errors.EnsureKind(err, errors.ANCHOR_PROTOCOL_ERROR, "flow", "status check failed")
	}

	remittance, err := o.store.FindRemittance(ctx, sessionID)
	if err != nil {
		inv.log.WithError(err).Warn("failed to read remittance")
	}

	return &StatusReport{
		Transaction: tx,
		NextSteps:   NextSteps(tx.Status),
		Remittance:  remittance,
	}, nil
}

func (o *Orchestrator) watchAndRemit(ctx context.Context, inv *invocation, sessionID string) (*Result, error) {
	fetch := func(ctx context.Context, id string) (*offramp.AnchorTransaction, error) {
		var tx *offramp.AnchorTransaction
		err := inv.withToken(ctx, func(token *offramp.AuthToken) error {
			var err error
			tx, err = o.anchor.FetchTransaction(ctx, token, id)
			return err
		})
		return tx, err
	}
	remit := func(ctx context.Context, tx *offramp.AnchorTransaction) (*offramp.RemittanceResult, error) {
		return o.remitter.Remit(ctx, inv.funds, sessionID, tx, inv.asset)
	}

	watcher := NewWatcher(fetch, remit, WatchConfig{
		PollInterval: o.cfg.PollInterval,
		MaxAttempts:  o.cfg.MaxPollAttempts,
	}, o.hooks, inv.log)

	outcome, err := watcher.Watch(ctx, sessionID)
	if err != nil {
		o.recordFailure(sessionID, err)
		return &Result{SessionID: sessionID, FinalStatus: outcome.FinalStatus}, err
	}

	res := &Result{SessionID: sessionID, FinalStatus: outcome.FinalStatus}
	switch {
	case outcome.Remittance != nil:
		res.LedgerTransactionID = outcome.Remittance.LedgerTransactionID
	default:
		// Settled without paying here: report the earlier payment if there was one.
		if prior, _ := o.store.FindRemittance(ctx, sessionID); prior != nil {
			res.LedgerTransactionID = prior.LedgerTransactionID
		} else if outcome.Transaction != nil {
			res.LedgerTransactionID = outcome.Transaction.StellarTransactionID
		}
	}

	inv.log.WithFields(logrus.Fields{
		"status":  res.FinalStatus,
		"tx_hash": res.LedgerTransactionID,
	}).Info("withdrawal resolved")
	return res, nil
}

// persistStatus mirrors anchor updates into the store.
func (o *Orchestrator) persistStatus(ev Event) {
	if ev.Transaction == nil {
		return
	}
	tx := ev.Transaction
	update := &offramp.WithdrawalUpdate{Status: &tx.Status}
	if tx.WithdrawAnchorAccount != "" {
		update.SettlementAccount = &tx.WithdrawAnchorAccount
		update.WithdrawMemo = &tx.WithdrawMemo
	}
	if tx.ExternalTransactionID != "" {
		update.ExternalTransactionID = &tx.ExternalTransactionID
	}
	if tx.MoreInfoURL != "" {
		update.MoreInfoURL = &tx.MoreInfoURL
	}
	if tx.Message != "" {
		update.Message = &tx.Message
	}
	if tx.Status == offramp.StatusCompleted {
		now := time.Now().UTC()
		if tx.CompletedAt != nil {
			now = *tx.CompletedAt
		}
		update.CompletedAt = &now
	}
	o.updateRecord(ev.SessionID, update)
}

func (o *Orchestrator) recordFailure(sessionID string, err error) {
	msg := fmt.Sprintf("%s: %v", errors.KindOf(err), err)
	o.updateRecord(sessionID, &offramp.WithdrawalUpdate{Message: &msg})
}

func (o *Orchestrator) updateRecord(sessionID string, update *offramp.WithdrawalUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.store.Update(ctx, sessionID, update)
	if err != nil && !errors.HasCode(err, errors.NOT_FOUND) {
		o.logger.WithError(err).WithField("session_id", sessionID).Warn("failed to update withdrawal record")
	}
}

func (o *Orchestrator) track(t *Task) *Task {
	o.mu.Lock()
	o.tasks[t.SessionID] = t
	o.mu.Unlock()

	go func() {
		<-t.Done()
		o.mu.Lock()
		if o.tasks[t.SessionID] == t {
			delete(o.tasks, t.SessionID)
		}
		o.mu.Unlock()
	}()
	return t
}

// Task returns the running background task for a session, if any.
func (o *Orchestrator) Task(sessionID string) (*Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[sessionID]
	return t, ok
}

// Shutdown cancels every running task and waits for them until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	running := make([]*Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		running = append(running, t)
	}
	o.mu.Unlock()

	for _, t := range running {
		t.Cancel()
	}
	for _, t := range running {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
