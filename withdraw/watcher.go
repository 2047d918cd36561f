package withdraw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 150
)

// FetchFunc returns the anchor's current view of a session.
type FetchFunc func(ctx context.Context, sessionID string) (*offramp.AnchorTransaction, error)

// RemitFunc pays the anchor for a session that is ready for funds.
type RemitFunc func(ctx context.Context, tx *offramp.AnchorTransaction) (*offramp.RemittanceResult, error)

// WatchConfig bounds the polling loop.
type WatchConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
}

func (c WatchConfig) withDefaults() WatchConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}

// Outcome is how a watch resolved.
type Outcome struct {
	State       State
	FinalStatus offramp.TransactionStatus
	Transaction *offramp.AnchorTransaction
	// Remittance is set when this watch paid the anchor.
	Remittance *offramp.RemittanceResult
	Attempts   int
}

// Watcher follows one session until the anchor is ready for funds, hands it to the
// remitter exactly once, and resolves exactly once.
type Watcher struct {
	fetch  FetchFunc
	remit  RemitFunc
	cfg    WatchConfig
	hooks  *HookRegistry
	logger logrus.FieldLogger
}

// NewWatcher creates a Watcher. hooks and logger may be nil.
func NewWatcher(fetch FetchFunc, remit RemitFunc, cfg WatchConfig, hooks *HookRegistry, logger logrus.FieldLogger) *Watcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{
		fetch:  fetch,
		remit:  remit,
		cfg:    cfg.withDefaults(),
		hooks:  hooks,
		logger: logger,
	}
}

// update is one poll result.
type update struct {
	tx      *offramp.AnchorTransaction
	err     error
	attempt int
}

// subscription polls in the background and delivers updates until stopped or until the
// attempt cap is reached, at which point the channel is closed.
type subscription struct {
	updates <-chan update
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (w *Watcher) subscribe(ctx context.Context, sessionID string) *subscription {
	ctx, cancel := context.WithCancel(ctx)
	updates := make(chan update)
	sub := &subscription{
		updates: updates,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(updates)

		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()

		for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
			tx, err := w.fetch(ctx, sessionID)
			select {
			case updates <- update{tx: tx, err: err, attempt: attempt}:
			case <-ctx.Done():
				return
			}
			if attempt == w.cfg.MaxAttempts {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub
}

// stop ends polling and waits for the poller to exit. Safe to call more than once; only
// the first call has an effect.
func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Watch drives the state machine for sessionID.
//
// WAITING -> READY when the anchor reports pending_user_transfer_start with destination,
// memo and amount; READY -> REMITTING -> DONE once the payment is submitted. A settled
// anchor status (pending_user_transfer_complete, completed) resolves DONE without paying.
// Failure statuses resolve ERROR and exhausting the attempts resolves TIMEOUT.
func (w *Watcher) Watch(ctx context.Context, sessionID string) (*Outcome, error) {
	log := w.logger.WithField("session_id", sessionID)
	m := newMachine()
	sub := w.subscribe(ctx, sessionID)
	defer sub.stop()

	var (
		last       *offramp.AnchorTransaction
		lastStatus offramp.TransactionStatus
		attempts   int
		incomplete bool
	)

	fail := func(next State, err error) (*Outcome, error) {
		sub.stop()
		if terr := m.to(next); terr != nil {
			log.WithError(terr).Error("watcher state machine rejected transition")
		}
		ev := Event{Name: HookFailed, SessionID: sessionID, State: next, Status: lastStatus, Transaction: last, Error: err.Error()}
		ev.ErrorKind = string(errors.KindOf(err))
		w.hooks.Trigger(ev)
		log.WithError(err).WithField("state", next).Warn("watch failed")
		return &Outcome{State: next, FinalStatus: lastStatus, Transaction: last, Attempts: attempts}, err
	}

	for {
		var (
			u  update
			ok bool
		)
		select {
		case u, ok = <-sub.updates:
		case <-ctx.Done():
			return fail(StateTimeout, errors.NewFlowError(errors.WATCH_TIMEOUT, "watch cancelled before the anchor was ready", ctx.Err()).
				With("session_id", sessionID).With("attempts", attempts))
		}

		if !ok {
			if ctx.Err() != nil {
				return fail(StateTimeout, errors.NewFlowError(errors.WATCH_TIMEOUT, "watch cancelled before the anchor was ready", ctx.Err()).
					With("session_id", sessionID).With("attempts", attempts))
			}
			if incomplete {
				return fail(StateError, errors.NewFlowError(
					errors.ANCHOR_PROTOCOL_ERROR,
					"anchor reported pending_user_transfer_start without destination, memo or amount",
					nil,
				).With("session_id", sessionID).With("status", string(lastStatus)))
			}
			return fail(StateTimeout, errors.NewFlowError(
				errors.WATCH_TIMEOUT,
				fmt.Sprintf("anchor not ready after %d status checks", attempts),
				nil,
			).With("session_id", sessionID).With("attempts", attempts).With("status", string(lastStatus)))
		}

		attempts = u.attempt
		if u.err != nil {
			if errors.KindOf(u.err) != "" {
				return fail(StateError, u.err)
			}
			log.WithError(u.err).WithField("attempt", u.attempt).Warn("status check failed")
			continue
		}

		tx := u.tx
		last = tx
		if tx.Status != lastStatus {
			lastStatus = tx.Status
			w.hooks.Trigger(Event{Name: HookStatusChanged, SessionID: sessionID, Status: tx.Status, State: m.state, Transaction: tx})
			log.WithFields(logrus.Fields{"status": tx.Status, "attempt": u.attempt}).Info("anchor status changed")
		}

		switch {
		case tx.Status.IsFailure():
			msg := fmt.Sprintf("anchor reported status %s", tx.Status)
			if tx.Message != "" {
				msg += ": " + tx.Message
			}
			return fail(StateError, errors.NewFlowError(errors.ANCHOR_PROTOCOL_ERROR, msg, nil).
				With("session_id", sessionID).With("status", string(tx.Status)))

		case tx.Status.IsSettled():
			sub.stop()
			if err := m.to(StateDone); err != nil {
				return fail(StateError, err)
			}
			w.hooks.Trigger(Event{Name: HookCompleted, SessionID: sessionID, Status: tx.Status, State: StateDone, Transaction: tx})
			log.WithField("status", tx.Status).Info("anchor already has the funds")
			return &Outcome{State: StateDone, FinalStatus: tx.Status, Transaction: tx, Attempts: attempts}, nil

		case tx.ReadyForFunds():
			// Stop listening before acting so READY fires once.
			sub.stop()
			return w.remitReady(ctx, m, sessionID, tx, attempts, log, fail)

		case tx.Status == offramp.StatusPendingUserTransferStart:
			incomplete = true
			log.WithField("attempt", u.attempt).Warn("pending_user_transfer_start without payment details")

		default:
			incomplete = false
		}
	}
}

func (w *Watcher) remitReady(
	ctx context.Context,
	m *machine,
	sessionID string,
	tx *offramp.AnchorTransaction,
	attempts int,
	log logrus.FieldLogger,
	fail func(State, error) (*Outcome, error),
) (*Outcome, error) {
	if err := m.to(StateReady); err != nil {
		return fail(StateError, err)
	}
	w.hooks.Trigger(Event{Name: HookReady, SessionID: sessionID, Status: tx.Status, State: StateReady, Transaction: tx})

	if err := m.to(StateRemitting); err != nil {
		return fail(StateError, err)
	}
	log.WithFields(logrus.Fields{
		"destination": tx.WithdrawAnchorAccount,
		"amount":      tx.AmountIn,
	}).Info("anchor ready for funds, remitting")

	res, err := w.remit(ctx, tx)
	if err != nil {
		return fail(StateError, errors.EnsureKind(err, errors.LEDGER_SUBMISSION_FAILED, "flow", "remittance failed"))
	}

	if err := m.to(StateDone); err != nil {
		return fail(StateError, err)
	}
	w.hooks.Trigger(Event{
		Name:                HookRemitted,
		SessionID:           sessionID,
		Status:              tx.Status,
		State:               StateDone,
		LedgerTransactionID: res.LedgerTransactionID,
		Transaction:         tx,
	})

	return &Outcome{
		State:       StateDone,
		FinalStatus: offramp.StatusPendingUserTransferStart,
		Transaction: tx,
		Remittance:  res,
		Attempts:    attempts,
	}, nil
}
