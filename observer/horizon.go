package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/base"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/operations"

	"github.com/marwen-abid/offramp-go/errors"
)

// paymentStreamer is the part of horizonclient.Client the observer uses.
type paymentStreamer interface {
	StreamPayments(ctx context.Context, request horizonclient.OperationRequest, handler horizonclient.OperationHandler) error
}

// HorizonObserver streams the payments of one account from Horizon, with the enclosing
// transaction joined so memos are available.
type HorizonObserver struct {
	account     string
	client      paymentStreamer
	handlers    []handlerEntry
	cursor      string
	cursorSaver func(string) error
	logger      logrus.FieldLogger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
	running  bool
}

// ObserverOption configures a HorizonObserver.
type ObserverOption func(*HorizonObserver)

// WithCursor sets the starting cursor. "now" skips history.
func WithCursor(cursor string) ObserverOption {
	return func(h *HorizonObserver) {
		h.cursor = cursor
	}
}

// WithCursorSaver is called with the paging token after each processed payment.
func WithCursorSaver(saver func(string) error) ObserverOption {
	return func(h *HorizonObserver) {
		h.cursorSaver = saver
	}
}

// WithReconnectBackoff sets the reconnect backoff bounds (default 1s, 60s).
func WithReconnectBackoff(initial, max time.Duration) ObserverOption {
	return func(h *HorizonObserver) {
		h.initialBackoff = initial
		h.maxBackoff = max
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) ObserverOption {
	return func(h *HorizonObserver) {
		h.logger = logger
	}
}

// WithClient replaces the Horizon client.
func WithClient(client *horizonclient.Client) ObserverOption {
	return func(h *HorizonObserver) {
		h.client = client
	}
}

// NewHorizonObserver streams payments of account from horizonURL starting at "now".
func NewHorizonObserver(horizonURL, account string, opts ...ObserverOption) *HorizonObserver {
	obs := &HorizonObserver{
		account:        account,
		client:         &horizonclient.Client{HorizonURL: horizonURL},
		cursor:         "now",
		logger:         logrus.StandardLogger(),
		initialBackoff: time.Second,
		maxBackoff:     60 * time.Second,
		stopChan:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(obs)
	}
	return obs
}

// OnPayment registers a handler for payments matching all filters.
func (h *HorizonObserver) OnPayment(handler PaymentHandler, filters ...PaymentFilter) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers = append(h.handlers, handlerEntry{handler: handler, filters: filters})
}

// Start streams until ctx is done or Stop is called. Stream failures reconnect from the
// last processed cursor with exponential backoff.
func (h *HorizonObserver) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return errors.NewCoreError(errors.NETWORK_ERROR, "observer already running", nil)
	}
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := h.initialBackoff
	attempt := 0

	for {
		if err := h.stopped(ctx); err != nil || ctx.Err() != nil {
			return err
		}

		h.mu.RLock()
		cursor := h.cursor
		h.mu.RUnlock()

		err := h.client.StreamPayments(ctx, horizonclient.OperationRequest{
			ForAccount: h.account,
			Cursor:     cursor,
			Order:      horizonclient.OrderAsc,
			Join:       "transactions",
		}, func(op operations.Operation) {
			backoff = h.initialBackoff
			attempt = 0

			evt := toPaymentEvent(op)
			if evt == nil {
				return
			}
			h.processEvent(*evt)

			h.mu.Lock()
			h.cursor = evt.Cursor
			h.mu.Unlock()

			if h.cursorSaver != nil {
				if err := h.cursorSaver(evt.Cursor); err != nil {
					h.logger.WithError(err).WithField("cursor", evt.Cursor).Warn("failed to save cursor")
				}
			}
		})
		if err == nil {
			return nil
		}
		if serr := h.stopped(ctx); serr != nil || ctx.Err() != nil {
			return serr
		}

		h.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": backoff,
		}).Warn("payment stream failed, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return h.stopped(ctx)
		}

		attempt++
		backoff *= 2
		if backoff > h.maxBackoff {
			backoff = h.maxBackoff
		}
	}
}

// stopped returns nil when Stop ended the stream and ctx.Err() otherwise.
func (h *HorizonObserver) stopped(ctx context.Context) error {
	select {
	case <-h.stopChan:
		return nil
	default:
		return ctx.Err()
	}
}

// Stop ends streaming. Safe to call more than once.
func (h *HorizonObserver) Stop() error {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
	return nil
}

// toPaymentEvent converts a successful payment or create_account operation. Anything
// else returns nil.
func toPaymentEvent(op operations.Operation) *PaymentEvent {
	b := op.GetBase()
	if !b.TransactionSuccessful {
		return nil
	}

	evt := &PaymentEvent{
		ID:              b.ID,
		Cursor:          b.PT,
		TransactionHash: b.TransactionHash,
	}
	if b.Transaction != nil {
		evt.Memo = b.Transaction.Memo
	}

	switch p := op.(type) {
	case operations.Payment:
		evt.From = p.From
		evt.To = p.To
		evt.Amount = p.Amount
		evt.Asset = formatAsset(p.Asset)
	case operations.CreateAccount:
		evt.From = p.Funder
		evt.To = p.Account
		evt.Amount = p.StartingBalance
		evt.Asset = "native"
	default:
		return nil
	}
	return evt
}

func formatAsset(asset base.Asset) string {
	if asset.Type == "native" {
		return "native"
	}
	return fmt.Sprintf("%s:%s", asset.Code, asset.Issuer)
}

// processEvent runs every handler whose filters all pass.
func (h *HorizonObserver) processEvent(evt PaymentEvent) {
	h.mu.RLock()
	handlers := h.handlers
	h.mu.RUnlock()

	for _, entry := range handlers {
		pass := true
		for _, filter := range entry.filters {
			if !filter(evt) {
				pass = false
				break
			}
		}
		if !pass {
			continue
		}
		if err := entry.handler(evt); err != nil {
			h.logger.WithError(err).WithField("operation_id", evt.ID).Warn("payment handler failed")
		}
	}
}

var _ Observer = (*HorizonObserver)(nil)
