// Package observer watches the ledger for payments made by the funds account and
// reconciles them with withdrawal sessions.
//
// A settlement payment whose submission outcome was unknown (the request failed after it
// was sent) keeps its session claimed. When the payment shows up on the ledger the
// Reconciler records it, so the session reports the payment instead of staying stuck.
//
//	obs := observer.NewHorizonObserver(horizonURL, fundsAccount, observer.WithCursor("now"))
//	observer.NewReconciler(store, hooks, logger).Attach(obs, fundsAccount)
//	go obs.Start(ctx)
package observer

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentEvent is a payment operation streamed from the ledger.
type PaymentEvent struct {
	ID     string
	From   string
	To     string
	Asset  string // "native" or "CODE:ISSUER"
	Amount string
	Memo   string
	// Cursor is the paging token of the operation, used to resume.
	Cursor          string
	TransactionHash string
}

// PaymentHandler processes one payment. Errors are logged; streaming continues.
type PaymentHandler func(PaymentEvent) error

// PaymentFilter decides whether a handler sees a payment.
type PaymentFilter func(PaymentEvent) bool

type handlerEntry struct {
	handler PaymentHandler
	filters []PaymentFilter
}

// Observer streams payments to registered handlers.
type Observer interface {
	// OnPayment registers a handler. Filters are ANDed.
	OnPayment(handler PaymentHandler, filters ...PaymentFilter)

	// Start streams until ctx is done or Stop is called, reconnecting with backoff.
	Start(ctx context.Context) error

	// Stop ends streaming. Safe to call more than once.
	Stop() error
}

// WithAsset matches payments of one asset ("native" or "CODE:ISSUER").
func WithAsset(asset string) PaymentFilter {
	return func(evt PaymentEvent) bool {
		return evt.Asset == asset
	}
}

// WithMinAmount matches payments of at least min. Unparseable amounts never match.
func WithMinAmount(min string) PaymentFilter {
	threshold, err := decimal.NewFromString(min)
	return func(evt PaymentEvent) bool {
		if err != nil {
			return false
		}
		amount, perr := decimal.NewFromString(evt.Amount)
		return perr == nil && amount.GreaterThanOrEqual(threshold)
	}
}

// WithDestination matches payments sent to accountID.
func WithDestination(accountID string) PaymentFilter {
	return func(evt PaymentEvent) bool {
		return evt.To == accountID
	}
}

// WithSource matches payments sent from accountID.
func WithSource(accountID string) PaymentFilter {
	return func(evt PaymentEvent) bool {
		return evt.From == accountID
	}
}
