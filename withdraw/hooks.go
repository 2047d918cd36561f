package withdraw

import (
	"sync"
	"time"

	"github.com/marwen-abid/offramp-go"
)

// HookEvent represents a named lifecycle event of a withdrawal.
type HookEvent string

const (
	HookInitiated     HookEvent = "withdrawal:initiated"
	HookStatusChanged HookEvent = "withdrawal:status_changed"
	HookReady         HookEvent = "withdrawal:ready"
	HookRemitted      HookEvent = "withdrawal:remitted"
	HookCompleted     HookEvent = "withdrawal:completed"
	HookFailed        HookEvent = "withdrawal:failed"
)

// AllHookEvents lists every event in emission order of a successful flow, then failure.
var AllHookEvents = []HookEvent{
	HookInitiated,
	HookStatusChanged,
	HookReady,
	HookRemitted,
	HookCompleted,
	HookFailed,
}

// Event is passed to hook handlers.
type Event struct {
	Name                HookEvent                  `json:"event"`
	SessionID           string                     `json:"session_id"`
	UserID              string                     `json:"user_id,omitempty"`
	Status              offramp.TransactionStatus  `json:"status,omitempty"`
	State               State                      `json:"state,omitempty"`
	LedgerTransactionID string                     `json:"ledger_transaction_id,omitempty"`
	InteractiveURL      string                     `json:"interactive_url,omitempty"`
	Error               string                     `json:"error,omitempty"`
	ErrorKind           string                     `json:"error_kind,omitempty"`
	Transaction         *offramp.AnchorTransaction `json:"transaction,omitempty"`
	At                  time.Time                  `json:"at"`
}

// HookRegistry manages lifecycle event handlers.
//
// Handlers are stored per event and execute sequentially in registration order on the
// goroutine that triggers the event. The registry is safe for concurrent registration
// and triggering.
type HookRegistry struct {
	handlers map[HookEvent][]func(Event)
	mu       sync.RWMutex
}

// NewHookRegistry creates a new lifecycle hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		handlers: make(map[HookEvent][]func(Event)),
	}
}

// On registers a handler for one event. Handlers should be quick; a panicking handler
// stops the handlers registered after it.
func (r *HookRegistry) On(event HookEvent, handler func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = append(r.handlers[event], handler)
}

// OnAny registers handler for every event.
func (r *HookRegistry) OnAny(handler func(Event)) {
	for _, event := range AllHookEvents {
		r.On(event, handler)
	}
}

// Trigger runs the handlers registered for ev.Name.
func (r *HookRegistry) Trigger(ev Event) {
	if r == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	r.mu.RLock()
	handlers := r.handlers[ev.Name]
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(ev)
	}
}
