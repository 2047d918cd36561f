package withdraw

import (
	"fmt"

	"github.com/marwen-abid/offramp-go/errors"
)

// State is the watcher's position in one withdrawal session.
type State string

const (
	StateWaiting   State = "WAITING"
	StateReady     State = "READY"
	StateRemitting State = "REMITTING"
	StateDone      State = "DONE"
	StateError     State = "ERROR"
	StateTimeout   State = "TIMEOUT"
)

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError || s == StateTimeout
}

// legalTransitions defines the allowed watcher transitions.
// WAITING may go straight to DONE when the anchor already reports the funds as received.
var legalTransitions = map[State]map[State]bool{
	StateWaiting: {
		StateReady:   true,
		StateDone:    true,
		StateError:   true,
		StateTimeout: true,
	},
	StateReady: {
		StateRemitting: true,
	},
	StateRemitting: {
		StateDone:  true,
		StateError: true,
	},
	StateDone:    {},
	StateError:   {},
	StateTimeout: {},
}

// ValidateTransition returns nil if from -> to is legal, or a TRANSITION_INVALID error.
func ValidateTransition(from, to State) error {
	validToStates, exists := legalTransitions[from]
	if !exists {
		return errors.NewFlowError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("unknown source state: %s", from),
			nil,
		)
	}

	if !validToStates[to] {
		return errors.NewFlowError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("illegal transition from %s to %s", from, to),
			nil,
		)
	}

	return nil
}

// machine tracks the current state of one watch.
type machine struct {
	state State
}

func newMachine() *machine {
	return &machine{state: StateWaiting}
}

// to moves the machine, refusing illegal transitions.
func (m *machine) to(next State) error {
	if err := ValidateTransition(m.state, next); err != nil {
		return err
	}
	m.state = next
	return nil
}
