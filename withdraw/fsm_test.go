package withdraw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwen-abid/offramp-go/errors"
)

func TestValidateTransition(t *testing.T) {
	legal := [][2]State{
		{StateWaiting, StateReady},
		{StateWaiting, StateDone},
		{StateWaiting, StateError},
		{StateWaiting, StateTimeout},
		{StateReady, StateRemitting},
		{StateRemitting, StateDone},
		{StateRemitting, StateError},
	}
	for _, tr := range legal {
		assert.NoError(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]State{
		{StateWaiting, StateRemitting},
		{StateReady, StateDone},
		{StateReady, StateWaiting},
		{StateRemitting, StateReady},
		{StateDone, StateWaiting},
		{StateError, StateReady},
		{StateTimeout, StateDone},
		{"BOGUS", StateDone},
	}
	for _, tr := range illegal {
		err := ValidateTransition(tr[0], tr[1])
		require.Error(t, err, "%s -> %s", tr[0], tr[1])
		assert.True(t, errors.HasCode(err, errors.TRANSITION_INVALID))
	}
}

func TestStateIsTerminal(t *testing.T) {
	assert.True(t, StateDone.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.True(t, StateTimeout.IsTerminal())
	assert.False(t, StateWaiting.IsTerminal())
	assert.False(t, StateReady.IsTerminal())
	assert.False(t, StateRemitting.IsTerminal())
}

func TestMachineRefusesSkippingRemitting(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.to(StateReady))
	assert.Error(t, m.to(StateDone))
	assert.Equal(t, StateReady, m.state)
	require.NoError(t, m.to(StateRemitting))
	require.NoError(t, m.to(StateDone))
	assert.Error(t, m.to(StateError))
}
