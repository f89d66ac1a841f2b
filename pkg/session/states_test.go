package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStateManagerTransitions(t *testing.T) {
	tests := []struct {
		from    InteractionState
		to      InteractionState
		allowed bool
	}{
		{StateIdle, StateListening, true},
		{StateIdle, StateSpeaking, true},
		{StateIdle, StateProcessing, false},
		{StateListening, StateProcessing, true},
		{StateListening, StateSpeaking, true},
		{StateListening, StateIdle, true},
		{StateProcessing, StateSpeaking, true},
		{StateProcessing, StateListening, true},
		{StateSpeaking, StateListening, true},
		{StateSpeaking, StateIdle, true},
		{StateSpeaking, StateProcessing, false},
		{StateError, StateIdle, true},
		{StateError, StateListening, true},
		{StateError, StateSpeaking, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			m := NewStateManager(zap.NewNop())
			m.state = tt.from

			changed := m.Transition(tt.to)
			assert.Equal(t, tt.allowed, changed)
			if tt.allowed {
				assert.Equal(t, tt.to, m.State())
			} else {
				assert.Equal(t, tt.from, m.State())
			}
		})
	}
}

func TestStateManagerFailFromAnyState(t *testing.T) {
	for _, from := range []InteractionState{StateIdle, StateListening, StateProcessing, StateSpeaking} {
		m := NewStateManager(zap.NewNop())
		m.state = from

		serr := newSessionError(ErrBackend, "boom", nil)
		assert.True(t, m.Fail(serr), "from %s", from)
		assert.Equal(t, StateError, m.State())
		assert.Equal(t, serr, m.LastError())
	}
}

func TestStateManagerSelfTransitionIsNoop(t *testing.T) {
	m := NewStateManager(zap.NewNop())
	require.True(t, m.Transition(StateListening))
	assert.False(t, m.Transition(StateListening))
	assert.Equal(t, StateListening, m.State())
}

func TestStateManagerReset(t *testing.T) {
	m := NewStateManager(zap.NewNop())
	m.Fail(newSessionError(ErrPlaybackFailure, "boom", nil))

	assert.True(t, m.Reset())
	assert.Equal(t, StateIdle, m.State())
	assert.Nil(t, m.LastError())

	assert.False(t, m.Reset())
}

func TestInteractionStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "processing", StateProcessing.String())
	assert.Equal(t, "speaking", StateSpeaking.String())
	assert.Equal(t, "error", StateError.String())
}
