package session

import (
	"sync"

	"go.uber.org/zap"
)

// InteractionState is the client-visible phase of the voice session.
type InteractionState int

const (
	StateIdle InteractionState = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateError
)

func (s InteractionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// allowedTransitions encodes the session state machine. Error is
// reachable from every state and is handled separately; Idle and Error
// have no automatic exit.
var allowedTransitions = map[InteractionState][]InteractionState{
	StateIdle:       {StateListening, StateSpeaking},
	StateListening:  {StateProcessing, StateSpeaking, StateIdle},
	StateProcessing: {StateSpeaking, StateListening, StateIdle},
	StateSpeaking:   {StateListening, StateIdle},
	StateError:      {StateIdle, StateListening},
}

// StateManager is the mutex-guarded holder of session state. All
// transitions go through it; there is no direct external mutation.
type StateManager struct {
	mu      sync.RWMutex
	state   InteractionState
	lastErr *SessionError
	logger  *zap.Logger
}

// NewStateManager creates a state manager starting in Idle.
func NewStateManager(logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.L()
	}
	return &StateManager{state: StateIdle, logger: logger}
}

// State returns the current interaction state.
func (m *StateManager) State() InteractionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the most recent surfaced error, if any.
func (m *StateManager) LastError() *SessionError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Transition moves to the target state if the state machine permits
// it. Illegal transitions are rejected with a warning and leave the
// state unchanged. Returns whether the state actually changed.
func (m *StateManager) Transition(to InteractionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == to {
		return false
	}
	for _, next := range allowedTransitions[m.state] {
		if next == to {
			m.logger.Debug("[State] transition",
				zap.String("from", m.state.String()),
				zap.String("to", to.String()))
			m.state = to
			return true
		}
	}
	m.logger.Warn("[State] rejecting illegal transition",
		zap.String("from", m.state.String()),
		zap.String("to", to.String()))
	return false
}

// Fail records the error and moves to Error. Allowed from every state.
func (m *StateManager) Fail(err *SessionError) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErr = err
	if m.state == StateError {
		return false
	}
	m.logger.Debug("[State] transition",
		zap.String("from", m.state.String()),
		zap.String("to", StateError.String()))
	m.state = StateError
	return true
}

// Record surfaces an error without changing state. Used for failures
// that must not poison the session, such as a failed acquisition that
// leaves it Idle.
func (m *StateManager) Record(err *SessionError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

// Reset clears the error and returns to Idle. This is the only exit
// from Error besides a fresh capture.
func (m *StateManager) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErr = nil
	if m.state == StateIdle {
		return false
	}
	m.state = StateIdle
	return true
}
