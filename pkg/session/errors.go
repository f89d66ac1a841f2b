package session

import "fmt"

// ErrorKind classifies session failures for the UI projection.
type ErrorKind int

const (
	// ErrDeviceUnavailable means the capture device could not be
	// acquired: permission denied, hardware busy, or acquisition
	// timeout.
	ErrDeviceUnavailable ErrorKind = iota
	// ErrTransmissionFailure means the channel rejected a frame after
	// one retry.
	ErrTransmissionFailure
	// ErrPlaybackFailure means the output device rejected decoded
	// audio.
	ErrPlaybackFailure
	// ErrProtocol means a malformed or unexpected backend event.
	// Recovered silently; never moves the session to Error.
	ErrProtocol
	// ErrBackend is an explicit audio_error event from the backend.
	ErrBackend
)

func (k ErrorKind) String() string {
	switch k {
	case ErrDeviceUnavailable:
		return "device_unavailable"
	case ErrTransmissionFailure:
		return "transmission_failure"
	case ErrPlaybackFailure:
		return "playback_failure"
	case ErrProtocol:
		return "protocol_error"
	case ErrBackend:
		return "backend_error"
	default:
		return "unknown"
	}
}

// SessionError is the structured error surfaced to the UI layer.
// Device- and channel-level failures are translated into one of these
// at the point of occurrence; they never propagate as unhandled faults.
type SessionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Hint returns a recovery suggestion for rendering next to the error.
func (e *SessionError) Hint() string {
	switch e.Kind {
	case ErrDeviceUnavailable:
		return "check microphone permissions and retry"
	case ErrBackend:
		return "reset the session and retry"
	default:
		return "retry"
	}
}

func newSessionError(kind ErrorKind, message string, err error) *SessionError {
	return &SessionError{Kind: kind, Message: message, Err: err}
}
