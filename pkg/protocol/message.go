package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Message types sent by the controller.
const (
	TypeAudioStreamStart = "audio_stream_start"
	TypeAudioStream      = "audio_stream"
	TypeAudioStreamStop  = "audio_stream_stop"
	TypeVoiceTrigger     = "voice_trigger"
)

// Event types consumed by the controller.
const (
	TypeStateUpdate      = "state_update"
	TypeAudioResponse    = "audio_response"
	TypeAudioError       = "audio_error"
	TypeWakeWordDetected = "wake_word_detected"
)

// Backend-reported phases carried by state_update events.
const (
	PhaseListening  = "listening"
	PhaseProcessing = "processing"
	PhaseSpeaking   = "speaking"
)

// Event is a parsed inbound channel event.
type Event interface {
	EventType() string
}

// StateUpdate carries the backend-reported interaction phase. The
// backend is authoritative for processing/speaking, since those phases
// are computed server-side.
type StateUpdate struct {
	Phase string `json:"phase"`
}

func (e *StateUpdate) EventType() string { return TypeStateUpdate }

// AudioResponse carries synthesized response audio. Payload holds the
// decoded bytes; Encoding names the codec ("pcm", "wav", "opus").
type AudioResponse struct {
	Payload  []byte
	Encoding string
}

func (e *AudioResponse) EventType() string { return TypeAudioResponse }

// AudioError is an explicit backend failure notice.
type AudioError struct {
	Message string `json:"message"`
}

func (e *AudioError) EventType() string { return TypeAudioError }

// WakeWordDetected reports a server-side wake word hit. For state
// purposes it is equivalent to a manual trigger; extra fields are
// ignored.
type WakeWordDetected struct {
	Word string `json:"word"`
}

func (e *WakeWordDetected) EventType() string { return TypeWakeWordDetected }

// ParseError marks an inbound message the controller cannot interpret.
// These are fail-soft: the caller logs and drops the event.
type ParseError struct {
	Tag string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse channel event: %v", e.Err)
	}
	return fmt.Sprintf("unknown channel event type %q", e.Tag)
}

func (e *ParseError) Unwrap() error { return e.Err }

type envelope struct {
	Type string `json:"type"`
}

type audioResponseWire struct {
	Audio    string `json:"audio"`
	Encoding string `json:"encoding"`
}

// ParseEvent decodes one inbound text message into a typed event.
// Unknown tags and malformed JSON yield a *ParseError so the session
// can discard the message without aborting.
func ParseEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Err: err}
	}

	switch env.Type {
	case TypeStateUpdate:
		var ev StateUpdate
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, &ParseError{Tag: env.Type, Err: err}
		}
		switch ev.Phase {
		case PhaseListening, PhaseProcessing, PhaseSpeaking:
		default:
			return nil, &ParseError{Tag: env.Type, Err: fmt.Errorf("unknown phase %q", ev.Phase)}
		}
		return &ev, nil

	case TypeAudioResponse:
		var wire audioResponseWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, &ParseError{Tag: env.Type, Err: err}
		}
		if wire.Audio == "" {
			return nil, &ParseError{Tag: env.Type, Err: fmt.Errorf("missing audio payload")}
		}
		payload, err := decodePayload(wire.Audio)
		if err != nil {
			return nil, &ParseError{Tag: env.Type, Err: err}
		}
		return &AudioResponse{Payload: payload, Encoding: wire.Encoding}, nil

	case TypeAudioError:
		var ev AudioError
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, &ParseError{Tag: env.Type, Err: err}
		}
		return &ev, nil

	case TypeWakeWordDetected:
		var ev WakeWordDetected
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, &ParseError{Tag: env.Type, Err: err}
		}
		return &ev, nil

	default:
		return nil, &ParseError{Tag: env.Type}
	}
}

// decodePayload accepts base64 text or, failing that, the literal bytes
// of the string (the contract allows base64-or-binary payloads).
func decodePayload(s string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if len(s) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return []byte(s), nil
}
