package session

import (
	"context"
	"time"

	"github.com/soundpath/voicelink/pkg/audio"
)

// Frame is one captured slice of microphone audio.
type Frame struct {
	// Data is little-endian 16-bit PCM.
	Data []byte
	// Level is the normalized RMS energy of the frame, 0..1.
	Level float64
}

// CaptureConstraints are the parameters requested from the capture
// device at acquisition time.
type CaptureConstraints struct {
	SampleRate       int
	Channels         int
	FrameDuration    time.Duration
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureStream is a live microphone acquisition. Frames are delivered
// on the channel until Close, which releases the device. The channel is
// closed after release; no frames are delivered afterwards.
type CaptureStream interface {
	Frames() <-chan Frame
	Close() error
}

// CaptureDevice acquires the microphone. Acquire blocks until the
// device is held or ctx expires; a busy or denied device is reported as
// an error, never a hang.
type CaptureDevice interface {
	Acquire(ctx context.Context, constraints CaptureConstraints) (CaptureStream, error)
}

// Playback is one in-flight clip on the output device. Done is closed
// when the clip finishes or is stopped. Stop is idempotent.
type Playback interface {
	Done() <-chan struct{}
	Stop()
}

// PlaybackDevice renders decoded clips on the output device.
type PlaybackDevice interface {
	Play(clip *audio.Clip) (Playback, error)
}

// Channel is the outbound half of the backend connection the
// controller drives. Implemented by protocol.Channel.
type Channel interface {
	SendStreamStart(sampleRate int, encoding string) error
	SendFrame(payload []byte, encoding string, timestamp int64) error
	SendStreamStop() error
	SendVoiceTrigger(source string) error
	Live() bool
}
