package devices

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/soundpath/voicelink/pkg/audio"
	"github.com/soundpath/voicelink/pkg/session"
)

// frameQueueDepth bounds buffered frames between the device callback
// and the session. The callback never blocks; a full queue sheds the
// newest frame instead.
const frameQueueDepth = 64

// MicCapture acquires the system microphone through the audio backend.
// Implements session.CaptureDevice.
type MicCapture struct {
	ctx    *Context
	logger *zap.Logger

	mu   sync.Mutex
	held bool
}

// NewMicCapture creates a capture device bound to the shared context.
func NewMicCapture(ctx *Context, logger *zap.Logger) *MicCapture {
	if logger == nil {
		logger = zap.L()
	}
	return &MicCapture{ctx: ctx, logger: logger}
}

// Acquire opens the default capture device with the requested
// parameters and starts delivering frames. The device is exclusive
// within the process; a second acquire before release fails.
func (m *MicCapture) Acquire(ctx context.Context, constraints session.CaptureConstraints) (session.CaptureStream, error) {
	m.mu.Lock()
	if m.held {
		m.mu.Unlock()
		return nil, fmt.Errorf("capture device already held")
	}
	m.held = true
	m.mu.Unlock()

	stream, err := m.open(constraints)
	if err != nil {
		m.release()
		return nil, err
	}

	select {
	case <-ctx.Done():
		stream.Close()
		return nil, ctx.Err()
	default:
	}
	return stream, nil
}

func (m *MicCapture) open(constraints session.CaptureConstraints) (*micStream, error) {
	frameBytes := constraints.SampleRate * constraints.Channels * 2 *
		int(constraints.FrameDuration.Milliseconds()) / 1000
	if frameBytes <= 0 {
		return nil, fmt.Errorf("invalid capture constraints")
	}

	stream := &micStream{
		owner:      m,
		logger:     m.logger,
		frames:     make(chan session.Frame, frameQueueDepth),
		frameBytes: frameBytes,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(constraints.Channels)
	deviceConfig.SampleRate = uint32(constraints.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(m.ctx.Raw().Context, deviceConfig, malgo.DeviceCallbacks{
		Data: stream.onSamples,
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	m.logger.Info("[Audio] capture device acquired",
		zap.Int("sample_rate", constraints.SampleRate),
		zap.Int("channels", constraints.Channels),
		zap.Duration("frame", constraints.FrameDuration))
	return stream, nil
}

func (m *MicCapture) release() {
	m.mu.Lock()
	m.held = false
	m.mu.Unlock()
}

// micStream is one live acquisition. The backend callback slices
// incoming samples into fixed-duration frames and hands them to the
// frames channel.
type micStream struct {
	owner  *MicCapture
	logger *zap.Logger
	device *malgo.Device

	frames     chan session.Frame
	frameBytes int
	pending    []byte
	dropped    atomic.Uint64

	once sync.Once
}

func (s *micStream) Frames() <-chan session.Frame { return s.frames }

// onSamples runs on the backend's audio thread. It must not block.
func (s *micStream) onSamples(_, input []byte, _ uint32) {
	s.pending = append(s.pending, input...)
	for len(s.pending) >= s.frameBytes {
		data := make([]byte, s.frameBytes)
		copy(data, s.pending[:s.frameBytes])
		s.pending = s.pending[s.frameBytes:]

		frame := session.Frame{Data: data, Level: audio.Level(data)}
		select {
		case s.frames <- frame:
		default:
			// Consumer stalled; shed the frame rather than stall the
			// audio thread, but keep the loss visible.
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				s.logger.Warn("[Audio] frame queue full, shedding frame",
					zap.Uint64("dropped", n))
			}
		}
	}
}

// Dropped returns how many frames were shed because the consumer
// stalled.
func (s *micStream) Dropped() uint64 { return s.dropped.Load() }

// Close stops the device and releases the microphone. Idempotent.
func (s *micStream) Close() error {
	s.once.Do(func() {
		s.device.Uninit()
		close(s.frames)
		s.owner.release()
		s.logger.Info("[Audio] capture device released",
			zap.Uint64("dropped_frames", s.dropped.Load()))
	})
	return nil
}
