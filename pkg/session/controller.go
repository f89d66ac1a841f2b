package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soundpath/voicelink/pkg/audio"
	"github.com/soundpath/voicelink/pkg/events"
	"github.com/soundpath/voicelink/pkg/protocol"
)

const (
	// DefaultAcquireTimeout bounds microphone acquisition so a hung
	// device driver cannot wedge the session.
	DefaultAcquireTimeout = 10 * time.Second

	// DefaultFrameRetries is how many times a rejected frame is resent
	// before the capture is failed.
	DefaultFrameRetries = 1

	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultFrameDuration = 60 * time.Millisecond
)

// Trigger sources reported alongside voice_trigger messages.
const (
	SourceButton   = "button"
	SourceUI       = "ui"
	SourceHotkey   = "hotkey"
	SourceWakeWord = "wake_word"
)

// Options configures a Controller. Capture, Playback and Channel are
// required; everything else has a default.
type Options struct {
	Capture  CaptureDevice
	Playback PlaybackDevice
	Channel  Channel

	// Continuous keeps the microphone held across playback so the next
	// utterance needs no re-trigger. When false the session returns to
	// Idle after each response.
	Continuous bool

	AcquireTimeout time.Duration
	FrameRetries   int

	SampleRate    int
	Channels      int
	FrameDuration time.Duration
	// Encoding names the outbound frame codec announced in
	// audio_stream_start. Defaults to pcm.
	Encoding string

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	Logger *zap.Logger
	Bus    *events.Bus
}

// Controller coordinates microphone capture, outbound streaming,
// response playback and the session state machine. All entry points are
// safe for concurrent use; interleaved calls resolve to a consistent
// state rather than racing on the device.
type Controller struct {
	opts    Options
	logger  *zap.Logger
	bus     *events.Bus
	state   *StateManager
	channel Channel

	mu         sync.Mutex
	closed     bool
	acquiring  bool
	captureGen uint64
	stream     CaptureStream
	playGen    uint64
	playback   Playback
	level      float64
}

// NewController builds a controller in the Idle state.
func NewController(opts Options) (*Controller, error) {
	if opts.Capture == nil {
		return nil, fmt.Errorf("session: capture device is required")
	}
	if opts.Playback == nil {
		return nil, fmt.Errorf("session: playback device is required")
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("session: channel is required")
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if opts.FrameRetries <= 0 {
		opts.FrameRetries = DefaultFrameRetries
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = DefaultChannels
	}
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = DefaultFrameDuration
	}
	if opts.Encoding == "" {
		opts.Encoding = audio.EncodingPCM
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Bus == nil {
		opts.Bus = events.Default()
	}
	return &Controller{
		opts:    opts,
		logger:  opts.Logger,
		bus:     opts.Bus,
		state:   NewStateManager(opts.Logger),
		channel: opts.Channel,
	}, nil
}

// State returns the current interaction state.
func (c *Controller) State() InteractionState { return c.state.State() }

// LastError returns the most recent surfaced error, if any.
func (c *Controller) LastError() *SessionError { return c.state.LastError() }

// Active reports whether capture is held or being acquired.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil || c.acquiring
}

// AudioLevel returns the normalized energy of the latest captured
// frame, for level meters.
func (c *Controller) AudioLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// StartCapture acquires the microphone, announces the stream and begins
// forwarding frames. At most one capture is held at a time; a second
// call while capture is active or pending is rejected. A device that
// cannot be acquired surfaces DeviceUnavailable and leaves the state
// untouched.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	if c.stream != nil || c.acquiring {
		c.mu.Unlock()
		return fmt.Errorf("capture already active")
	}
	switch c.state.State() {
	case StateIdle, StateError:
	default:
		c.mu.Unlock()
		return fmt.Errorf("cannot start capture while %s", c.state.State())
	}
	c.captureGen++
	gen := c.captureGen
	c.acquiring = true
	c.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, c.opts.AcquireTimeout)
	defer cancel()

	stream, err := c.opts.Capture.Acquire(acquireCtx, CaptureConstraints{
		SampleRate:       c.opts.SampleRate,
		Channels:         c.opts.Channels,
		FrameDuration:    c.opts.FrameDuration,
		EchoCancellation: c.opts.EchoCancellation,
		NoiseSuppression: c.opts.NoiseSuppression,
		AutoGainControl:  c.opts.AutoGainControl,
	})

	c.mu.Lock()
	c.acquiring = false
	if err != nil {
		c.mu.Unlock()
		serr := newSessionError(ErrDeviceUnavailable, "microphone acquisition failed", err)
		c.state.Record(serr)
		c.reportError(serr)
		return serr
	}
	if gen != c.captureGen || c.closed {
		// Stopped while the acquisition was pending. The device resolved
		// after the stop, so release it immediately.
		c.mu.Unlock()
		c.logger.Info("[Session] releasing capture acquired after stop")
		_ = stream.Close()
		return nil
	}
	c.stream = stream
	// Transition inside the critical section so a concurrent stop
	// cannot interleave between device hold and state change.
	changed := c.state.Transition(StateListening)
	c.mu.Unlock()

	if changed {
		c.publishState(StateListening)
	}
	c.logger.Info("[Session] capture started",
		zap.Int("sample_rate", c.opts.SampleRate),
		zap.Int("channels", c.opts.Channels))

	if err := c.sendWithRetry(func() error {
		return c.channel.SendStreamStart(c.opts.SampleRate, c.opts.Encoding)
	}); err != nil {
		c.failCapture(gen, newSessionError(ErrTransmissionFailure, "audio_stream_start rejected", err))
		return c.state.LastError()
	}

	go c.forwardFrames(gen, stream)
	return nil
}

// StopCapture releases the microphone and finalizes the stream. It is
// idempotent, and a stop issued while acquisition is still pending is
// honored as soon as the device resolves.
func (c *Controller) StopCapture() error {
	c.mu.Lock()
	c.captureGen++
	stream := c.stream
	c.stream = nil
	c.level = 0
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		c.logger.Warn("[Session] capture release failed", zap.Error(err))
	}
	if c.channel.Live() {
		if err := c.sendWithRetry(c.channel.SendStreamStop); err != nil {
			c.logger.Warn("[Session] audio_stream_stop rejected", zap.Error(err))
		}
	}
	if c.state.State() == StateListening && c.state.Transition(StateIdle) {
		c.publishState(StateIdle)
	}
	c.logger.Info("[Session] capture stopped")
	return nil
}

// forwardFrames streams captured frames to the channel until the stream
// ends. Timestamps are milliseconds since stream start and strictly
// increasing. A frame the channel rejects is retried before the capture
// is failed.
func (c *Controller) forwardFrames(gen uint64, stream CaptureStream) {
	start := time.Now()
	var lastTS int64 = -1

	for frame := range stream.Frames() {
		c.mu.Lock()
		if gen != c.captureGen {
			c.mu.Unlock()
			return
		}
		c.level = frame.Level
		c.mu.Unlock()

		c.bus.PublishEvent(events.TopicAudioLevel, map[string]interface{}{
			"level": frame.Level,
		}, "session")

		ts := time.Since(start).Milliseconds()
		if ts <= lastTS {
			ts = lastTS + 1
		}
		lastTS = ts

		if err := c.sendFrameWithRetry(frame.Data, ts); err != nil {
			c.failCapture(gen, newSessionError(ErrTransmissionFailure, "frame transmission failed", err))
			return
		}
	}
}

func (c *Controller) sendFrameWithRetry(data []byte, ts int64) error {
	var err error
	for attempt := 0; attempt <= c.opts.FrameRetries; attempt++ {
		if err = c.channel.SendFrame(data, c.opts.Encoding, ts); err == nil {
			return nil
		}
		if errors.Is(err, protocol.ErrBackpressure) {
			// Give the write loop one slice to drain before resending.
			time.Sleep(c.opts.FrameDuration)
		}
	}
	return err
}

func (c *Controller) sendWithRetry(send func() error) error {
	err := send()
	if err == nil {
		return nil
	}
	return send()
}

// failCapture tears down a capture after a transmission fault and moves
// the session to Error. The generation check makes it a no-op when the
// capture was already stopped or replaced.
func (c *Controller) failCapture(gen uint64, serr *SessionError) {
	c.mu.Lock()
	if gen != c.captureGen {
		c.mu.Unlock()
		return
	}
	c.captureGen++
	stream := c.stream
	c.stream = nil
	c.level = 0
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	c.logger.Error("[Session] capture failed", zap.Error(serr))
	if c.state.Fail(serr) {
		c.publishState(StateError)
	}
	c.reportError(serr)
}

// HandleIncomingEvent processes one raw inbound channel event. Events
// are interpreted in arrival order; a malformed event is logged and
// dropped without disturbing the session.
func (c *Controller) HandleIncomingEvent(raw []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.logger.Debug("[Session] ignoring channel event after close")
		return
	}

	event, err := protocol.ParseEvent(raw)
	if err != nil {
		serr := newSessionError(ErrProtocol, "discarding malformed channel event", err)
		c.logger.Warn("[Session] "+serr.Message, zap.Error(err))
		c.reportError(serr)
		return
	}

	switch ev := event.(type) {
	case *protocol.StateUpdate:
		c.applyPhase(ev.Phase)

	case *protocol.AudioResponse:
		clip, err := audio.Decode(ev.Payload, ev.Encoding, audio.Defaults{
			SampleRate: c.opts.SampleRate,
			Channels:   c.opts.Channels,
		})
		if err != nil {
			serr := newSessionError(ErrProtocol, "discarding undecodable audio_response", err)
			c.logger.Warn("[Session] "+serr.Message, zap.Error(err))
			c.reportError(serr)
			return
		}
		if err := c.PlayResponse(clip); err != nil {
			c.logger.Warn("[Session] playback of audio_response failed", zap.Error(err))
		}

	case *protocol.AudioError:
		serr := newSessionError(ErrBackend, ev.Message, nil)
		c.logger.Error("[Session] backend reported audio error", zap.String("message", ev.Message))
		c.haltActivity()
		if c.state.Fail(serr) {
			c.publishState(StateError)
		}
		c.reportError(serr)

	case *protocol.WakeWordDetected:
		c.logger.Info("[Session] wake word detected", zap.String("word", ev.Word))
		c.bus.PublishEvent(events.TopicTriggered, map[string]interface{}{
			"source": SourceWakeWord,
			"word":   ev.Word,
		}, "session")
		if c.State() == StateIdle {
			go func() {
				if err := c.StartCapture(context.Background()); err != nil {
					c.logger.Warn("[Session] wake word capture start failed", zap.Error(err))
				}
			}()
		}
	}
}

// applyPhase maps a backend-reported phase onto the state machine. The
// backend is authoritative for processing; listening and speaking
// updates are accepted only when they agree with local activity.
func (c *Controller) applyPhase(phase string) {
	var target InteractionState
	switch phase {
	case protocol.PhaseListening:
		target = StateListening
	case protocol.PhaseProcessing:
		target = StateProcessing
	case protocol.PhaseSpeaking:
		target = StateSpeaking
	default:
		return
	}
	if target == StateListening && !c.Active() {
		// The backend believes we are streaming but the device is gone;
		// keep the local truth.
		c.logger.Warn("[Session] ignoring listening phase without active capture")
		return
	}
	if c.state.Transition(target) {
		c.publishState(target)
	}
}

// PlayResponse renders a clip on the output device. A new response
// supersedes any clip still playing; the superseded playback is stopped
// and its resources released before the new one starts.
func (c *Controller) PlayResponse(clip *audio.Clip) error {
	if clip == nil {
		return fmt.Errorf("nil clip")
	}
	if err := clip.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	c.playGen++
	gen := c.playGen
	previous := c.playback
	c.playback = nil
	c.mu.Unlock()

	if previous != nil {
		c.logger.Info("[Session] superseding active playback")
		previous.Stop()
	}

	playback, err := c.opts.Playback.Play(clip)
	if err != nil {
		serr := newSessionError(ErrPlaybackFailure, "output device rejected clip", err)
		c.logger.Error("[Session] playback failed", zap.Error(serr))
		if c.state.Fail(serr) {
			c.publishState(StateError)
		}
		c.reportError(serr)
		return serr
	}

	c.mu.Lock()
	if gen != c.playGen || c.closed {
		c.mu.Unlock()
		playback.Stop()
		return nil
	}
	c.playback = playback
	c.mu.Unlock()

	if c.state.Transition(StateSpeaking) {
		c.publishState(StateSpeaking)
	}
	c.logger.Info("[Session] playback started",
		zap.Duration("duration", clip.Duration()))

	go c.watchPlayback(gen, playback)
	return nil
}

// watchPlayback waits for a clip to finish and settles the session
// afterwards: back to Listening in continuous mode, to Idle otherwise.
// Superseded playbacks settle nothing.
func (c *Controller) watchPlayback(gen uint64, playback Playback) {
	<-playback.Done()

	c.mu.Lock()
	if gen != c.playGen || c.closed {
		c.mu.Unlock()
		return
	}
	c.playback = nil
	captureHeld := c.stream != nil
	c.mu.Unlock()

	c.logger.Info("[Session] playback finished")

	if c.opts.Continuous && captureHeld {
		if c.state.Transition(StateListening) {
			c.publishState(StateListening)
		}
		return
	}
	if err := c.StopCapture(); err != nil {
		c.logger.Warn("[Session] capture release after playback failed", zap.Error(err))
	}
	if c.state.Transition(StateIdle) {
		c.publishState(StateIdle)
	}
}

// TriggerManual starts capture in response to an explicit user action
// and reports the activation source to the backend.
func (c *Controller) TriggerManual(ctx context.Context, source string) error {
	if source == "" {
		source = SourceUI
	}
	if !c.Active() {
		if err := c.StartCapture(ctx); err != nil {
			return err
		}
	}
	c.bus.PublishEvent(events.TopicTriggered, map[string]interface{}{
		"source": source,
	}, "session")
	if err := c.sendWithRetry(func() error {
		return c.channel.SendVoiceTrigger(source)
	}); err != nil {
		c.logger.Warn("[Session] voice_trigger rejected", zap.Error(err))
	}
	return nil
}

// Reset clears an Error state back to Idle so the user can retry. Any
// leftover device activity is released first. Resetting a session that
// is not in Error is a no-op.
func (c *Controller) Reset() {
	if c.state.State() != StateError {
		return
	}
	c.haltActivity()
	if c.state.Reset() {
		c.publishState(StateIdle)
		c.logger.Info("[Session] reset to idle")
	}
}

// Close releases the devices, settles state to Idle and makes the
// controller inert: other entry points fail and late channel events
// are ignored. Safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.haltActivity()
	c.state.Reset()
	c.logger.Info("[Session] closed")
	return nil
}

// haltActivity stops capture and playback without touching state.
func (c *Controller) haltActivity() {
	c.mu.Lock()
	c.captureGen++
	c.playGen++
	stream := c.stream
	c.stream = nil
	playback := c.playback
	c.playback = nil
	c.level = 0
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
		if c.channel.Live() {
			if err := c.sendWithRetry(c.channel.SendStreamStop); err != nil {
				c.logger.Warn("[Session] audio_stream_stop rejected", zap.Error(err))
			}
		}
	}
	if playback != nil {
		playback.Stop()
	}
}

func (c *Controller) publishState(state InteractionState) {
	c.bus.PublishEvent(events.TopicStateChanged, map[string]interface{}{
		"state": state.String(),
	}, "session")
}

func (c *Controller) reportError(serr *SessionError) {
	c.bus.PublishEvent(events.TopicError, map[string]interface{}{
		"kind":    serr.Kind.String(),
		"message": serr.Message,
		"hint":    serr.Hint(),
	}, "session")
}
