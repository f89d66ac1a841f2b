package devices

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/soundpath/voicelink/pkg/audio"
	"github.com/soundpath/voicelink/pkg/session"
)

// SpeakerPlayback renders clips on the default output device.
// Implements session.PlaybackDevice.
type SpeakerPlayback struct {
	ctx    *Context
	logger *zap.Logger
}

// NewSpeakerPlayback creates a playback device bound to the shared
// context.
func NewSpeakerPlayback(ctx *Context, logger *zap.Logger) *SpeakerPlayback {
	if logger == nil {
		logger = zap.L()
	}
	return &SpeakerPlayback{ctx: ctx, logger: logger}
}

// Play starts rendering the clip and returns immediately. The returned
// playback's Done channel closes when the clip drains or is stopped.
func (p *SpeakerPlayback) Play(clip *audio.Clip) (session.Playback, error) {
	if err := clip.Validate(); err != nil {
		return nil, err
	}

	playing := &speakerPlaying{
		logger: p.logger,
		pcm:    clip.PCM,
		done:   make(chan struct{}),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(clip.Channels)
	deviceConfig.SampleRate = uint32(clip.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(p.ctx.Raw().Context, deviceConfig, malgo.DeviceCallbacks{
		Data: playing.onOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	playing.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	p.logger.Info("[Audio] playback started",
		zap.Duration("duration", clip.Duration()),
		zap.Int("sample_rate", clip.SampleRate))
	return playing, nil
}

type speakerPlaying struct {
	logger *zap.Logger
	device *malgo.Device

	mu     sync.Mutex
	pcm    []byte
	offset int

	once sync.Once
	done chan struct{}
}

func (p *speakerPlaying) Done() <-chan struct{} { return p.done }

// onOutput runs on the backend's audio thread, filling the output
// buffer from the clip. Past the end it pads silence and signals
// completion.
func (p *speakerPlaying) onOutput(output, _ []byte, _ uint32) {
	p.mu.Lock()
	remaining := len(p.pcm) - p.offset
	if remaining > 0 {
		n := copy(output, p.pcm[p.offset:])
		p.offset += n
		remaining -= n
		for i := n; i < len(output); i++ {
			output[i] = 0
		}
	} else {
		for i := range output {
			output[i] = 0
		}
	}
	finished := remaining <= 0
	p.mu.Unlock()

	if finished {
		p.signalDone()
	}
}

func (p *speakerPlaying) signalDone() {
	p.once.Do(func() {
		close(p.done)
		// Uninit must not run on the audio thread.
		go func() {
			p.device.Uninit()
			p.logger.Debug("[Audio] playback device released")
		}()
	})
}

// Stop aborts playback and releases the output device. Idempotent;
// also safe on a clip that already finished.
func (p *speakerPlaying) Stop() {
	p.signalDone()
}
