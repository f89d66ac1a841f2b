package audio

import (
	"fmt"
	"time"
)

// Clip is decoded audio ready for the playback device: interleaved
// 16-bit little-endian PCM.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration returns the play time of the clip.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Validate reports whether the clip parameters are playable.
func (c *Clip) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", c.Channels)
	}
	if len(c.PCM)%2 != 0 {
		return fmt.Errorf("pcm data has odd length %d", len(c.PCM))
	}
	return nil
}
