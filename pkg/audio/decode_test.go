package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wav "github.com/youpy/go-wav"
)

func TestDecodePCMPassthrough(t *testing.T) {
	payload := []byte{0x01, 0x00, 0x02, 0x00}
	clip, err := Decode(payload, EncodingPCM, Defaults{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	assert.Equal(t, payload, clip.PCM)
	assert.Equal(t, 16000, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
}

func TestDecodeEmptyEncodingIsPCM(t *testing.T) {
	clip, err := Decode([]byte{0x01, 0x00}, "", Defaults{SampleRate: 8000, Channels: 1})
	require.NoError(t, err)
	assert.Equal(t, 8000, clip.SampleRate)
}

func TestDecodeRejectsOddLengthPCM(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x00, 0x02}, EncodingPCM, Defaults{SampleRate: 16000, Channels: 1})
	require.Error(t, err)

	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	_, err := Decode(nil, EncodingPCM, Defaults{SampleRate: 16000, Channels: 1})
	require.Error(t, err)
}

func TestDecodeRejectsUnknownEncoding(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x00}, "flac", Defaults{SampleRate: 16000, Channels: 1})
	require.Error(t, err)

	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "flac", derr.Encoding)
}

func TestDecodeWAV(t *testing.T) {
	samples := []wav.Sample{{Values: [2]int{100, 0}}, {Values: [2]int{-100, 0}}}

	var buf bytes.Buffer
	writer := wav.NewWriter(&buf, 2, 1, 22050, 16)
	require.NoError(t, writer.WriteSamples(samples))

	clip, err := Decode(buf.Bytes(), EncodingWAV, Defaults{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	// The WAV header wins over the defaults.
	assert.Equal(t, 22050, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
	assert.Equal(t, 4, len(clip.PCM))
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not a riff chunk"), EncodingWAV, Defaults{SampleRate: 16000, Channels: 1})
	require.Error(t, err)
}

func TestClipDuration(t *testing.T) {
	clip := &Clip{PCM: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	assert.Equal(t, "1s", clip.Duration().String())

	stereo := &Clip{PCM: make([]byte, 32000), SampleRate: 16000, Channels: 2}
	assert.Equal(t, "500ms", stereo.Duration().String())
}

func TestClipValidate(t *testing.T) {
	assert.Error(t, (&Clip{PCM: []byte{1}, SampleRate: 16000, Channels: 1}).Validate())
	assert.Error(t, (&Clip{PCM: []byte{1, 2}, SampleRate: 0, Channels: 1}).Validate())
	assert.Error(t, (&Clip{PCM: []byte{1, 2}, SampleRate: 16000, Channels: 0}).Validate())
	assert.NoError(t, (&Clip{PCM: []byte{1, 2}, SampleRate: 16000, Channels: 1}).Validate())
}

func TestLevelSilence(t *testing.T) {
	assert.Zero(t, Level(make([]byte, 640)))
	assert.Zero(t, Level(nil))
}

func TestLevelFullScale(t *testing.T) {
	pcm := make([]byte, 64)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0xFF
		pcm[i+1] = 0x7F
	}
	level := Level(pcm)
	assert.InDelta(t, 1.0, level, 0.01)
}

func TestLevelMonotonicInAmplitude(t *testing.T) {
	quiet := make([]byte, 64)
	loud := make([]byte, 64)
	for i := 0; i < 64; i += 2 {
		quiet[i+1] = 0x01
		loud[i+1] = 0x40
	}
	assert.Less(t, Level(quiet), Level(loud))
}
