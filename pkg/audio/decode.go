package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hraban/opus"
	wav "github.com/youpy/go-wav"
)

// Supported response payload encodings.
const (
	EncodingPCM  = "pcm"
	EncodingWAV  = "wav"
	EncodingOpus = "opus"
)

// maxOpusFrameSamples is the largest Opus frame (120ms at 48kHz) per channel.
const maxOpusFrameSamples = 5760

// Defaults supplies stream parameters for encodings that do not carry
// their own header.
type Defaults struct {
	SampleRate int
	Channels   int
}

// DecodeError marks a payload the output path cannot use.
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode turns a response payload into a playable clip. Raw PCM is
// passed through with the default stream parameters, WAV is parsed for
// its own format header, and Opus payloads are treated as one packet
// per message.
func Decode(payload []byte, encoding string, def Defaults) (*Clip, error) {
	if len(payload) == 0 {
		return nil, &DecodeError{Encoding: encoding, Err: fmt.Errorf("empty payload")}
	}

	switch encoding {
	case EncodingPCM, "":
		clip := &Clip{PCM: payload, SampleRate: def.SampleRate, Channels: def.Channels}
		if err := clip.Validate(); err != nil {
			return nil, &DecodeError{Encoding: EncodingPCM, Err: err}
		}
		return clip, nil

	case EncodingWAV:
		return decodeWAV(payload)

	case EncodingOpus:
		return decodeOpus(payload, def)

	default:
		return nil, &DecodeError{Encoding: encoding, Err: fmt.Errorf("unsupported encoding")}
	}
}

func decodeWAV(payload []byte) (*Clip, error) {
	reader := wav.NewReader(bytes.NewReader(payload))
	format, err := reader.Format()
	if err != nil {
		return nil, &DecodeError{Encoding: EncodingWAV, Err: err}
	}
	if format.BitsPerSample != 16 {
		return nil, &DecodeError{
			Encoding: EncodingWAV,
			Err:      fmt.Errorf("unsupported bit depth %d", format.BitsPerSample),
		}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &DecodeError{Encoding: EncodingWAV, Err: err}
	}
	clip := &Clip{
		PCM:        data,
		SampleRate: int(format.SampleRate),
		Channels:   int(format.NumChannels),
	}
	if err := clip.Validate(); err != nil {
		return nil, &DecodeError{Encoding: EncodingWAV, Err: err}
	}
	return clip, nil
}

func decodeOpus(payload []byte, def Defaults) (*Clip, error) {
	decoder, err := opus.NewDecoder(def.SampleRate, def.Channels)
	if err != nil {
		return nil, &DecodeError{Encoding: EncodingOpus, Err: err}
	}
	pcm := make([]int16, maxOpusFrameSamples*def.Channels)
	n, err := decoder.Decode(payload, pcm)
	if err != nil {
		return nil, &DecodeError{Encoding: EncodingOpus, Err: err}
	}
	samples := pcm[:n*def.Channels]
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return &Clip{PCM: data, SampleRate: def.SampleRate, Channels: def.Channels}, nil
}
