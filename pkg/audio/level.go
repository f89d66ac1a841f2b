package audio

import "math"

// Level computes the normalized RMS amplitude of 16-bit little-endian
// PCM data, in [0,1]. Used for input metering only; the value is never
// persisted.
func Level(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var sumSquares float64
	sampleCount := len(pcm) / 2

	for i := 0; i < sampleCount; i++ {
		sample := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		sumSquares += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sumSquares / float64(sampleCount))
	level := rms / 32768.0
	if level > 1 {
		level = 1
	}
	return level
}
