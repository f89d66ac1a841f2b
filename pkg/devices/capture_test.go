package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soundpath/voicelink/pkg/session"
)

func TestCallbackSlicesSamplesIntoFrames(t *testing.T) {
	stream := &micStream{
		logger:     zap.NewNop(),
		frames:     make(chan session.Frame, 8),
		frameBytes: 4,
	}

	// Two full frames plus a partial that must stay pending.
	stream.onSamples(nil, []byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0}, 0)
	require.Len(t, stream.frames, 2)

	first := <-stream.frames
	assert.Equal(t, []byte{1, 0, 2, 0}, first.Data)
	second := <-stream.frames
	assert.Equal(t, []byte{3, 0, 4, 0}, second.Data)
	assert.Equal(t, []byte{5, 0}, stream.pending)

	// The partial completes on the next callback.
	stream.onSamples(nil, []byte{6, 0}, 0)
	require.Len(t, stream.frames, 1)
	third := <-stream.frames
	assert.Equal(t, []byte{5, 0, 6, 0}, third.Data)
}

func TestCallbackCountsShedFrames(t *testing.T) {
	stream := &micStream{
		logger:     zap.NewNop(),
		frames:     make(chan session.Frame, 1),
		frameBytes: 2,
	}

	stream.onSamples(nil, []byte{1, 0, 2, 0, 3, 0}, 0)

	// One frame queued, the overflow is shed but accounted for.
	assert.Len(t, stream.frames, 1)
	assert.Equal(t, uint64(2), stream.Dropped())

	queued := <-stream.frames
	assert.Equal(t, []byte{1, 0}, queued.Data)
}
