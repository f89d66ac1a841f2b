package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// WriterBufferSize is the outbound queue depth. At a 60ms frame
	// slice this absorbs roughly twelve seconds of capture without the
	// socket draining.
	WriterBufferSize = 200
)

// ErrBackpressure is returned when the outbound queue cannot accept a
// message. The session retries the frame once before failing the
// capture.
var ErrBackpressure = errors.New("channel write queue full")

// Conn is the subset of *websocket.Conn the channel layer uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// ChannelWriter serializes outbound messages onto the websocket from
// dedicated write loops, one for text and one for binary, so the
// capture path never blocks on socket I/O.
type ChannelWriter struct {
	conn       Conn
	logger     *zap.Logger
	mu         sync.Mutex
	msgChan    chan []byte
	binaryChan chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	sessionID  string
}

// NewChannelWriter creates a writer and starts its write loops.
func NewChannelWriter(conn Conn, sessionID string, logger *zap.Logger) *ChannelWriter {
	if logger == nil {
		logger = zap.L()
	}
	w := &ChannelWriter{
		conn:       conn,
		logger:     logger,
		msgChan:    make(chan []byte, WriterBufferSize),
		binaryChan: make(chan []byte, WriterBufferSize),
		done:       make(chan struct{}),
		sessionID:  sessionID,
	}
	w.wg.Add(2)
	go w.writeLoop()
	go w.writeBinaryLoop()
	return w
}

// Close stops the write loops. Idempotent.
func (w *ChannelWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return nil
}

// Live reports whether the writer still accepts messages.
func (w *ChannelWriter) Live() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *ChannelWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case msg := <-w.msgChan:
			w.mu.Lock()
			err := w.conn.WriteMessage(websocket.TextMessage, msg)
			w.mu.Unlock()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					w.logger.Debug("[Channel Writer] connection closed, stopping text writes", zap.Error(err))
				} else {
					w.logger.Error("[Channel Writer] text write failed", zap.Error(err))
				}
				w.closeOnce.Do(func() { close(w.done) })
				return
			}
		}
	}
}

func (w *ChannelWriter) writeBinaryLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case data := <-w.binaryChan:
			w.mu.Lock()
			err := w.conn.WriteMessage(websocket.BinaryMessage, data)
			w.mu.Unlock()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					w.logger.Debug("[Channel Writer] connection closed, stopping binary writes", zap.Error(err))
				} else {
					w.logger.Error("[Channel Writer] binary write failed", zap.Error(err))
				}
				w.closeOnce.Do(func() { close(w.done) })
				return
			}
		}
	}
}

// sendJSON enqueues a text message. A full queue reports ErrBackpressure
// instead of blocking or silently dropping, so callers can apply their
// own retry policy.
func (w *ChannelWriter) sendJSON(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		w.logger.Error("[Channel Writer] marshal message failed", zap.Error(err))
		return err
	}
	select {
	case <-w.done:
		return fmt.Errorf("channel writer closed")
	case w.msgChan <- message:
		return nil
	default:
		return ErrBackpressure
	}
}

// SendStreamStart announces an audio stream with its acquisition
// parameters.
func (w *ChannelWriter) SendStreamStart(sampleRate int, encoding string) error {
	w.logger.Info("[Channel Writer] sending audio_stream_start",
		zap.Int("sample_rate", sampleRate),
		zap.String("encoding", encoding))
	return w.sendJSON(map[string]interface{}{
		"type":        TypeAudioStreamStart,
		"sample_rate": sampleRate,
		"encoding":    encoding,
		"session_id":  w.sessionID,
	})
}

// SendFrame sends one captured frame tagged with its capture timestamp
// (milliseconds since stream start, strictly increasing).
func (w *ChannelWriter) SendFrame(payload []byte, encoding string, timestamp int64) error {
	return w.sendJSON(map[string]interface{}{
		"type":       TypeAudioStream,
		"payload":    base64.StdEncoding.EncodeToString(payload),
		"encoding":   encoding,
		"timestamp":  timestamp,
		"session_id": w.sessionID,
	})
}

// SendStreamStop tells the backend to finalize any partial utterance.
func (w *ChannelWriter) SendStreamStop() error {
	w.logger.Info("[Channel Writer] sending audio_stream_stop")
	return w.sendJSON(map[string]interface{}{
		"type":       TypeAudioStreamStop,
		"session_id": w.sessionID,
	})
}

// SendVoiceTrigger reports an explicit activation and its source, so
// the backend can distinguish manual from wake-word starts.
func (w *ChannelWriter) SendVoiceTrigger(source string) error {
	w.logger.Info("[Channel Writer] sending voice_trigger", zap.String("source", source))
	return w.sendJSON(map[string]interface{}{
		"type":       TypeVoiceTrigger,
		"source":     source,
		"session_id": w.sessionID,
	})
}

// SendBinaryFrame sends one frame on the binary lane for backends that
// prefer raw frames over base64 text.
func (w *ChannelWriter) SendBinaryFrame(data []byte) error {
	select {
	case <-w.done:
		return fmt.Errorf("channel writer closed")
	case w.binaryChan <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// PendingCount returns the queued text message count.
func (w *ChannelWriter) PendingCount() int {
	return len(w.msgChan)
}
