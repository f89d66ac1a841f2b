package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Channel is the persistent bidirectional connection to the backend
// voice service. It owns a read loop that hands raw inbound events to
// a single handler in arrival order, and a ChannelWriter for outbound
// control and audio messages.
type Channel struct {
	*ChannelWriter

	conn      Conn
	logger    *zap.Logger
	sessionID string

	mu      sync.Mutex
	onEvent func(raw []byte)
	started bool
}

// Dial connects to the backend channel endpoint.
func Dial(ctx context.Context, url string, timeout time.Duration, logger *zap.Logger) (*Channel, error) {
	if logger == nil {
		logger = zap.L()
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial voice channel %s: %w", url, err)
	}
	return NewChannel(conn, logger), nil
}

// NewChannel wraps an established connection. Exposed separately so
// tests can supply a fake Conn.
func NewChannel(conn Conn, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.L()
	}
	sessionID := fmt.Sprintf("voice_%s", uuid.NewString())
	return &Channel{
		ChannelWriter: NewChannelWriter(conn, sessionID, logger),
		conn:          conn,
		logger:        logger,
		sessionID:     sessionID,
	}
}

// SessionID returns the channel's session identifier, echoed in every
// outbound message.
func (c *Channel) SessionID() string { return c.sessionID }

// Start begins the read loop. Events are delivered to onEvent one at a
// time, preserving arrival order.
func (c *Channel) Start(onEvent func(raw []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("channel already started")
	}
	c.onEvent = onEvent
	c.started = true
	go c.readLoop()
	return nil
}

func (c *Channel) readLoop() {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Info("[Channel] connection closed", zap.Error(err))
			} else {
				c.logger.Error("[Channel] read failed", zap.Error(err))
			}
			c.closeOnce.Do(func() { close(c.done) })
			return
		}
		switch messageType {
		case websocket.TextMessage:
			c.onEvent(message)
		case websocket.BinaryMessage:
			// Inbound audio travels inline in audio_response events;
			// a bare binary frame is outside the contract.
			c.logger.Warn("[Channel] ignoring unexpected binary message",
				zap.Int("bytes", len(message)))
		}
	}
}

// Close shuts down the write loops and the underlying connection with
// a normal-closure handshake. Safe to call more than once.
func (c *Channel) Close() error {
	_ = c.ChannelWriter.Close()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second)); err != nil {
		c.logger.Debug("[Channel] close handshake failed", zap.Error(err))
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("[Channel] close failed", zap.Error(err))
	}
	return nil
}
