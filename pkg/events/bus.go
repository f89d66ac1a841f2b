package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session event topics published by the voice session controller.
const (
	TopicStateChanged = "session.state_changed"
	TopicError        = "session.error"
	TopicAudioLevel   = "session.audio_level"
	TopicTriggered    = "session.triggered"
)

// Event is an in-process notification for UI projections.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
}

// EventHandler handles one event. Handlers run on their own goroutine;
// a returned error is logged, not propagated.
type EventHandler func(event Event) error

// Bus is a topic-keyed publish/subscribe bus. The zero value is not
// usable; create one with NewBus.
type Bus struct {
	handlers map[string][]EventHandler
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.L()
	}
	return &Bus{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

var defaultBus *Bus
var once sync.Once

// Default returns the process-wide bus instance.
func Default() *Bus {
	once.Do(func() {
		defaultBus = NewBus(zap.L())
	})
	return defaultBus
}

// Subscribe registers a handler for a topic. The wildcard topic "*"
// receives every event.
func (bus *Bus) Subscribe(topic string, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handlers[topic] = append(bus.handlers[topic], handler)
}

// Unsubscribe removes all handlers for a topic.
func (bus *Bus) Unsubscribe(topic string) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	delete(bus.handlers, topic)
}

// Publish delivers an event to all handlers for its type, plus any
// wildcard handlers. Handlers run asynchronously; publish never blocks
// on a slow subscriber.
func (bus *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.mu.RLock()
	handlers := bus.handlers[event.Type]
	wildcardHandlers := bus.handlers["*"]
	allHandlers := make([]EventHandler, 0, len(handlers)+len(wildcardHandlers))
	allHandlers = append(allHandlers, handlers...)
	allHandlers = append(allHandlers, wildcardHandlers...)
	bus.mu.RUnlock()

	if len(allHandlers) == 0 {
		return
	}

	for _, handler := range allHandlers {
		go func(h EventHandler) {
			if err := h(event); err != nil {
				bus.logger.Error("event handler failed",
					zap.String("eventType", event.Type),
					zap.Error(err))
			}
		}(handler)
	}
}

// PublishEvent is a convenience wrapper over Publish.
func (bus *Bus) PublishEvent(eventType string, data map[string]interface{}, source string) {
	bus.Publish(Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	})
}
