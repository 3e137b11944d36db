// internal/handler/event_bus.go
package handler

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"device-bridge/internal/model"
	"device-bridge/pkg/bridge"
)

const subscriberBufferSize = 64

// EventBus fans exchange events out to websocket subscribers
type EventBus struct {
	subscribers map[string]chan *model.ExchangeEvent
	events      chan *model.ExchangeEvent
	done        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

var _ bridge.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int, logger *zap.Logger) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventBus{
		subscribers: make(map[string]chan *model.ExchangeEvent),
		events:      make(chan *model.ExchangeEvent, bufferSize),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Start distributes events until Stop is called
func (eb *EventBus) Start() {
	for {
		select {
		case event := <-eb.events:
			eb.distributeEvent(event)
		case <-eb.done:
			return
		}
	}
}

// Stop ends distribution. Published events are dropped afterwards.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.done)
	})
}

// PublishExchange queues an exchange event without blocking the caller
func (eb *EventBus) PublishExchange(event *model.ExchangeEvent) {
	select {
	case <-eb.done:
		return
	default:
	}

	select {
	case eb.events <- event:
	default:
		// Event bus is full, log warning
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", string(event.EventType)),
				zap.String("event_id", event.ID.String()),
			)
		}
	}
}

// Subscribe registers a new subscriber and returns its id and channel
func (eb *EventBus) Subscribe() (string, <-chan *model.ExchangeEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	id := uuid.NewString()
	subscriber := make(chan *model.ExchangeEvent, subscriberBufferSize)
	eb.subscribers[id] = subscriber
	return id, subscriber
}

// Unsubscribe removes a subscriber
func (eb *EventBus) Unsubscribe(id string) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	delete(eb.subscribers, id)
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event *model.ExchangeEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, subscriber := range eb.subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
