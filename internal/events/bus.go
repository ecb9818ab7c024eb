package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TradeCreated    = "trade.created"
	TradeUpdated    = "trade.updated"
	TradeDeleted    = "trade.deleted"
	SettingsUpdated = "settings.updated"
	BotStarted      = "bot.started"
	BotStopped      = "bot.stopped"
	BotError        = "bot.error"
	LogEntry        = "log.entry"

	allEvents = "*"
)

// ErrBusClosed is returned by PublishSync after Shutdown.
var ErrBusClosed = errors.New("event bus is shut down")

// Event is a single notification flowing through the bus.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler receives events. It runs on the dispatcher goroutine and must not block for long.
type Handler func(Event)

// Stats is a snapshot of the bus counters.
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Queued      int    `json:"queued"`
	Subscribers int    `json:"subscribers"`
}

// Bus is an in-memory publish/subscribe hub. Publish never blocks; events
// that do not fit the queue are dropped and counted.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler // event type -> subscription id -> handler
	queue    chan Event
	closed   bool
	done     chan struct{}
	logger   *zap.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus starts the dispatcher. queueSize bounds the number of pending events.
func NewBus(logger *zap.Logger, queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	b := &Bus{
		handlers: make(map[string]map[string]Handler),
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
		logger:   logger.Named("event_bus"),
	}
	go b.dispatch()
	return b
}

// Subscribe registers handler for one event type and returns the subscription id.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = handler
	return id
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(allEvents, handler)
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.handlers {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.handlers, eventType)
		}
	}
}

func newEvent(eventType string, data interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Publish queues an event and reports whether it was accepted.
// Drops are only counted: log entries travel through here too.
func (b *Bus) Publish(eventType string, data interface{}) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		return false
	}

	select {
	case b.queue <- newEvent(eventType, data):
		b.published.Add(1)
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// PublishSync delivers an event on the caller's goroutine, bypassing the queue.
func (b *Bus) PublishSync(eventType string, data interface{}) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	b.published.Add(1)
	b.deliver(newEvent(eventType, data))
	return nil
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		b.deliver(event)
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[event.Type])+len(b.handlers[allEvents]))
	for _, h := range b.handlers[event.Type] {
		targets = append(targets, h)
	}
	for _, h := range b.handlers[allEvents] {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.safeCall(h, event)
	}
}

func (b *Bus) safeCall(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil && event.Type != LogEntry {
			b.logger.Error("Event subscriber panic",
				zap.String("event_type", event.Type),
				zap.Any("panic", r))
		}
	}()
	h(event)
	b.delivered.Add(1)
}

// Shutdown stops accepting events and waits for the queue to drain.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subscribers := 0
	for _, subs := range b.handlers {
		subscribers += len(subs)
	}
	b.mu.RUnlock()

	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Queued:      len(b.queue),
		Subscribers: subscribers,
	}
}

// Publisher is the part of the bus producers depend on.
type Publisher interface {
	Publish(eventType string, data interface{}) bool
}

var _ Publisher = (*Bus)(nil)
