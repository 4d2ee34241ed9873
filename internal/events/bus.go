package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Type tags an event with what happened.
type Type string

const (
	ResourceRegistered   Type = "resource:registered"
	ResourceUnregistered Type = "resource:unregistered"
	ResourceFailed       Type = "resource:failed"
	ReservationCreated   Type = "reservation:created"
	ReservationCancelled Type = "reservation:cancelled"
	AllocationActivated  Type = "allocation:activated"
	AllocationReleased   Type = "allocation:released"
	PoolCreated          Type = "pool:created"
	PoolScaledUp         Type = "pool:scaled-up"
	PoolScaledDown       Type = "pool:scaled-down"
	QoSViolation         Type = "qos:violation"
	MonitoringUpdated    Type = "monitoring:updated"
)

// Event is the typed unit published on the bus. ID fields are filled only
// when relevant to the event type.
type Event struct {
	Type          Type
	Timestamp     time.Time
	ResourceID    string
	ReservationID string
	AllocationID  string
	PoolID        string
	Reason        string
	Details       map[string]interface{}
}

// Bus fans events out to subscribers over bounded channels. Publish never
// blocks: when a subscriber's channel is full the event is dropped for that
// subscriber and counted.
type Bus struct {
	logger *zap.Logger

	mu      sync.RWMutex
	subs    []chan Event
	dropped atomic.Uint64
	closed  bool
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger.Named("events")}
}

// Subscribe returns a channel receiving all subsequent events. The buffer
// bounds how far a slow consumer may lag before it starts missing events.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Dropped event for slow subscriber", zap.String("type", string(ev.Type)))
		}
	}
}

// Dropped returns the number of events dropped due to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
