package agent

import (
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/pkg/logging"
	"github.com/agentrelay/agentrelay/pkg/resilience"
)

// Event is a typed lifecycle notification. Concrete event structs replace
// loose emit-anything semantics so subscribers can switch on type.
type Event interface {
	EventAgentID() string
	EventTime() time.Time
}

// HeartbeatEvent is emitted on every heartbeat tick
type HeartbeatEvent struct {
	AgentID   string
	Timestamp time.Time
}

func (e HeartbeatEvent) EventAgentID() string { return e.AgentID }
func (e HeartbeatEvent) EventTime() time.Time { return e.Timestamp }

// MetricsUpdatedEvent is emitted when the metrics timer refreshes gauges
type MetricsUpdatedEvent struct {
	AgentID   string
	Timestamp time.Time
	Snapshot  Metrics
}

func (e MetricsUpdatedEvent) EventAgentID() string { return e.AgentID }
func (e MetricsUpdatedEvent) EventTime() time.Time { return e.Timestamp }

// BreakerOpenedEvent is emitted when a circuit breaker leaves the closed state
type BreakerOpenedEvent struct {
	AgentID   string
	Timestamp time.Time
	Endpoint  string
	From      resilience.CircuitState
	To        resilience.CircuitState
}

func (e BreakerOpenedEvent) EventAgentID() string { return e.AgentID }
func (e BreakerOpenedEvent) EventTime() time.Time { return e.Timestamp }

// StateChangedEvent is emitted on lifecycle transitions
type StateChangedEvent struct {
	AgentID   string
	Timestamp time.Time
	From      Status
	To        Status
}

func (e StateChangedEvent) EventAgentID() string { return e.AgentID }
func (e StateChangedEvent) EventTime() time.Time { return e.Timestamp }

// Bus fans lifecycle events out to subscribers. Publishing never blocks; a
// subscriber that falls behind loses events rather than stalling the
// lifecycle pipeline.
type Bus struct {
	mutex       sync.RWMutex
	subscribers []chan Event
	closed      bool
	logger      *logging.Logger
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{
		logger: logging.GetLogger(),
	}
}

// Subscribe returns a channel receiving all future events. The channel is
// closed when the bus closes.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}

	ch := make(chan Event, buffer)

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers an event to every subscriber without blocking
func (b *Bus) Publish(event Event) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("Dropping event for slow subscriber",
				"agent_id", event.EventAgentID(),
			)
		}
	}
}

// Close closes all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
