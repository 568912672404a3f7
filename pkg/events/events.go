// Package events implements the supervisor's event broker (C1): pub/sub
// fan-out of structured events to N live subscribers with per-subscriber
// bounded buffers. Producers never block.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/runnerd/pkg/metrics"
	"github.com/cuemby/runnerd/pkg/rerr"
)

const (
	// DefaultMaxSubscribers is the maximum number of concurrent subscribers.
	DefaultMaxSubscribers = 100

	// DefaultSubscriberBuffer is the bounded per-subscriber queue depth.
	DefaultSubscriberBuffer = 7000
)

// Event is a JSON-serializable map with a "type" discriminator. All events
// also carry a "ts" field, set by Publish if not already present.
type Event map[string]any

// Type returns the event's "type" field, or "" if absent.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Broker fans published events out to every live subscriber.
type Broker struct {
	mu             sync.RWMutex
	subscribers    map[string]chan Event
	maxSubscribers int
	bufferSize     int
}

// NewBroker creates a broker with the default caps.
func NewBroker() *Broker {
	return &Broker{
		subscribers:    make(map[string]chan Event),
		maxSubscribers: DefaultMaxSubscribers,
		bufferSize:     DefaultSubscriberBuffer,
	}
}

// Subscribe registers a new subscriber and returns its id and receive
// channel. Fails with rerr.Overloaded once DefaultMaxSubscribers is reached.
func (b *Broker) Subscribe() (string, <-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= b.maxSubscribers {
		return "", nil, rerr.New(rerr.Overloaded, "too many event subscribers")
	}

	id := uuid.New().String()
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	metrics.BrokerSubscribers.Set(float64(len(b.subscribers)))
	return id, ch, nil
}

// Unsubscribe releases a subscriber's queue. Further publishes for id are
// discarded.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
		metrics.BrokerSubscribers.Set(float64(len(b.subscribers)))
	}
}

// Publish fans event out to every subscriber without blocking. A
// subscriber whose queue is full drops the event silently; other
// subscribers are unaffected.
func (b *Broker) Publish(event Event) {
	if _, ok := event["ts"]; !ok {
		event["ts"] = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			metrics.BrokerDroppedEvents.WithLabelValues(event.Type()).Inc()
			_ = id
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
