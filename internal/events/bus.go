package events

import (
	"sync"
	"time"
)

// Event is a structured runtime event pushed to subscribers.
type Event struct {
	Type      string                 `json:"type"`
	AppID     string                 `json:"app_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Types emitted by the runtime.
const (
	TypeNotification     = "notification"
	TypePermissionDenied = "permission_denied"
	TypeSandboxLifecycle = "sandbox_lifecycle"
	TypeConnection       = "connection"
)

const subscriberBuffer = 64

// Bus is a small in-process publish/subscribe fan-out. Slow subscribers
// drop events rather than blocking publishers: the stream is advisory
// telemetry, not a durable queue.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel function must be
// called to release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Bus) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
