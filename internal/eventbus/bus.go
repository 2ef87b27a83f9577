// Package eventbus fans pipeline state events out to subscribers without
// blocking the run that produced them.
//
// A subscriber whose channel is full misses the event. Runs never wait on
// a slow consumer such as an MQTT broker or a streaming HTTP client; the
// latest run state is always available from the run registry.
//
//	bus := eventbus.New()
//	defer bus.Close()
//
//	ch := make(chan pipeline.Event, 16)
//	bus.Subscribe("mqtt", ch)
//	orch.Observe(bus.Publish)
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/pipeline"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("eventbus: subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with unknown id.
	ErrSubscriberNotFound = errors.New("eventbus: subscriber id not found")

	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("eventbus: bus is closed")
)

// Stats contains global and per-subscriber counters.
type Stats struct {
	Published   uint64                     `json:"published"`
	Sent        uint64                     `json:"sent"`
	Dropped     uint64                     `json:"dropped"`
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type subscriber struct {
	ch      chan<- pipeline.Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes events to subscribers with a drop policy.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	published atomic.Uint64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id.
func (b *Bus) Subscribe(id string, ch chan<- pipeline.Event) error {
	if ch == nil {
		return errors.New("eventbus: subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = &subscriber{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber. Its channel is left open.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Publish sends ev to every subscriber that has room for it. Publishing on a
// closed bus is a no-op so runs finishing during shutdown do not fail.
func (b *Bus) Publish(ev pipeline.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Stats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		s := SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}
		out.Sent += s.Sent
		out.Dropped += s.Dropped
		out.Subscribers[id] = s
	}
	return out
}

// Close stops delivery. It does not close subscriber channels and is
// idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
