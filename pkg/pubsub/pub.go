/*
Package pubsub implements a single-producer multi-consumer broadcast of domain
events. Published events are stored in a bounded ring shared by all
subscribers, each subscriber has its own read cursor. Publishing never waits
for subscribers: a subscriber lagging more than the ring capacity behind loses
the oldest events and is told how many of them it missed.
*/
package pubsub

import (
	"errors"
	"sync"

	"github.com/nspcc-dev/nexa-sim/pkg/event"
	"go.uber.org/zap"
)

// DefaultCapacity is the default number of events retained for subscribers.
const DefaultCapacity = 100

// ErrClosed is returned from Subscription.Next after the Bus is closed.
var ErrClosed = errors.New("event bus is closed")

// Bus is an event broadcaster. Publish is expected to be called by a single
// producer, any number of subscriptions can be read concurrently.
type Bus struct {
	log *zap.Logger

	lock sync.RWMutex
	ring []event.Event
	// next is the sequence number of the next published event.
	next uint64
	// wake is closed (and replaced) on every publish.
	wake   chan struct{}
	subs   int
	closed bool
}

// New creates a Bus retaining up to capacity events for subscribers.
// Non-positive capacity means DefaultCapacity.
func New(capacity int, log *zap.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		log:  log,
		ring: make([]event.Event, capacity),
		wake: make(chan struct{}),
	}
}

// Capacity returns the number of events retained for subscribers.
func (b *Bus) Capacity() int {
	return len(b.ring)
}

// Publish sends the event to all current subscribers. It never blocks on
// subscribers. Events published with no subscribers are dropped, nil events
// are ignored.
func (b *Bus) Publish(e event.Event) {
	if e == nil {
		b.log.Warn("nil event published, ignoring")
		return
	}
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		b.log.Debug("event published to closed bus", zap.Stringer("event", e.ID()))
		return
	}
	subs := b.subs
	if subs == 0 {
		b.lock.Unlock()
		eventsDropped.Inc()
		b.log.Debug("no subscribers, event dropped", zap.Stringer("event", e.ID()), zap.Any("payload", e))
		return
	}
	b.ring[b.next%uint64(len(b.ring))] = e
	b.next++
	close(b.wake)
	b.wake = make(chan struct{})
	b.lock.Unlock()

	eventsPublished.Inc()
	b.log.Debug("broadcasting event", zap.Stringer("event", e.ID()), zap.Int("subscribers", subs))
}

// Subscribe registers a new subscription receiving all events published
// after this call. It must be closed after use.
func (b *Bus) Subscribe() *Subscription {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.subs++
	subscribersGauge.Set(float64(b.subs))
	return &Subscription{bus: b, cursor: b.next}
}

// ActiveSubscribers returns the number of open subscriptions.
func (b *Bus) ActiveSubscribers() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.subs
}

// Close wakes all subscribers up making them return ErrClosed. Subsequent
// publications are ignored.
func (b *Bus) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.wake)
}

func (b *Bus) unsubscribe() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.subs--
	subscribersGauge.Set(float64(b.subs))
}
