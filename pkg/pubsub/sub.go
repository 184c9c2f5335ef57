package pubsub

import (
	"context"

	"github.com/nspcc-dev/nexa-sim/pkg/event"
)

// Subscription is a read cursor over the Bus events. It must not be used
// concurrently by several goroutines.
type Subscription struct {
	bus    *Bus
	cursor uint64
	done   bool
}

// Next returns the next event waiting for it if needed. If the subscription
// lagged behind and some events were overwritten in the meantime, their
// number is returned as missed along with the oldest retained event. It
// returns ctx error if ctx is done before any event is available and
// ErrClosed if the Bus is closed.
func (s *Subscription) Next(ctx context.Context) (e event.Event, missed uint64, err error) {
	b := s.bus
	for {
		b.lock.RLock()
		if b.closed || s.done {
			b.lock.RUnlock()
			return nil, 0, ErrClosed
		}
		if s.cursor < b.next {
			capacity := uint64(len(b.ring))
			if b.next-s.cursor > capacity {
				oldest := b.next - capacity
				missed = oldest - s.cursor
				s.cursor = oldest
			}
			e = b.ring[s.cursor%capacity]
			s.cursor++
			b.lock.RUnlock()
			if missed != 0 {
				eventsMissed.Add(float64(missed))
			}
			return e, missed, nil
		}
		wake := b.wake
		b.lock.RUnlock()

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-wake:
		}
	}
}

// Close unregisters the subscription. It's safe to call it several times.
func (s *Subscription) Close() {
	if s.done {
		return
	}
	s.done = true
	s.bus.unsubscribe()
}
