package block

import (
	"fmt"
	"time"
)

// Clock provides block timestamps in Unix seconds.
type Clock interface {
	Now() (uint64, error)
}

// SystemClock is the Clock backed by the system time.
type SystemClock struct{}

// Now implements the Clock interface. Times before the Unix epoch are
// reported as ErrClock.
func (SystemClock) Now() (uint64, error) {
	now := time.Now()
	if now.Unix() < 0 {
		return 0, fmt.Errorf("%w: %s is before the Unix epoch", ErrClock, now)
	}
	return uint64(now.Unix()), nil
}

// ClockFunc is an adapter to use ordinary functions as Clock.
type ClockFunc func() (uint64, error)

// Now implements the Clock interface.
func (f ClockFunc) Now() (uint64, error) {
	return f()
}
