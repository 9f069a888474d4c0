// Package clock exposes the monotonic time source a Replica uses for
// its election timer, as a thin interface over
// github.com/benbjohnson/clock so tests can drive elections with a
// mock clock instead of real sleeps.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the subset of benbjohnson/clock.Clock a Replica needs.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by the system clock.
func Real() Clock {
	return clock.New()
}

// Mock is a controllable Clock for tests; it wraps
// clock.Mock so tests can call Add/Set directly.
type Mock = clock.Mock

// NewMock returns a Mock clock started at the Unix epoch.
func NewMock() *Mock {
	return clock.NewMock()
}
