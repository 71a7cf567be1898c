package engine

import "time"

// Clock separates wall time (persisted timestamps) from monotonic readings
// (calculation timing) so tests can pin both.
type Clock interface {
	// Wall returns the wall-clock time used for createdAt fields.
	Wall() time.Time
	// Monotonic returns a reading suitable for measuring elapsed time.
	Monotonic() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Wall implements Clock.
func (SystemClock) Wall() time.Time { return time.Now() }

// Monotonic implements Clock. Go time.Time values carry a monotonic reading,
// so Sub on two of these measures elapsed time correctly.
func (SystemClock) Monotonic() time.Time { return time.Now() }
