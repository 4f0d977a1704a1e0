// internal/timer/clock.go

package timer

import "time"

// Clock is the kernel's monotonic microsecond time source.
type Clock interface {
	NowMicros() uint64
}

// MonotonicClock reports microseconds elapsed since it was created.
type MonotonicClock struct {
	boot time.Time
}

// NewMonotonicClock starts counting from now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{boot: time.Now()}
}

// NowMicros uses the monotonic reading carried by time.Time, so wall clock
// adjustments never move it backwards.
func (c *MonotonicClock) NowMicros() uint64 {
	return uint64(time.Since(c.boot).Microseconds())
}
