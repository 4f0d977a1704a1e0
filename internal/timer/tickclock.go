// internal/timer/tickclock.go

package timer

import (
	"sync/atomic"
	"time"
)

// TickClock counts ticks atomically; every tick is worth a fixed number of
// microseconds. It can be driven by a ticker (Start) or by hand (Advance).
type TickClock struct {
	tickUS uint64
	count  atomic.Uint64
	stop   chan struct{}
}

// NewTickClock creates a stopped clock whose ticks are tickUS microseconds long.
func NewTickClock(tickUS uint64) *TickClock {
	if tickUS == 0 {
		tickUS = 1
	}
	return &TickClock{
		tickUS: tickUS,
		stop:   make(chan struct{}),
	}
}

// Start begins advancing one tick per interval until Stop.
func (c *TickClock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts a clock started with Start. It must be called at most once.
func (c *TickClock) Stop() {
	close(c.stop)
}

// Advance moves the clock forward by n ticks.
func (c *TickClock) Advance(n uint64) {
	c.count.Add(n)
}

// Count returns the current tick count atomically.
func (c *TickClock) Count() uint64 {
	return c.count.Load()
}

// NowMicros implements Clock.
func (c *TickClock) NowMicros() uint64 {
	return c.count.Load() * c.tickUS
}
