// Package timectrl drives the engine's simulation clock.
package timectrl

import (
	"context"
	"slices"
	"sync"
	"time"
)

// SimClock exposes elapsed simulation time so engine components can depend
// on a clock abstraction rather than the concrete controller.
type SimClock interface {
	// Now returns the simulation time elapsed since the last reset.
	Now() time.Duration
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick of simulation time per Tick of wall time.
	RealTime Mode = iota
	// Accelerated advances one Tick per AcceleratedInterval of wall time.
	Accelerated
)

// AcceleratedInterval is the wall-clock period between steps in Accelerated mode.
const AcceleratedInterval = time.Millisecond

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController advances simulation time while running and notifies
// registered listeners after every step.
type TimeController struct {
	Tick time.Duration
	Mode Mode

	mu        sync.RWMutex
	elapsed   time.Duration
	running   bool
	listeners []func(time.Duration)
}

var _ SimClock = (*TimeController)(nil)

// NewTimeController constructs a stopped controller at time zero.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	return &TimeController{Tick: tick, Mode: mode}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.elapsed
}

// SetTime overrides the current simulation time.
func (tc *TimeController) SetTime(d time.Duration) {
	tc.mu.Lock()
	tc.elapsed = d
	tc.mu.Unlock()
}

// Reset rewinds simulation time to zero without changing the run flag.
func (tc *TimeController) Reset() { tc.SetTime(0) }

// SetRunning gates whether Step advances time.
func (tc *TimeController) SetRunning(running bool) {
	tc.mu.Lock()
	tc.running = running
	tc.mu.Unlock()
}

// Running reports whether Step currently advances time.
func (tc *TimeController) Running() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.running
}

// AddListener registers a callback invoked with the new time after every
// step. Callbacks run on the stepping goroutine without the lock held.
func (tc *TimeController) AddListener(fn func(time.Duration)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Step advances time by Tick when running. It reports whether time moved.
func (tc *TimeController) Step() (time.Duration, bool) {
	tc.mu.Lock()
	if !tc.running {
		now := tc.elapsed
		tc.mu.Unlock()
		return now, false
	}
	tc.elapsed += tc.Tick
	now := tc.elapsed
	listeners := slices.Clone(tc.listeners)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now, true
}

// Interval returns the wall-clock period between steps.
func (tc *TimeController) Interval() time.Duration {
	if tc.Mode == Accelerated {
		return AcceleratedInterval
	}
	return tc.Tick
}

// Run steps the controller every Interval until ctx is done.
func (tc *TimeController) Run(ctx context.Context) error {
	ticker := time.NewTicker(tc.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tc.Step()
		}
	}
}
