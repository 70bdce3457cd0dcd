// Package clock provides an injectable wall-clock abstraction so windowing,
// cooldowns, and the liveness watchdog can be driven by tests without
// depending on real time.
package clock

import "time"

// Clock is the monotonic wall-clock abstraction used throughout the
// processing pipeline.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	Sleep(d time.Duration)
}

// Ticker mirrors time.Ticker's public surface.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (Real) Sleep(d time.Duration) { time.Sleep(d) }

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
