// Package pacer caps a loop to a target tick rate.
package pacer

import "time"

// Pacer blocks Tick until at least one period has elapsed since the
// previous Tick returned (or since New, for the first call). It uses the
// monotonic clock and targets the next deadline from "now" on every call,
// so a long stall is never followed by a catch-up burst.
type Pacer struct {
	period   time.Duration
	deadline time.Time
}

// New creates a Pacer targeting tickRateHz ticks per second. A non-positive
// rate disables pacing: Tick returns immediately.
func New(tickRateHz int) *Pacer {
	p := &Pacer{}
	if tickRateHz > 0 {
		p.period = time.Second / time.Duration(tickRateHz)
	}
	p.deadline = time.Now().Add(p.period)
	return p
}

// Tick blocks until the next deadline, then schedules the one after it.
func (p *Pacer) Tick() {
	if p.period <= 0 {
		return
	}
	now := time.Now()
	if wait := p.deadline.Sub(now); wait > 0 {
		time.Sleep(wait)
		now = time.Now()
	}
	p.deadline = now.Add(p.period)
}
