package mqtt

import (
	"sync"
	"time"
)

// DailyTokens accumulates model token usage and resets at local midnight.
// It is safe for concurrent use.
type DailyTokens struct {
	mu       sync.Mutex
	input    int64
	output   int64
	calls    int64
	resetDay int
	loc      *time.Location
	now      func() time.Time
}

// NewDailyTokens creates an accumulator that rolls over at midnight in
// loc. A nil loc means time.Local.
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTokens{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Add records the tokens of one model call.
func (d *DailyTokens) Add(input, output int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.input += input
	d.output += output
	d.calls++
}

// Snapshot returns today's input tokens, output tokens and model calls.
func (d *DailyTokens) Snapshot() (input, output, calls int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.input, d.output, d.calls
}

// maybeReset must be called with d.mu held.
func (d *DailyTokens) maybeReset() {
	if today := d.now().In(d.loc).YearDay(); today != d.resetDay {
		d.input, d.output, d.calls = 0, 0, 0
		d.resetDay = today
	}
}
