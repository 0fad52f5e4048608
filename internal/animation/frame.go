package animation

import (
	"math"
	"time"
)

// FrameLimiter turns irregular ticks into fixed-rate frames. Time spent
// hidden is discarded so animation pauses instead of jumping.
type FrameLimiter struct {
	interval float64
	acc      float64
	last     time.Time
	hidden   bool
}

// NewFrameLimiter creates a limiter for fps frames per second. fps <= 0
// disables limiting.
func NewFrameLimiter(fps int) *FrameLimiter {
	f := &FrameLimiter{}
	if fps > 0 {
		f.interval = 1 / float64(fps)
	}
	return f
}

// Interval returns the frame interval.
func (f *FrameLimiter) Interval() time.Duration {
	return time.Duration(f.interval * float64(time.Second))
}

// SetHidden suppresses frames while hidden.
func (f *FrameLimiter) SetHidden(hidden bool) {
	f.hidden = hidden
	f.last = time.Time{}
}

// Hidden reports whether frames are suppressed.
func (f *FrameLimiter) Hidden() bool { return f.hidden }

// Tick records wall-clock time now and reports whether a frame is due and
// how many seconds it should advance.
func (f *FrameLimiter) Tick(now time.Time) (dt float64, ok bool) {
	if f.hidden {
		return 0, false
	}
	if f.last.IsZero() {
		f.last = now
		return 0, false
	}
	delta := now.Sub(f.last).Seconds()
	f.last = now
	if delta <= 0 {
		return 0, false
	}
	f.acc += delta
	if f.acc < f.interval {
		return 0, false
	}
	if f.interval == 0 {
		dt, f.acc = f.acc, 0
		return dt, true
	}
	rest := math.Mod(f.acc, f.interval)
	dt = f.acc - rest
	f.acc = rest
	return dt, true
}
