// Package progress aggregates fractional load progress of many assets into
// one percentage and signals readiness once.
package progress

import (
	"math"
	"time"

	"github.com/elfolz/robot/internal/loop"
	"github.com/rs/zerolog"
)

// Display receives the rounded percentage after every report.
type Display interface {
	SetProgress(percent int)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(percent int)

// SetProgress implements Display.
func (f DisplayFunc) SetProgress(percent int) { f(percent) }

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDisplay sets the progress display.
func WithDisplay(d Display) Option {
	return func(a *Aggregator) { a.display = d }
}

// WithReadyDelay sets how long after reaching 100 the ready callback runs.
func WithReadyDelay(d time.Duration) Option {
	return func(a *Aggregator) { a.readyDelay = d }
}

// WithOnReady sets the callback run once all assets completed.
func WithOnReady(fn func()) Option {
	return func(a *Aggregator) { a.onReady = fn }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger.With().Str("component", "progress").Logger() }
}

// Aggregator tracks one fraction per asset key over a fixed denominator.
// It is owned by the event loop.
type Aggregator struct {
	expected   int
	fractions  map[string]float64
	sum        float64
	total      float64
	fired      bool
	readyDelay time.Duration
	onReady    func()
	display    Display
	sched      loop.Scheduler
	logger     zerolog.Logger
}

// New creates an aggregator expecting the given number of assets.
func New(expected int, sched loop.Scheduler, opts ...Option) *Aggregator {
	if expected < 1 {
		expected = 1
	}
	a := &Aggregator{
		expected:   expected,
		fractions:  make(map[string]float64, expected),
		readyDelay: time.Second,
		sched:      sched,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FromBytes converts byte progress to a fraction. An unknown total counts as 1.
func FromBytes(loaded, total int64) float64 {
	if total <= 0 {
		total = 1
	}
	return float64(loaded) / float64(total)
}

// Report records the fraction for key and returns the displayed percentage.
// A key never moves backwards, so the total is monotonic. The total is the
// mean over all expected keys of the highest fraction reported per key.
func (a *Aggregator) Report(key string, fraction float64) int {
	fraction = clamp01(fraction)
	if prev, ok := a.fractions[key]; !ok || fraction > prev {
		a.sum += fraction - prev
		a.fractions[key] = fraction
	}

	a.total = math.Max(a.total, 100*a.sum/float64(a.expected))
	percent := a.Percent()
	if a.display != nil {
		a.display.SetProgress(percent)
	}

	if a.total >= 100-1e-9 && !a.fired {
		a.fired = true
		a.logger.Info().Int("assets", a.expected).Msg("All assets loaded")
		if a.onReady != nil {
			a.sched.After(a.readyDelay, a.onReady)
		}
	}
	return percent
}

// Total returns the unrounded percentage.
func (a *Aggregator) Total() float64 {
	return a.total
}

// Percent returns the total truncated to an integer in [0, 100].
func (a *Aggregator) Percent() int {
	p := int(a.total)
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// Fired reports whether the ready transition has been scheduled.
func (a *Aggregator) Fired() bool {
	return a.fired
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
