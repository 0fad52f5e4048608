// Package loop runs every state mutation of the robot on a single goroutine.
//
// Components never lock their own state. Network, decoder, sink and engine
// callbacks finish on their own goroutines and re-enter through Post.
package loop

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned by Run once the loop has been stopped.
var ErrStopped = errors.New("loop stopped")

// Scheduler queues work onto the owning goroutine.
type Scheduler interface {
	// Post enqueues fn. Safe from any goroutine.
	Post(fn func())
	// After enqueues fn once d has elapsed.
	After(d time.Duration, fn func())
}

// Loop is a FIFO event queue drained by Run.
type Loop struct {
	queue  chan func()
	done   chan struct{}
	logger zerolog.Logger
}

// New creates a loop with the given queue capacity.
func New(capacity int, logger zerolog.Logger) *Loop {
	if capacity <= 0 {
		capacity = 256
	}
	return &Loop{
		queue:  make(chan func(), capacity),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "loop").Logger(),
	}
}

// Post enqueues fn. It blocks when the queue is full and drops fn after the
// loop has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

// After enqueues fn once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Run drains the queue until ctx is cancelled. A panicking callback is
// logged and the loop keeps going.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	l.logger.Debug().Msg("Event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("Event loop stopped")
			return ctx.Err()
		case fn := <-l.queue:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Callback panicked")
		}
	}()
	fn()
}

// Ticker posts fn every interval until ctx is cancelled. A tick is skipped
// while the previous one is still queued.
func (l *Loop) Ticker(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	t := time.NewTicker(interval)
	pending := make(chan struct{}, 1)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case now := <-t.C:
				select {
				case pending <- struct{}{}:
				default:
					continue
				}
				l.Post(func() {
					<-pending
					fn(now)
				})
			}
		}
	}()
}
