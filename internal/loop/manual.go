package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by hand. Tests post from any goroutine and
// call Drain or Advance on the test goroutine.
type Manual struct {
	mu     sync.Mutex
	queue  []func()
	timers []timer
	now    time.Duration
	seq    int
}

type timer struct {
	at  time.Duration
	seq int
	fn  func()
}

// NewManual creates an empty manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) {
	m.mu.Lock()
	m.seq++
	m.timers = append(m.timers, timer{at: m.now + d, seq: m.seq, fn: fn})
	m.mu.Unlock()
}

// Drain runs queued callbacks, including ones they post, and reports how
// many ran.
func (m *Manual) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Advance moves the clock forward by d, firing due timers in order and
// draining after each.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	m.Drain()
	for {
		m.mu.Lock()
		sort.Slice(m.timers, func(i, j int) bool {
			if m.timers[i].at == m.timers[j].at {
				return m.timers[i].seq < m.timers[j].seq
			}
			return m.timers[i].at < m.timers[j].at
		})
		if len(m.timers) == 0 || m.timers[0].at > target {
			m.now = target
			m.mu.Unlock()
			return
		}
		t := m.timers[0]
		m.timers = m.timers[1:]
		m.now = t.at
		m.mu.Unlock()

		t.fn()
		m.Drain()
	}
}

// PendingTimers reports how many timers have not fired yet.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Now is the manual clock's elapsed time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// DrainUntil keeps draining until cond holds or timeout elapses. It is for
// work posted by other goroutines, such as network callbacks.
func (m *Manual) DrainUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		m.Drain()
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
