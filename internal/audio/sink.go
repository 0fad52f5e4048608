package audio

import (
	"sync"
	"time"
)

// NopSink plays nothing but ends one-shot sources after their duration, so
// the speech lifecycle still completes without an audio device.
type NopSink struct{}

// Start implements Sink.
func (NopSink) Start(buf *Buffer, opts PlayOptions, onEnded func()) (Source, error) {
	src := &nopSource{}
	if !opts.Loop {
		src.timer = time.AfterFunc(buf.Duration(), func() {
			if src.stop() && onEnded != nil {
				onEnded()
			}
		})
	}
	return src, nil
}

type nopSource struct {
	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
}

func (s *nopSource) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	return true
}

func (s *nopSource) Disconnect() {
	if s.stop() && s.timer != nil {
		s.timer.Stop()
	}
}

func (s *nopSource) SetGain(float64) {}

// MemorySink records sources without playing them. Finish ends the most
// recent source of a bus as if playback completed.
type MemorySink struct {
	mu      sync.Mutex
	sources []*MemorySource
}

// MemorySource is a source recorded by MemorySink.
type MemorySource struct {
	Buffer  *Buffer
	Options PlayOptions

	mu           sync.Mutex
	disconnected bool
	gain         float64
	onEnded      func()
}

// Start implements Sink.
func (s *MemorySink) Start(buf *Buffer, opts PlayOptions, onEnded func()) (Source, error) {
	src := &MemorySource{Buffer: buf, Options: opts, gain: opts.Gain, onEnded: onEnded}
	s.mu.Lock()
	s.sources = append(s.sources, src)
	s.mu.Unlock()
	return src, nil
}

// Sources returns every source started so far.
func (s *MemorySink) Sources() []*MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MemorySource(nil), s.sources...)
}

// Active returns the sources of kind that are still connected.
func (s *MemorySink) Active(kind BusKind) []*MemorySource {
	var out []*MemorySource
	for _, src := range s.Sources() {
		if src.Options.Bus == kind && !src.Disconnected() {
			out = append(out, src)
		}
	}
	return out
}

// Finish ends the latest connected source of kind and reports whether one
// existed.
func (s *MemorySink) Finish(kind BusKind) bool {
	active := s.Active(kind)
	if len(active) == 0 {
		return false
	}
	active[len(active)-1].End()
	return true
}

// End simulates natural completion.
func (s *MemorySource) End() {
	s.mu.Lock()
	fn := s.onEnded
	s.onEnded = nil
	s.disconnected = true
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Disconnect implements Source.
func (s *MemorySource) Disconnect() {
	s.mu.Lock()
	s.disconnected = true
	s.onEnded = nil
	s.mu.Unlock()
}

// Disconnected reports whether the source stopped.
func (s *MemorySource) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// SetGain implements Source.
func (s *MemorySource) SetGain(gain float64) {
	s.mu.Lock()
	s.gain = gain
	s.mu.Unlock()
}

// Gain returns the last gain applied.
func (s *MemorySource) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}
