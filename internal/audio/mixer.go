package audio

import (
	"fmt"

	"github.com/elfolz/robot/internal/bus"
	"github.com/elfolz/robot/internal/loop"
	"github.com/rs/zerolog"
)

// Bus is a gain stage holding at most one connected source.
type Bus struct {
	kind   BusKind
	gain   float64
	source Source
	handle uint64
}

// Gain returns the bus gain.
func (b *Bus) Gain() float64 { return b.gain }

// Connected reports whether a source is connected.
func (b *Bus) Connected() bool { return b.source != nil }

// Option configures a Mixer.
type Option func(*Mixer)

// WithGains sets the initial bus gains.
func WithGains(speech, ambient float64) Option {
	return func(m *Mixer) {
		m.speech.gain = speech
		m.ambient.gain = ambient
	}
}

// WithEventBus publishes playback events.
func WithEventBus(eb *bus.EventBus) Option {
	return func(m *Mixer) { m.eventBus = eb }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Mixer) { m.logger = logger.With().Str("component", "audio").Logger() }
}

// Mixer owns the speech and ambient buses. It is owned by the event loop;
// source end notifications are posted back onto it.
type Mixer struct {
	sink       Sink
	sched      loop.Scheduler
	speech     *Bus
	ambient    *Bus
	ambientBuf *Buffer
	nextHandle uint64
	eventBus   *bus.EventBus
	logger     zerolog.Logger
}

// NewMixer creates a mixer playing through sink.
func NewMixer(sink Sink, sched loop.Scheduler, opts ...Option) *Mixer {
	m := &Mixer{
		sink:    sink,
		sched:   sched,
		speech:  &Bus{kind: BusSpeech, gain: DefaultSpeechGain},
		ambient: &Bus{kind: BusAmbient, gain: DefaultAmbientGain},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bus returns the bus of the given kind.
func (m *Mixer) Bus(kind BusKind) *Bus {
	if kind == BusAmbient {
		return m.ambient
	}
	return m.speech
}

// Connected reports whether kind has a connected source.
func (m *Mixer) Connected(kind BusKind) bool {
	return m.Bus(kind).Connected()
}

// SetAmbientBuffer stores the preloaded ambient track used by StartAmbient.
func (m *Mixer) SetAmbientBuffer(buf *Buffer) {
	m.ambientBuf = buf
}

// HasAmbient reports whether an ambient track is loaded.
func (m *Mixer) HasAmbient() bool { return m.ambientBuf != nil }

// StartAmbient loops the preloaded ambient track. Without one it does nothing.
func (m *Mixer) StartAmbient() {
	if m.ambientBuf == nil {
		return
	}
	if err := m.StartAmbientLoop(m.ambientBuf); err != nil {
		m.logger.Warn().Err(err).Msg("Ambient playback failed")
	}
}

// StartAmbientLoop replaces the ambient source with a looping one.
func (m *Mixer) StartAmbientLoop(buf *Buffer) error {
	b := m.ambient
	err := m.connect(b, buf, true, func() {
		m.clear(b)
		m.publish(bus.EventTypeAmbientStopped, nil)
	})
	if err != nil {
		return err
	}
	m.logger.Debug().Dur("duration", buf.Duration()).Msg("Ambient loop started")
	m.publish(bus.EventTypeAmbientStarted, nil)
	return nil
}

// PlaySpeech replaces the speech source with a one-shot one. When it ends
// both buses are disconnected and onEnded runs.
func (m *Mixer) PlaySpeech(buf *Buffer, onEnded func()) error {
	b := m.speech
	err := m.connect(b, buf, false, func() {
		m.logger.Debug().Msg("Speech playback ended")
		m.disconnect(m.speech)
		m.StopAmbient()
		m.publish(bus.EventTypeSpeechEnded, nil)
		if onEnded != nil {
			onEnded()
		}
	})
	if err != nil {
		return err
	}
	m.logger.Debug().Dur("duration", buf.Duration()).Msg("Speech playback started")
	m.publish(bus.EventTypeSpeechStarted, map[string]any{"duration": buf.Duration()})
	return nil
}

// StopAmbient disconnects the ambient source.
func (m *Mixer) StopAmbient() {
	if m.disconnect(m.ambient) {
		m.publish(bus.EventTypeAmbientStopped, nil)
	}
}

// StopAll disconnects both buses.
func (m *Mixer) StopAll() {
	if m.disconnect(m.speech) {
		m.logger.Debug().Msg("Speech playback stopped")
	}
	m.StopAmbient()
}

// SetGains changes both bus gains, including connected sources.
func (m *Mixer) SetGains(speech, ambient float64) {
	for _, g := range []struct {
		b    *Bus
		gain float64
	}{{m.speech, speech}, {m.ambient, ambient}} {
		g.b.gain = g.gain
		if g.b.source != nil {
			g.b.source.SetGain(g.gain)
		}
	}
	m.logger.Info().Float64("speech", speech).Float64("ambient", ambient).Msg("Gains updated")
}

func (m *Mixer) connect(b *Bus, buf *Buffer, looping bool, onEnd func()) error {
	if buf == nil || len(buf.Data) == 0 {
		return ErrEmptyBuffer
	}
	m.disconnect(b)

	m.nextHandle++
	handle := m.nextHandle
	src, err := m.sink.Start(buf, PlayOptions{Bus: b.kind, Loop: looping, Gain: b.gain}, func() {
		m.sched.Post(func() {
			if b.handle != handle || b.source == nil {
				return
			}
			onEnd()
		})
	})
	if err != nil {
		return fmt.Errorf("start %s source: %w", b.kind, err)
	}
	b.source = src
	b.handle = handle
	return nil
}

func (m *Mixer) disconnect(b *Bus) bool {
	if b.source == nil {
		return false
	}
	b.source.Disconnect()
	m.clear(b)
	return true
}

func (m *Mixer) clear(b *Bus) {
	b.source = nil
	b.handle = 0
}

func (m *Mixer) publish(t bus.EventType, data map[string]any) {
	m.eventBus.Publish(bus.Event{Type: t, Data: data})
}
