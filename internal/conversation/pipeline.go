// Package conversation turns user text into one remote chat request at a
// time and hands the reply to the speech director.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/bus"
	"github.com/elfolz/robot/internal/loop"
	"github.com/rs/zerolog"
)

// InputState is applied to the text input of the presentation layer.
type InputState struct {
	Enabled bool `json:"enabled"`
	Clear   bool `json:"clear,omitempty"`
	Focus   bool `json:"focus,omitempty"`
}

// Input controls the text input.
type Input interface {
	SetInputState(s InputState)
}

// Speaker says replies.
type Speaker interface {
	Speak(text string)
	Cancel()
}

// Animator plays the thinking clip and returns to idle.
type Animator interface {
	CrossFadeTo(name string, mode animation.LoopMode)
	Idle() string
}

// Audio starts the ambient loop and silences everything on failure.
type Audio interface {
	StartAmbient()
	StopAll()
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithThinkingClip sets the clip played while waiting (default: thoughtful).
func WithThinkingClip(name string) Option {
	return func(p *Pipeline) { p.thinking = name }
}

// WithTimeout bounds each chat request.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithHistory records every answered exchange.
func WithHistory(h *History) Option {
	return func(p *Pipeline) { p.history = h }
}

// WithEventBus publishes request events.
func WithEventBus(eb *bus.EventBus) Option {
	return func(p *Pipeline) { p.eventBus = eb }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger.With().Str("component", "conversation").Logger() }
}

// Pipeline allows at most one chat request in flight. It is owned by the
// event loop.
type Pipeline struct {
	chat     ChatClient
	speaker  Speaker
	anim     Animator
	audio    Audio
	input    Input
	sched    loop.Scheduler
	thinking string
	timeout  time.Duration
	history  *History
	eventBus *bus.EventBus
	logger   zerolog.Logger

	inFlight bool
	epoch    uint64
}

// NewPipeline wires the pipeline.
func NewPipeline(chat ChatClient, speaker Speaker, anim Animator, a Audio, input Input, sched loop.Scheduler, opts ...Option) *Pipeline {
	p := &Pipeline{
		chat:     chat,
		speaker:  speaker,
		anim:     anim,
		audio:    a,
		input:    input,
		sched:    sched,
		thinking: "thoughtful",
		timeout:  60 * time.Second,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InFlight reports whether a request is outstanding.
func (p *Pipeline) InFlight() bool { return p.inFlight }

// Submit sends text unless it is blank or a request is already in flight.
// It reports whether a request was started.
func (p *Pipeline) Submit(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || p.inFlight {
		return false
	}
	p.inFlight = true
	p.epoch++
	epoch := p.epoch

	p.input.SetInputState(InputState{Enabled: false})
	p.anim.CrossFadeTo(p.thinking, animation.LoopOnce)
	p.audio.StartAmbient()

	p.logger.Info().Int("textLen", len(text)).Msg("Chat request started")
	p.publish(bus.EventTypeRequestStarted, map[string]any{"text": text})

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	chat := p.chat
	go func() {
		defer cancel()
		reply, err := chat.Complete(ctx, text)
		p.sched.Post(func() { p.finish(epoch, text, reply, err) })
	}()
	return true
}

func (p *Pipeline) finish(epoch uint64, text, reply string, err error) {
	if epoch != p.epoch {
		p.logger.Debug().Err(err).Msg("Discarding reply for a reset conversation")
		p.publish(bus.EventTypeRequestFinished, map[string]any{"ok": err == nil, "discarded": true})
		return
	}
	p.inFlight = false

	if err != nil {
		p.logger.Warn().Err(err).Msg("Chat request failed")
		p.speaker.Cancel()
		p.audio.StopAll()
		p.anim.CrossFadeTo(p.anim.Idle(), animation.LoopRepeat)
	} else {
		if p.history != nil {
			p.history.AddExchange(text, reply)
		}
		p.publish(bus.EventTypeReply, map[string]any{"text": reply})
		p.speaker.Speak(reply)
	}

	p.input.SetInputState(InputState{Enabled: true, Clear: true, Focus: true})
	p.publish(bus.EventTypeRequestFinished, map[string]any{"ok": err == nil})
}

// ResetInput clears and enables the input and drops any request in flight.
// Its reply is discarded when it arrives, so a new request may start at once.
func (p *Pipeline) ResetInput() {
	if p.inFlight {
		p.epoch++
		p.inFlight = false
	}
	p.input.SetInputState(InputState{Enabled: true, Clear: true})
}

func (p *Pipeline) publish(t bus.EventType, data map[string]any) {
	p.eventBus.Publish(bus.Event{Type: t, Data: data})
}
