package speech

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/audio"
	"github.com/elfolz/robot/internal/bus"
	"github.com/elfolz/robot/internal/loop"
	"github.com/rs/zerolog"
)

// Config tunes the director.
type Config struct {
	LocalOnly     bool
	Language      string
	FallbackLang  string
	Candidates    []string
	Tuning        map[string]Tuning
	RetryInterval time.Duration
	Timeout       time.Duration
	TalkPool      []string
}

// DefaultConfig matches the shipped robot.
func DefaultConfig() Config {
	return Config{
		Language:      "pt",
		FallbackLang:  "pt-BR",
		Candidates:    []string{"antonio", "daniel", "reed", "brasil"},
		Tuning:        map[string]Tuning{"daniel": {Pitch: 1.5, Rate: 1.5}},
		RetryInterval: 100 * time.Millisecond,
		Timeout:       30 * time.Second,
		TalkPool:      []string{"agreeing", "talking", "acknowledging", "dismissing", "headGesture", "pouting"},
	}
}

// Option configures a Director.
type Option func(*Director)

// WithSynthesizer enables the remote natural-voice path.
func WithSynthesizer(s Synthesizer) Option {
	return func(d *Director) { d.synth = s }
}

// WithRand seeds talk animation picks.
func WithRand(rng *rand.Rand) Option {
	return func(d *Director) { d.rng = rng }
}

// WithEventBus publishes state changes.
func WithEventBus(eb *bus.EventBus) Option {
	return func(d *Director) { d.eventBus = eb }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Director) { d.logger = logger.With().Str("component", "speech").Logger() }
}

// Director speaks one utterance at a time and keeps animation and audio in
// step with it. It is owned by the event loop.
type Director struct {
	cfg      Config
	engine   Engine
	synth    Synthesizer
	audio    Audio
	anim     Animator
	sched    loop.Scheduler
	rng      *rand.Rand
	eventBus *bus.EventBus
	logger   zerolog.Logger

	state     State
	epoch     uint64
	profile   *VoiceProfile
	utterance uint64
	lastID    uint64
	cancelReq context.CancelFunc
}

// NewDirector wires the director to its collaborators. Engine events are
// posted onto sched.
func NewDirector(cfg Config, engine Engine, a Audio, anim Animator, sched loop.Scheduler, opts ...Option) *Director {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := &Director{
		cfg:    cfg,
		engine: engine,
		audio:  a,
		anim:   anim,
		sched:  sched,
		state:  StateIdle,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if engine != nil {
		engine.SetEventHandler(func(ev Event) {
			sched.Post(func() { d.HandleEvent(ev) })
		})
	}
	return d
}

// State returns the current state.
func (d *Director) State() State { return d.state }

// Profile returns the cached voice profile, if one was selected.
func (d *Director) Profile() (VoiceProfile, bool) {
	if d.profile == nil {
		return VoiceProfile{}, false
	}
	return *d.profile, true
}

// Speak says text. Empty text is ignored. A newer call supersedes any
// request still outstanding.
func (d *Director) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	d.abortRequest()
	d.epoch++
	d.speak(text, d.epoch)
}

func (d *Director) speak(text string, epoch uint64) {
	if epoch != d.epoch {
		return
	}
	if d.cfg.LocalOnly || d.synth == nil {
		d.speakLocal(text, epoch)
		return
	}
	d.speakRemote(text, epoch)
}

func (d *Director) speakRemote(text string, epoch uint64) {
	d.setState(StateRequesting)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	d.cancelReq = cancel
	synth := d.synth

	go func() {
		defer cancel()
		data, err := synth.Synthesize(ctx, text)
		var buf *audio.Buffer
		if err == nil {
			buf, err = audio.Decode(data)
		}
		d.sched.Post(func() { d.finishRemote(epoch, text, buf, err) })
	}()
}

func (d *Director) finishRemote(epoch uint64, text string, buf *audio.Buffer, err error) {
	if epoch != d.epoch {
		d.logger.Debug().Msg("Discarding stale synthesis result")
		return
	}
	d.cancelReq = nil
	if err != nil {
		d.logger.Warn().Err(err).Msg("Remote synthesis failed, using local voice")
		d.speakLocal(text, epoch)
		return
	}

	if err := d.audio.PlaySpeech(buf, func() { d.finishPlayback(epoch) }); err != nil {
		d.logger.Warn().Err(err).Msg("Speech playback failed, using local voice")
		d.speakLocal(text, epoch)
		return
	}
	d.onStart()
	d.setState(StateSpeaking)
}

func (d *Director) finishPlayback(epoch uint64) {
	if epoch != d.epoch {
		return
	}
	d.toIdle()
	d.setState(StateIdle)
}

func (d *Director) speakLocal(text string, epoch uint64) {
	if epoch != d.epoch {
		return
	}
	if d.engine == nil {
		d.logger.Error().Err(ErrEngineUnavailable).Msg("No local voice")
		d.setState(StateIdle)
		return
	}

	if d.profile == nil {
		v, ok := SelectVoice(d.engine.Voices(), d.cfg.Candidates, d.cfg.Language)
		if !ok {
			d.logger.Debug().Dur("retry", d.cfg.RetryInterval).Msg("No matching voice yet")
			d.sched.After(d.cfg.RetryInterval, func() { d.speak(text, epoch) })
			return
		}
		p := NewProfile(v, d.cfg.Tuning)
		d.profile = &p
		d.logger.Info().Str("voice", p.Name).Str("lang", p.Lang).Msg("Voice selected")
		d.publish(bus.EventTypeVoiceChosen, map[string]any{"voice": p.Name, "lang": p.Lang})
	}

	d.engine.Cancel()

	d.lastID++
	d.utterance = d.lastID
	u := Utterance{
		ID:    d.utterance,
		Text:  text,
		Voice: d.profile.Name,
		Lang:  d.profile.Lang,
		Pitch: d.profile.Pitch,
		Rate:  d.profile.Rate,
	}
	if u.Lang == "" {
		u.Lang = d.cfg.FallbackLang
	}

	d.setState(StateSpeaking)
	if err := d.engine.Speak(u); err != nil {
		d.logger.Error().Err(err).Msg("Local synthesis failed")
		d.HandleEvent(Event{Kind: EventError, Utterance: u.ID, Error: err.Error()})
	}
}

// HandleEvent reacts to a local engine lifecycle event. Events of
// superseded utterances are ignored.
func (d *Director) HandleEvent(ev Event) {
	if ev.Utterance != 0 && ev.Utterance != d.utterance {
		return
	}
	if d.utterance == 0 {
		return
	}
	d.logger.Debug().Str("event", string(ev.Kind)).Uint64("utterance", d.utterance).Msg("Speech event")

	switch ev.Kind {
	case EventStart, EventResume:
		d.onStart()
		d.setState(StateSpeaking)
	case EventBoundary:
		d.animateTalk()
	case EventPause:
		d.toIdle()
	case EventEnd:
		d.toIdle()
		d.utterance = 0
		d.setState(StateIdle)
	case EventError:
		d.logger.Warn().Str("error", ev.Error).Msg("Speech synthesis error")
		d.engine.Cancel()
		d.toIdle()
		d.utterance = 0
		d.setState(StateIdle)
	}
}

// Cancel stops local synthesis and drops any outstanding remote result or
// voice retry.
func (d *Director) Cancel() {
	d.abortRequest()
	d.epoch++
	if d.engine != nil {
		d.engine.Cancel()
	}
	d.utterance = 0
	if d.state != StateIdle {
		d.toIdle()
		d.setState(StateIdle)
	}
}

func (d *Director) abortRequest() {
	if d.cancelReq != nil {
		d.cancelReq()
		d.cancelReq = nil
	}
}

func (d *Director) onStart() {
	d.audio.StartAmbient()
	d.animateTalk()
}

func (d *Director) toIdle() {
	d.anim.CrossFadeTo(d.anim.Idle(), animation.LoopRepeat)
	d.audio.StopAmbient()
}

func (d *Director) animateTalk() {
	name := animation.PickRandom(d.rng, d.cfg.TalkPool)
	if name == "" {
		return
	}
	if d.anim.IsIdle() {
		d.anim.CrossFadeTo(name, animation.LoopOnce)
	} else {
		d.anim.CrossFadeOnLoopBoundary(name, animation.LoopOnce)
	}
}

func (d *Director) setState(s State) {
	if d.state == s {
		return
	}
	old := d.state
	d.state = s
	d.logger.Debug().Str("old", string(old)).Str("new", string(s)).Msg("Speech state changed")
	d.publish(bus.EventTypeSpeechState, map[string]any{"old_state": string(old), "new_state": string(s)})
}

func (d *Director) publish(t bus.EventType, data map[string]any) {
	d.eventBus.Publish(bus.Event{Type: t, Data: data})
}
