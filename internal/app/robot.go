// Package app assembles the robot from its components and owns the page
// lifecycle: loading, readiness, the frame clock, visibility and the first
// greeting.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/assetcache"
	"github.com/elfolz/robot/internal/assets"
	"github.com/elfolz/robot/internal/audio"
	"github.com/elfolz/robot/internal/bridge"
	"github.com/elfolz/robot/internal/bus"
	"github.com/elfolz/robot/internal/config"
	"github.com/elfolz/robot/internal/conversation"
	"github.com/elfolz/robot/internal/logging"
	"github.com/elfolz/robot/internal/loop"
	"github.com/elfolz/robot/internal/progress"
	"github.com/elfolz/robot/internal/speech"
	"github.com/rs/zerolog"
)

const historySize = 20

// Option configures a Robot.
type Option func(*Robot)

// WithScheduler replaces the event loop, for tests driving a loop.Manual.
func WithScheduler(s loop.Scheduler) Option {
	return func(r *Robot) { r.sched = s }
}

// WithSink replaces the audio output.
func WithSink(s audio.Sink) Option {
	return func(r *Robot) { r.sink = s }
}

// WithEngine replaces the local speech engine.
func WithEngine(e speech.Engine) Option {
	return func(r *Robot) { r.engine = e }
}

// WithSource replaces the asset source.
func WithSource(s assets.Source) Option {
	return func(r *Robot) { r.source = s }
}

// Robot is the assembled application.
type Robot struct {
	cfg    *config.Config
	log    *logging.Logger
	logger zerolog.Logger

	loop     *loop.Loop
	sched    loop.Scheduler
	eventBus *bus.EventBus
	hub      *bridge.Hub
	store    assetcache.Store
	cache    *assetcache.Transport
	client   *http.Client
	source   assets.Source
	loader   *assets.Loader

	progress   *progress.Aggregator
	controller *animation.Controller
	frames     *animation.FrameLimiter
	sink       audio.Sink
	mixer      *audio.Mixer
	engine     speech.Engine
	director   *speech.Director
	history    *conversation.History
	pipeline   *conversation.Pipeline

	runCtx  context.Context
	model   *assets.Model
	ready   bool
	hidden  bool
	greeted bool
}

// New builds every component from cfg. log may be nil.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) (*Robot, error) {
	r := &Robot{
		cfg:      cfg,
		log:      log,
		logger:   zerolog.Nop(),
		eventBus: bus.NewEventBus(),
	}
	if log != nil {
		r.logger = log.Component("app")
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sched == nil {
		r.loop = loop.New(0, r.zerolog())
		r.sched = r.loop
	}

	if err := r.initTransport(); err != nil {
		return nil, err
	}
	if err := r.initAssets(); err != nil {
		return nil, err
	}
	r.initAnimation()
	r.initAudio()
	r.initSpeech()
	r.initConversation()

	r.eventBus.SubscribeAll(func(e bus.Event) {
		r.logger.Trace().Str("event", string(e.Type)).Fields(e.Data).Msg("Event")
	})
	if log != nil {
		r.eventBus.SubscribeMultiple([]bus.EventType{
			bus.EventTypeReady,
			bus.EventTypeAssetFailed,
			bus.EventTypeConfigReload,
			bus.EventTypeVoiceChosen,
			bus.EventTypeReply,
		}, r.record)
	}

	r.hub.SetHandlers(bridge.Handlers{
		Submit:     r.Submit,
		Visibility: r.SetHidden,
		Click:      r.Click,
	})
	return r, nil
}

func (r *Robot) zerolog() zerolog.Logger {
	if r.log == nil {
		return zerolog.Nop()
	}
	return r.log.Zerolog()
}

func (r *Robot) initTransport() error {
	hubOpts := []bridge.Option{bridge.WithLogger(r.zerolog())}
	if origins := r.cfg.Server.AllowedOrigins; len(origins) > 0 {
		hubOpts = append(hubOpts, bridge.WithOriginCheck(bridge.AllowOrigins(origins)))
	}
	r.hub = bridge.NewHub(r.sched, hubOpts...)
	r.client = &http.Client{}

	if !r.cfg.Assets.Cache.Enabled {
		return nil
	}
	store, err := assetcache.OpenBadger(r.cfg.Assets.Cache.Dir, r.zerolog())
	if err != nil {
		// Network only, like a browser without cache storage.
		r.logger.Warn().Err(err).Msg("Asset cache unavailable")
		return nil
	}
	r.store = store
	r.cache = assetcache.New(store, assetcache.WithLogger(r.zerolog()))
	r.client = &http.Client{Transport: r.cache}
	return nil
}

func (r *Robot) initAssets() error {
	if r.source == nil {
		src, err := assets.NewSource(r.cfg.Assets.BaseURL, r.client)
		if err != nil {
			return fmt.Errorf("asset source: %w", err)
		}
		r.source = src
	}

	r.progress = progress.New(len(r.cfg.Assets.Animations)+1, r.sched,
		progress.WithDisplay(r.hub),
		progress.WithReadyDelay(r.cfg.Progress.ReadyDelay),
		progress.WithOnReady(r.onReady),
		progress.WithLogger(r.zerolog()),
	)
	r.loader = assets.NewLoader(r.source, r.sched, assets.Handlers{
		Progress: r.onProgress,
		Model:    r.onModel,
		Clip:     r.onClip,
		Failed:   r.onFailed,
	},
		assets.WithAnimationExt(r.cfg.Assets.AnimationExt),
		assets.WithTimeout(r.cfg.Assets.Timeout),
		assets.WithLogger(r.zerolog()),
	)
	return nil
}

func (r *Robot) initAnimation() {
	r.controller = animation.NewController(animation.NewMixer(), r.cfg.Animation.Idle,
		animation.WithBlend(r.cfg.Animation.Blend),
		animation.WithTransitionObserver(func(t animation.Transition) {
			r.hub.Transition(t)
			r.eventBus.Publish(bus.Event{Type: bus.EventTypeAnimationTransition, Data: map[string]any{
				"from": t.From, "to": t.To, "mode": t.Mode,
			}})
		}),
		animation.WithLogger(r.zerolog()),
	)
	r.frames = animation.NewFrameLimiter(r.cfg.Animation.FPSLimit)
}

func (r *Robot) initAudio() {
	if r.sink == nil {
		r.sink = audio.NopSink{}
		if r.cfg.Audio.Enabled {
			sink, err := audio.NewOtoSink(r.cfg.Audio.SampleRate, r.cfg.Audio.Channels, r.zerolog())
			if err != nil {
				r.logger.Warn().Err(err).Msg("Audio device unavailable, playing silently")
			} else {
				r.sink = sink
			}
		}
	}
	r.mixer = audio.NewMixer(r.sink, r.sched,
		audio.WithGains(r.cfg.Audio.SpeechGain, r.cfg.Audio.AmbientGain),
		audio.WithEventBus(r.eventBus),
		audio.WithLogger(r.zerolog()),
	)
}

func (r *Robot) initSpeech() {
	sc := r.cfg.Speech
	if r.engine == nil {
		switch sc.Engine {
		case "say":
			say := speech.NewSayEngine(r.zerolog())
			if say.IsAvailable() {
				r.engine = say
			} else {
				r.logger.Warn().Msg("say not available, using the browser voice")
				r.engine = r.hub
			}
		case "none":
		default:
			r.engine = r.hub
		}
	}

	tuning := make(map[string]speech.Tuning, len(sc.VoiceTuning))
	for name, t := range sc.VoiceTuning {
		tuning[name] = speech.Tuning{Pitch: t.Pitch, Rate: t.Rate}
	}
	dc := speech.Config{
		LocalOnly:     sc.LocalOnly,
		Language:      sc.Language,
		FallbackLang:  sc.FallbackLang,
		Candidates:    sc.VoiceCandidates,
		Tuning:        tuning,
		RetryInterval: sc.RetryInterval,
		Timeout:       sc.Timeout,
		TalkPool:      r.cfg.Animation.TalkPool,
	}

	opts := []speech.Option{speech.WithEventBus(r.eventBus), speech.WithLogger(r.zerolog())}
	if !sc.LocalOnly && sc.Endpoint != "" {
		opts = append(opts, speech.WithSynthesizer(
			speech.NewRemoteSynthesizer(sc.Endpoint, r.client, sc.Timeout, r.zerolog())))
	}

	r.director = speech.NewDirector(dc, r.engine, r.mixer, r.controller, r.sched, opts...)
}

func (r *Robot) initConversation() {
	r.history = conversation.NewHistory(historySize)
	chat := conversation.NewHTTPChatClient(r.cfg.Chat.Endpoint, r.client, r.cfg.Chat.Timeout, r.zerolog())
	r.pipeline = conversation.NewPipeline(chat, r.director, r.controller, r.mixer, r.hub, r.sched,
		conversation.WithThinkingClip(r.cfg.Animation.Thinking),
		conversation.WithTimeout(r.cfg.Chat.Timeout),
		conversation.WithHistory(r.history),
		conversation.WithEventBus(r.eventBus),
		conversation.WithLogger(r.zerolog()),
	)
}

// Run loads the assets and drains the event loop until ctx is done.
func (r *Robot) Run(ctx context.Context) error {
	if r.loop == nil {
		return errors.New("robot built with an external scheduler")
	}
	r.runCtx = ctx
	go func() {
		if err := r.Load(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Loading stalled")
		}
	}()
	err := r.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Load fetches the ambient track, the model and the animations. It blocks
// and reports results through the scheduler.
func (r *Robot) Load(ctx context.Context) error {
	if name := r.cfg.Assets.Ambient; name != "" {
		go func() {
			buf, err := r.loader.LoadAmbient(ctx, name)
			if err != nil {
				r.logger.Warn().Err(err).Str("asset", name).Msg("Ambient track unavailable")
				return
			}
			r.sched.Post(func() { r.mixer.SetAmbientBuffer(buf) })
		}()
	}
	return r.loader.Load(ctx, r.cfg.Assets.Model, r.cfg.Assets.Animations)
}

// Close releases the audio sources, the pages and the cache.
func (r *Robot) Close() error {
	r.hub.Close()
	r.eventBus.Clear()
	if r.cache != nil {
		r.cache.Wait()
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

func (r *Robot) onProgress(key string, fraction float64) {
	percent := r.progress.Report(key, fraction)
	r.eventBus.Publish(bus.Event{Type: bus.EventTypeProgress, Data: map[string]any{
		"key": key, "fraction": fraction, "percent": percent,
	}})
}

func (r *Robot) onModel(m *assets.Model) {
	r.model = m
	r.eventBus.Publish(bus.Event{Type: bus.EventTypeAssetLoaded, Data: map[string]any{"asset": m.Name, "kind": "model"}})
}

func (r *Robot) onClip(clip animation.Clip) {
	r.controller.RegisterClip(clip)
	r.eventBus.Publish(bus.Event{Type: bus.EventTypeAssetLoaded, Data: map[string]any{"asset": clip.Name, "kind": "animation"}})
}

func (r *Robot) onFailed(key string, err error) {
	r.eventBus.Publish(bus.Event{Type: bus.EventTypeAssetFailed, Data: map[string]any{"asset": key, "error": err.Error()}})
}

func (r *Robot) onReady() {
	if r.ready {
		return
	}
	r.ready = true
	r.hub.Ready()
	r.hub.SetInputState(conversation.InputState{Enabled: true})
	r.eventBus.Publish(bus.Event{Type: bus.EventTypeReady, Data: map[string]any{"clips": len(r.controller.Names())}})

	if r.loop != nil && r.runCtx != nil {
		r.loop.Ticker(r.runCtx, r.tickInterval(), r.Frame)
	}
}

// record keeps lifecycle notifications in the log history served at /logs.
func (r *Robot) record(e bus.Event) {
	if e.Type == bus.EventTypeAssetFailed {
		r.log.Warn("assets", "Asset failed to load", e.Data)
		return
	}
	r.log.Info("app", string(e.Type), e.Data)
}

// tickInterval polls faster than the frame cap so the limiter, not ticker
// jitter, decides when a frame runs.
func (r *Robot) tickInterval() time.Duration {
	if iv := r.frames.Interval(); iv > 0 {
		return iv / 2
	}
	return time.Second / 60
}

// Frame advances the animation mixer if the frame cap allows it.
func (r *Robot) Frame(now time.Time) {
	if !r.ready {
		return
	}
	if dt, ok := r.frames.Tick(now); ok {
		r.controller.Update(float32(dt))
	}
}

// Submit forwards user text once the robot is ready.
func (r *Robot) Submit(text string) {
	if !r.ready {
		return
	}
	r.pipeline.Submit(text)
}

// SetHidden pauses the frame clock and silences the robot while the page is
// hidden.
func (r *Robot) SetHidden(hidden bool) {
	if r.hidden == hidden {
		return
	}
	r.hidden = hidden
	r.frames.SetHidden(hidden)
	r.eventBus.Publish(bus.Event{Type: bus.EventTypeVisibility, Data: map[string]any{"hidden": hidden}})
	if !hidden {
		return
	}
	r.mixer.StopAll()
	r.director.Cancel()
	r.pipeline.ResetInput()
}

// Click starts the ambient loop and says the greeting, once, after ready.
func (r *Robot) Click() {
	if !r.ready || r.greeted {
		return
	}
	r.greeted = true
	r.mixer.StartAmbient()
	r.director.Speak(r.cfg.Speech.Greeting)
}

// ApplyConfig live-applies the settings that can change without a restart.
func (r *Robot) ApplyConfig(cfg *config.Config) {
	r.mixer.SetGains(cfg.Audio.SpeechGain, cfg.Audio.AmbientGain)
	if r.log != nil && cfg.Log.Level != "" {
		r.log.SetLevel(logging.LogLevel(cfg.Log.Level))
	}
	r.cfg.Audio = cfg.Audio
	r.cfg.Log = cfg.Log
	r.logger.Info().Float64("speechGain", cfg.Audio.SpeechGain).Float64("ambientGain", cfg.Audio.AmbientGain).Msg("Configuration reloaded")
	r.eventBus.Publish(bus.Event{Type: bus.EventTypeConfigReload})
}

// Handler serves the websocket bridge and the JSON endpoints.
func (r *Robot) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(r.cfg.Server.WSPath, r.hub)
	mux.Handle("/history", bridge.HistoryHandler(r.history))
	if r.log != nil {
		mux.Handle("/logs", bridge.LogsHandler(r.log))
	}
	if dir, ok := r.source.(assets.DirSource); ok {
		mux.Handle("/models/", http.StripPrefix("/models/", http.FileServer(http.Dir(string(dir)))))
	}
	return mux
}

// Scheduler returns the event loop.
func (r *Robot) Scheduler() loop.Scheduler { return r.sched }

// Events returns the notification bus.
func (r *Robot) Events() *bus.EventBus { return r.eventBus }

// Ready reports whether loading finished and the ready delay elapsed.
func (r *Robot) Ready() bool { return r.ready }

// Model returns the loaded model summary.
func (r *Robot) Model() *assets.Model { return r.model }

// Controller returns the animation controller.
func (r *Robot) Controller() *animation.Controller { return r.controller }

// Mixer returns the audio mixer.
func (r *Robot) Mixer() *audio.Mixer { return r.mixer }

// Director returns the speech director.
func (r *Robot) Director() *speech.Director { return r.director }

// Pipeline returns the conversation pipeline.
func (r *Robot) Pipeline() *conversation.Pipeline { return r.pipeline }

// Hub returns the browser bridge.
func (r *Robot) Hub() *bridge.Hub { return r.hub }

// History returns the conversation history.
func (r *Robot) History() *conversation.History { return r.history }

// Progress returns the load progress aggregator.
func (r *Robot) Progress() *progress.Aggregator { return r.progress }
