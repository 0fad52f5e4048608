package speech

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/audio"
	"github.com/elfolz/robot/internal/loop"
	"github.com/elfolz/robot/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu       sync.Mutex
	voices   []Voice
	spoken   []Utterance
	cancels  int
	handler  func(Event)
	speakErr error
}

func (e *fakeEngine) Voices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voices
}

func (e *fakeEngine) setVoices(v []Voice) {
	e.mu.Lock()
	e.voices = v
	e.mu.Unlock()
}

func (e *fakeEngine) Speak(u Utterance) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.speakErr != nil {
		return e.speakErr
	}
	e.spoken = append(e.spoken, u)
	return nil
}

func (e *fakeEngine) Cancel() {
	e.mu.Lock()
	e.cancels++
	e.mu.Unlock()
}

func (e *fakeEngine) SetEventHandler(h func(Event)) { e.handler = h }

func (e *fakeEngine) Spoken() []Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Utterance(nil), e.spoken...)
}

type synthFunc func(ctx context.Context, text string) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text string) ([]byte, error) { return f(ctx, text) }

type harness struct {
	director *Director
	engine   *fakeEngine
	sink     *audio.MemorySink
	mixer    *audio.Mixer
	anim     *animation.Controller
	sched    *loop.Manual
}

// speechlessSink refuses to start speech, as when the output device is lost.
type speechlessSink struct {
	audio.MemorySink
}

func (s *speechlessSink) Start(buf *audio.Buffer, opts audio.PlayOptions, onEnded func()) (audio.Source, error) {
	if opts.Bus == audio.BusSpeech {
		return nil, errors.New("output device lost")
	}
	return s.MemorySink.Start(buf, opts, onEnded)
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	sink := &audio.MemorySink{}
	return newHarnessWithSink(t, cfg, sink, sink, opts...)
}

func newHarnessWithSink(t *testing.T, cfg Config, out audio.Sink, sink *audio.MemorySink, opts ...Option) *harness {
	t.Helper()
	sched := loop.NewManual()
	mixer := audio.NewMixer(out, sched)
	mixer.SetAmbientBuffer(&audio.Buffer{Data: make([]byte, 480), SampleRate: 24000, Channels: 2})

	anim := animation.NewController(animation.NewMixer(), "idle")
	anim.RegisterClip(animation.Clip{Name: "idle", Duration: 2})
	for _, name := range cfg.TalkPool {
		anim.RegisterClip(animation.Clip{Name: name, Duration: 1})
	}

	engine := &fakeEngine{voices: []Voice{
		{Name: "Google US English", Lang: "en-US"},
		{Name: "Daniel", Lang: "pt-BR"},
	}}
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 1))), WithLogger(zerolog.Nop())}, opts...)
	d := NewDirector(cfg, engine, mixer, anim, sched, opts...)
	return &harness{director: d, engine: engine, sink: sink, mixer: mixer, anim: anim, sched: sched}
}

func TestDirector_EmptyTextIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.director.Speak("")
	h.director.Speak("   ")
	h.sched.Advance(time.Second)

	assert.Empty(t, h.engine.Spoken())
	assert.Equal(t, StateIdle, h.director.State())
}

func TestDirector_RemotePlaysSpeech(t *testing.T) {
	wav := testutil.GenerateTestAudio(t, 200*time.Millisecond, 24000, 1)
	svc := testutil.CreateMockSpeechService(t, wav, http.StatusOK)
	synth := NewRemoteSynthesizer(svc.URL, nil, time.Second, zerolog.Nop())
	h := newHarness(t, DefaultConfig(), WithSynthesizer(synth))

	h.director.Speak("  olá  ")
	assert.Equal(t, StateRequesting, h.director.State())

	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool {
		return h.director.State() == StateSpeaking
	}))
	assert.Equal(t, []string{"olá"}, svc.Bodies())
	assert.Equal(t, []string{"application/ssml+xml"}, svc.ContentTypes())
	assert.True(t, h.mixer.Connected(audio.BusSpeech))
	assert.True(t, h.mixer.Connected(audio.BusAmbient))
	assert.False(t, h.anim.IsIdle())
	assert.Empty(t, h.engine.Spoken())

	require.True(t, h.sink.Finish(audio.BusSpeech))
	h.sched.Drain()

	assert.Equal(t, StateIdle, h.director.State())
	assert.True(t, h.anim.IsIdle())
	assert.False(t, h.mixer.Connected(audio.BusAmbient))
}

func TestDirector_RemoteFailureFallsBackOnce(t *testing.T) {
	svc := testutil.CreateMockSpeechService(t, nil, http.StatusInternalServerError)
	synth := NewRemoteSynthesizer(svc.URL, nil, time.Second, zerolog.Nop())
	h := newHarness(t, DefaultConfig(), WithSynthesizer(synth))

	h.director.Speak("teste")

	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool {
		return len(h.engine.Spoken()) > 0
	}))
	h.sched.Advance(time.Second)

	spoken := h.engine.Spoken()
	require.Len(t, spoken, 1)
	assert.Equal(t, "teste", spoken[0].Text)
	assert.Len(t, svc.Bodies(), 1)
	assert.False(t, h.mixer.Connected(audio.BusSpeech))
}

func TestDirector_UndecodableAudioFallsBack(t *testing.T) {
	svc := testutil.CreateMockSpeechService(t, []byte("definitely not audio"), http.StatusOK)
	synth := NewRemoteSynthesizer(svc.URL, nil, time.Second, zerolog.Nop())
	h := newHarness(t, DefaultConfig(), WithSynthesizer(synth))

	h.director.Speak("teste")
	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool {
		return len(h.engine.Spoken()) == 1
	}))
}

func TestDirector_PlaybackFailureDoesNotStartTalking(t *testing.T) {
	wav := testutil.GenerateTestAudio(t, 200*time.Millisecond, 24000, 1)
	svc := testutil.CreateMockSpeechService(t, wav, http.StatusOK)
	synth := NewRemoteSynthesizer(svc.URL, nil, time.Second, zerolog.Nop())
	out := &speechlessSink{}
	h := newHarnessWithSink(t, DefaultConfig(), out, &out.MemorySink, WithSynthesizer(synth))

	h.director.Speak("olá")
	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool {
		return len(h.engine.Spoken()) == 1
	}))

	assert.True(t, h.anim.IsIdle())
	assert.False(t, h.mixer.Connected(audio.BusAmbient))
	assert.Empty(t, h.sink.Sources())

	h.engine.handler(Event{Kind: EventStart, Utterance: h.engine.Spoken()[0].ID})
	h.sched.Drain()
	assert.True(t, h.mixer.Connected(audio.BusAmbient))
	assert.False(t, h.anim.IsIdle())
	assert.Equal(t, StateSpeaking, h.director.State())
}

func TestDirector_LocalAppliesVoiceTuning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalOnly = true
	h := newHarness(t, cfg)

	h.director.Speak(" bom dia ")
	h.sched.Drain()

	spoken := h.engine.Spoken()
	require.Len(t, spoken, 1)
	assert.Equal(t, "bom dia", spoken[0].Text)
	assert.Equal(t, "Daniel", spoken[0].Voice)
	assert.Equal(t, "pt-BR", spoken[0].Lang)
	assert.Equal(t, 1.5, spoken[0].Pitch)
	assert.Equal(t, 1.5, spoken[0].Rate)
	assert.Equal(t, 1, h.engine.cancels, "a previous utterance is cancelled first")

	p, ok := h.director.Profile()
	require.True(t, ok)
	assert.Equal(t, "Daniel", p.Name)
}

func TestDirector_RetriesUntilVoicesAppear(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalOnly = true
	h := newHarness(t, cfg)
	h.engine.setVoices(nil)

	h.director.Speak("oi")
	assert.Empty(t, h.engine.Spoken())
	assert.Equal(t, 1, h.sched.PendingTimers())

	h.sched.Advance(300 * time.Millisecond)
	assert.Empty(t, h.engine.Spoken())

	h.engine.setVoices([]Voice{{Name: "Microsoft Antonio Online", Lang: "pt-BR"}})
	h.sched.Advance(100 * time.Millisecond)

	spoken := h.engine.Spoken()
	require.Len(t, spoken, 1)
	assert.Equal(t, "Microsoft Antonio Online", spoken[0].Voice)
	assert.Equal(t, 1.0, spoken[0].Pitch)
	assert.Equal(t, 0, h.sched.PendingTimers())
}

func TestDirector_VoiceRetryStartsOverWithRemote(t *testing.T) {
	svc := testutil.CreateMockSpeechService(t, nil, http.StatusServiceUnavailable)
	synth := NewRemoteSynthesizer(svc.URL, nil, time.Second, zerolog.Nop())
	h := newHarness(t, DefaultConfig(), WithSynthesizer(synth))
	h.engine.setVoices(nil)

	h.director.Speak("oi")
	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool { return h.sched.PendingTimers() == 1 }))
	assert.Len(t, svc.Bodies(), 1)

	h.sched.Advance(100 * time.Millisecond)
	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool { return len(svc.Bodies()) == 2 }))
	assert.Empty(t, h.engine.Spoken())
}

func TestDirector_CancelStopsVoiceRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalOnly = true
	h := newHarness(t, cfg)
	h.engine.setVoices(nil)

	h.director.Speak("oi")
	h.director.Cancel()
	h.engine.setVoices([]Voice{{Name: "Reed", Lang: "pt-PT"}})
	h.sched.Advance(time.Second)

	assert.Empty(t, h.engine.Spoken())
}

func TestDirector_LifecycleDrivesAnimationAndAudio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalOnly = true
	h := newHarness(t, cfg)

	h.director.Speak("oi")
	id := h.engine.Spoken()[0].ID

	h.engine.handler(Event{Kind: EventStart, Utterance: id})
	h.sched.Drain()
	assert.True(t, h.mixer.Connected(audio.BusAmbient))
	assert.False(t, h.anim.IsIdle())
	assert.Contains(t, cfg.TalkPool, h.anim.Current())

	h.engine.handler(Event{Kind: EventBoundary, Utterance: id})
	h.sched.Drain()
	_, pending := h.anim.Pending()
	assert.True(t, pending, "boundary waits for the running gesture")

	h.engine.handler(Event{Kind: EventEnd, Utterance: id})
	h.sched.Drain()
	assert.True(t, h.anim.IsIdle())
	assert.False(t, h.mixer.Connected(audio.BusAmbient))
	assert.Equal(t, StateIdle, h.director.State())
}

func TestDirector_ErrorCancelsEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalOnly = true
	h := newHarness(t, cfg)

	h.director.Speak("oi")
	id := h.engine.Spoken()[0].ID
	h.engine.handler(Event{Kind: EventStart, Utterance: id})
	h.sched.Drain()
	before := h.engine.cancels

	h.engine.handler(Event{Kind: EventError, Utterance: id, Error: "synthesis-failed"})
	h.sched.Drain()

	assert.Equal(t, before+1, h.engine.cancels)
	assert.True(t, h.anim.IsIdle())
	assert.Equal(t, StateIdle, h.director.State())
}

func TestDirector_IgnoresSupersededUtterance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalOnly = true
	h := newHarness(t, cfg)

	h.director.Speak("primeiro")
	first := h.engine.Spoken()[0].ID
	h.director.Speak("segundo")
	second := h.engine.Spoken()[1].ID
	h.engine.handler(Event{Kind: EventStart, Utterance: second})
	h.sched.Drain()

	h.engine.handler(Event{Kind: EventError, Utterance: first, Error: "interrupted"})
	h.sched.Drain()

	assert.Equal(t, StateSpeaking, h.director.State())
	assert.True(t, h.mixer.Connected(audio.BusAmbient))
}

func TestDirector_EngineSpeakErrorReturnsToIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalOnly = true
	h := newHarness(t, cfg)
	h.engine.speakErr = errors.New("no synthesizer")

	h.director.Speak("oi")
	h.sched.Drain()

	assert.Equal(t, StateIdle, h.director.State())
	assert.True(t, h.anim.IsIdle())
}

func TestDirector_HiddenDisconnectsAndCancels(t *testing.T) {
	wav := testutil.GenerateTestAudio(t, time.Second, 24000, 2)
	synth := synthFunc(func(ctx context.Context, text string) ([]byte, error) { return wav, nil })
	h := newHarness(t, DefaultConfig(), WithSynthesizer(synth))

	h.director.Speak("olá")
	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool {
		return h.mixer.Connected(audio.BusSpeech)
	}))
	cancels := h.engine.cancels

	h.mixer.StopAll()
	h.director.Cancel()
	h.sched.Drain()

	assert.False(t, h.mixer.Connected(audio.BusSpeech))
	assert.False(t, h.mixer.Connected(audio.BusAmbient))
	for _, src := range h.sink.Sources() {
		assert.True(t, src.Disconnected())
	}
	assert.Greater(t, h.engine.cancels, cancels)
	assert.Equal(t, StateIdle, h.director.State())
	assert.True(t, h.anim.IsIdle())
}

func TestDirector_CancelDropsLateRemoteResult(t *testing.T) {
	wav := testutil.GenerateTestAudio(t, 100*time.Millisecond, 24000, 2)
	release := make(chan struct{})
	returned := make(chan struct{})
	synth := synthFunc(func(ctx context.Context, text string) ([]byte, error) {
		<-release
		defer close(returned)
		return wav, nil
	})
	h := newHarness(t, DefaultConfig(), WithSynthesizer(synth))

	h.director.Speak("olá")
	h.director.Cancel()
	close(release)
	<-returned

	h.sched.DrainUntil(50*time.Millisecond, func() bool { return false })
	assert.Empty(t, h.sink.Sources())
	assert.Empty(t, h.engine.Spoken())
	assert.Equal(t, StateIdle, h.director.State())
}

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{Name: "Daniel", Lang: "en-GB"},
		{Name: "Reed (Português (Brasil))", Lang: "pt-BR"},
		{Name: "Microsoft Daniel - Portuguese (Brazil)", Lang: "pt-BR"},
	}

	v, ok := SelectVoice(voices, []string{"antonio", "daniel", "reed"}, "pt")
	require.True(t, ok)
	assert.Equal(t, "Microsoft Daniel - Portuguese (Brazil)", v.Name)

	_, ok = SelectVoice(voices, []string{"luciana"}, "pt")
	assert.False(t, ok)

	v, ok = SelectVoice(voices, []string{"REED"}, "PT")
	require.True(t, ok)
	assert.Equal(t, "pt-BR", v.Lang)
}

func TestNewProfile(t *testing.T) {
	tuning := map[string]Tuning{"daniel": {Pitch: 1.5, Rate: 1.5}}

	p := NewProfile(Voice{Name: "Microsoft Daniel", Lang: "pt-BR"}, tuning)
	assert.Equal(t, 1.5, p.Pitch)

	p = NewProfile(Voice{Name: "Luciana", Lang: "pt-BR"}, tuning)
	assert.Equal(t, VoiceProfile{Name: "Luciana", Lang: "pt-BR", Pitch: 1, Rate: 1}, p)
}
