package conversation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/bus"
	"github.com/elfolz/robot/internal/loop"
	"github.com/elfolz/robot/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSpeaker struct {
	spoken  []string
	cancels int
}

func (s *recordingSpeaker) Speak(text string) { s.spoken = append(s.spoken, text) }
func (s *recordingSpeaker) Cancel()           { s.cancels++ }

type recordingAudio struct {
	ambientStarts int
	stops         int
}

func (a *recordingAudio) StartAmbient() { a.ambientStarts++ }
func (a *recordingAudio) StopAll()      { a.stops++ }

type recordingInput struct {
	states []InputState
}

func (i *recordingInput) SetInputState(s InputState) { i.states = append(i.states, s) }

func (i *recordingInput) enables() int {
	n := 0
	for _, s := range i.states {
		if s.Enabled {
			n++
		}
	}
	return n
}

func (i *recordingInput) last() InputState { return i.states[len(i.states)-1] }

type harness struct {
	pipeline *Pipeline
	speaker  *recordingSpeaker
	audio    *recordingAudio
	input    *recordingInput
	anim     *animation.Controller
	sched    *loop.Manual
	history  *History
	events   *bus.EventBus
}

func newHarness(t *testing.T, chat ChatClient) *harness {
	t.Helper()
	anim := animation.NewController(animation.NewMixer(), "idle")
	anim.RegisterClip(animation.Clip{Name: "idle", Duration: 2})
	anim.RegisterClip(animation.Clip{Name: "thoughtful", Duration: 1.5})

	h := &harness{
		speaker: &recordingSpeaker{},
		audio:   &recordingAudio{},
		input:   &recordingInput{},
		anim:    anim,
		sched:   loop.NewManual(),
		history: NewHistory(5),
		events:  bus.NewEventBus(),
	}
	h.pipeline = NewPipeline(chat, h.speaker, anim, h.audio, h.input, h.sched,
		WithHistory(h.history), WithTimeout(2*time.Second), WithEventBus(h.events), WithLogger(zerolog.Nop()))
	return h
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool { return !h.pipeline.InFlight() }))
}

func TestPipeline_ReplyIsSpoken(t *testing.T) {
	svc := testutil.CreateMockChatService(t, "olá", http.StatusOK, false)
	h := newHarness(t, NewHTTPChatClient(svc.URL, nil, time.Second, zerolog.Nop()))

	require.True(t, h.pipeline.Submit("oi"))
	assert.True(t, h.pipeline.InFlight())
	assert.Equal(t, InputState{Enabled: false}, h.input.last())
	assert.Equal(t, "thoughtful", h.anim.Current())
	assert.Equal(t, 1, h.audio.ambientStarts)

	h.settle(t)

	assert.Equal(t, []string{"olá"}, h.speaker.spoken)
	assert.Equal(t, []string{"oi"}, svc.Requests())
	assert.Equal(t, InputState{Enabled: true, Clear: true, Focus: true}, h.input.last())
	assert.Equal(t, 1, h.input.enables())
	require.Equal(t, 1, h.history.Len())
	assert.Equal(t, "olá", h.history.Recent(1)[0].AssistantText)
}

func TestPipeline_SingleFlight(t *testing.T) {
	svc := testutil.CreateMockChatService(t, "resposta", http.StatusOK, true)
	h := newHarness(t, NewHTTPChatClient(svc.URL, nil, time.Second, zerolog.Nop()))

	require.True(t, h.pipeline.Submit("primeira"))
	assert.False(t, h.pipeline.Submit("segunda"))
	assert.Equal(t, 0, h.input.enables())

	require.Eventually(t, func() bool { return len(svc.Requests()) == 1 }, 2*time.Second, 5*time.Millisecond)
	svc.Release()
	h.settle(t)

	assert.Equal(t, []string{"primeira"}, svc.Requests())
	assert.Equal(t, 1, h.input.enables())
	assert.Equal(t, []string{"resposta"}, h.speaker.spoken)

	require.True(t, h.pipeline.Submit("terceira"))
	h.settle(t)
	assert.Equal(t, 2, h.input.enables())
}

func TestPipeline_FailureRestoresInput(t *testing.T) {
	svc := testutil.CreateMockChatService(t, "", http.StatusBadGateway, false)
	h := newHarness(t, NewHTTPChatClient(svc.URL, nil, time.Second, zerolog.Nop()))

	require.True(t, h.pipeline.Submit("oi"))
	h.settle(t)

	assert.Empty(t, h.speaker.spoken)
	assert.Equal(t, 1, h.speaker.cancels)
	assert.Equal(t, 1, h.audio.stops)
	assert.True(t, h.anim.IsIdle())
	assert.Equal(t, InputState{Enabled: true, Clear: true, Focus: true}, h.input.last())
	assert.Equal(t, 1, h.input.enables())
	assert.Equal(t, 0, h.history.Len())
}

func TestPipeline_BlankInputIgnored(t *testing.T) {
	h := newHarness(t, chatFunc(func(ctx context.Context, text string) (string, error) {
		t.Fatal("no request expected")
		return "", nil
	}))

	assert.False(t, h.pipeline.Submit(""))
	assert.False(t, h.pipeline.Submit(" \t"))
	assert.Empty(t, h.input.states)
	assert.True(t, h.anim.IsIdle())
}

func TestPipeline_TrimsText(t *testing.T) {
	var got string
	h := newHarness(t, chatFunc(func(ctx context.Context, text string) (string, error) {
		got = text
		return "ok", nil
	}))

	require.True(t, h.pipeline.Submit("  tudo bem?  "))
	h.settle(t)
	assert.Equal(t, "tudo bem?", got)
}

func TestPipeline_ResetDiscardsLateReply(t *testing.T) {
	releaseOld := make(chan struct{})
	releaseNew := make(chan struct{})
	h := newHarness(t, chatFunc(func(ctx context.Context, text string) (string, error) {
		if text == "oi" {
			<-releaseOld
			return "tarde demais", nil
		}
		<-releaseNew
		return "agora", nil
	}))
	var discarded int
	h.events.Subscribe(bus.EventTypeRequestFinished, func(e bus.Event) {
		if e.Data["discarded"] == true {
			discarded++
		}
	})

	require.True(t, h.pipeline.Submit("oi"))
	h.pipeline.ResetInput()
	assert.Equal(t, InputState{Enabled: true, Clear: true}, h.input.last())
	assert.False(t, h.pipeline.InFlight())

	require.True(t, h.pipeline.Submit("outra"))
	assert.False(t, h.pipeline.Submit("mais uma"))

	close(releaseOld)
	require.True(t, h.sched.DrainUntil(2*time.Second, func() bool { return discarded == 1 }))
	assert.Empty(t, h.speaker.spoken)
	assert.True(t, h.pipeline.InFlight(), "a stale reply leaves the newer request alone")
	assert.Equal(t, InputState{Enabled: false}, h.input.last())

	close(releaseNew)
	h.settle(t)
	assert.Equal(t, []string{"agora"}, h.speaker.spoken)
	assert.Equal(t, InputState{Enabled: true, Clear: true, Focus: true}, h.input.last())
	assert.Equal(t, 1, h.history.Len())
}

func TestPipeline_ResetWhileIdleOnlyRestoresInput(t *testing.T) {
	h := newHarness(t, chatFunc(func(ctx context.Context, text string) (string, error) {
		return "ok", nil
	}))

	h.pipeline.ResetInput()
	assert.Equal(t, []InputState{{Enabled: true, Clear: true}}, h.input.states)

	require.True(t, h.pipeline.Submit("oi"))
	h.settle(t)
	assert.Equal(t, []string{"ok"}, h.speaker.spoken)
}

func TestHTTPChatClient_EmptyContent(t *testing.T) {
	srv := testutil.CreateMockChatService(t, "", http.StatusOK, false)
	c := NewHTTPChatClient(srv.URL, nil, time.Second, zerolog.Nop())

	reply, err := c.Complete(context.Background(), "oi")
	require.NoError(t, err)
	assert.Equal(t, "", reply)
}

func TestHTTPChatClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()
	c := NewHTTPChatClient(srv.URL, nil, time.Second, zerolog.Nop())

	_, err := c.Complete(context.Background(), "oi")
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(2)
	h.AddExchange("a", "1")
	h.AddExchange("b", "2")
	h.AddExchange("c", "3")

	recent := h.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].UserText)
	assert.Equal(t, "c", h.Recent(1)[0].UserText)
}

type chatFunc func(ctx context.Context, text string) (string, error)

func (f chatFunc) Complete(ctx context.Context, text string) (string, error) { return f(ctx, text) }
