package animation

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, opts ...ControllerOption) *Controller {
	t.Helper()
	c := NewController(NewMixer(), "idle", opts...)
	c.RegisterClip(Clip{Name: "idle", Duration: 2})
	c.RegisterClip(Clip{Name: "thoughtful", Duration: 1})
	c.RegisterClip(Clip{Name: "talking", Duration: 0.5})
	c.RegisterClip(Clip{Name: "agreeing", Duration: 0.8})
	return c
}

func step(c *Controller, seconds float32, dt float32) {
	for elapsed := float32(0); elapsed < seconds-1e-6; elapsed += dt {
		c.Update(dt)
	}
}

func TestController_IdleStartsOnRegister(t *testing.T) {
	c := newTestController(t)

	assert.Equal(t, "idle", c.Current())
	assert.True(t, c.IsIdle())
	idle, _ := c.Action("idle")
	assert.True(t, idle.IsRunning())

	talking, _ := c.Action("talking")
	assert.False(t, talking.IsRunning())
}

func TestController_CrossFadeToCurrentOnlyRestartsClock(t *testing.T) {
	var transitions []Transition
	c := newTestController(t, WithTransitionObserver(func(tr Transition) {
		transitions = append(transitions, tr)
	}))
	transitions = nil

	step(c, 0.5, 0.1)
	idle, _ := c.Action("idle")
	require.Greater(t, idle.Time(), float32(0))

	c.CrossFadeTo("idle", LoopRepeat)

	assert.Equal(t, "idle", c.Current())
	assert.Equal(t, float32(0), idle.Time())
	assert.False(t, idle.Fading())
	assert.Equal(t, float32(1), idle.EffectiveWeight())
	assert.Empty(t, transitions)
}

func TestController_CrossFadeBlendsLinearly(t *testing.T) {
	c := newTestController(t)
	idle, _ := c.Action("idle")
	talking, _ := c.Action("talking")

	c.CrossFadeTo("talking", LoopRepeat)
	assert.Equal(t, "talking", c.Current())
	assert.Equal(t, float32(0), talking.EffectiveWeight())

	c.Update(0.125)
	assert.InDelta(t, 0.5, talking.EffectiveWeight(), 1e-4)
	assert.InDelta(t, 0.5, idle.EffectiveWeight(), 1e-4)

	c.Update(0.125)
	assert.InDelta(t, 1, talking.EffectiveWeight(), 1e-4)
	assert.Equal(t, float32(0), idle.EffectiveWeight())
	assert.False(t, idle.Enabled())
}

func TestController_OnceClampsAtFinalPose(t *testing.T) {
	c := newTestController(t)
	c.CrossFadeTo("thoughtful", LoopOnce)
	thoughtful, _ := c.Action("thoughtful")

	finished := 0
	c.Mixer().AddListener(func(ev Event) {
		if ev.Type == EventFinished && ev.Action == thoughtful {
			finished++
		}
	})

	step(c, 3, 0.05)

	assert.Equal(t, 1, finished)
	assert.True(t, thoughtful.Finished())
	assert.True(t, thoughtful.Paused())
	assert.InDelta(t, 1, thoughtful.Time(), 1e-6)
	assert.InDelta(t, 1, thoughtful.EffectiveWeight(), 1e-6)
	assert.Equal(t, "thoughtful", c.Current())
}

func TestController_OnceRestartsWhenRequestedAgain(t *testing.T) {
	c := newTestController(t)
	c.CrossFadeTo("thoughtful", LoopOnce)
	step(c, 2, 0.1)
	c.CrossFadeTo("idle", LoopRepeat)
	step(c, 0.3, 0.1)

	c.CrossFadeTo("thoughtful", LoopOnce)
	thoughtful, _ := c.Action("thoughtful")
	assert.False(t, thoughtful.Finished())
	assert.Equal(t, float32(0), thoughtful.Time())
	assert.True(t, thoughtful.IsRunning())
}

func TestController_LoopBoundaryWaitsForCycle(t *testing.T) {
	c := newTestController(t)
	c.CrossFadeTo("talking", LoopRepeat)
	step(c, 0.3, 0.1)

	c.CrossFadeOnLoopBoundary("agreeing", LoopOnce)
	pending, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, "agreeing", pending)
	assert.Equal(t, "talking", c.Current())

	c.Update(0.1)
	assert.Equal(t, "talking", c.Current())

	c.Update(0.15)
	assert.Equal(t, "agreeing", c.Current())
	_, ok = c.Pending()
	assert.False(t, ok)
	assert.Equal(t, 0, c.Mixer().Listeners())
}

func TestController_LoopBoundaryNewestWins(t *testing.T) {
	c := newTestController(t)
	c.CrossFadeTo("talking", LoopRepeat)

	c.CrossFadeOnLoopBoundary("agreeing", LoopOnce)
	c.CrossFadeOnLoopBoundary("thoughtful", LoopOnce)
	assert.Equal(t, 1, c.Mixer().Listeners())

	step(c, 0.6, 0.1)
	assert.Equal(t, "thoughtful", c.Current())
}

func TestController_CrossFadeClearsPendingBoundary(t *testing.T) {
	c := newTestController(t)
	c.CrossFadeTo("talking", LoopRepeat)
	c.CrossFadeOnLoopBoundary("agreeing", LoopOnce)

	c.CrossFadeTo("idle", LoopRepeat)
	step(c, 1, 0.1)

	assert.Equal(t, "idle", c.Current())
	assert.Equal(t, 0, c.Mixer().Listeners())
}

func TestController_LoopBoundaryOnFinishedClipIsImmediate(t *testing.T) {
	c := newTestController(t)
	c.CrossFadeTo("thoughtful", LoopOnce)
	step(c, 1.5, 0.1)

	c.CrossFadeOnLoopBoundary("talking", LoopOnce)
	assert.Equal(t, "talking", c.Current())
}

func TestController_InterruptedBlendNeverExceedsFullWeight(t *testing.T) {
	c := newTestController(t)

	c.CrossFadeTo("talking", LoopRepeat)
	c.Update(0.1)
	c.CrossFadeTo("thoughtful", LoopOnce)

	for i := 0; i < 20; i++ {
		c.Update(0.02)
		assert.LessOrEqual(t, c.Mixer().TotalWeight(), float32(1.0001))
	}
	assert.Equal(t, "thoughtful", c.Current())
	thoughtful, _ := c.Action("thoughtful")
	assert.InDelta(t, 1, thoughtful.EffectiveWeight(), 1e-4)
}

func TestController_MissingClipPanics(t *testing.T) {
	c := newTestController(t)
	assert.Panics(t, func() { c.CrossFadeTo("moonwalk", LoopOnce) })
	assert.Panics(t, func() { c.CrossFadeOnLoopBoundary("moonwalk", LoopOnce) })
}

func TestController_ObserverSeesTransitions(t *testing.T) {
	var seen []Transition
	c := newTestController(t, WithBlend(500*time.Millisecond), WithTransitionObserver(func(tr Transition) {
		seen = append(seen, tr)
	}))

	c.CrossFadeTo("talking", LoopPingPong)

	require.Len(t, seen, 2)
	assert.Equal(t, Transition{To: "idle", Mode: "repeat"}, seen[0])
	assert.Equal(t, Transition{From: "idle", To: "talking", Mode: "pingpong", Blend: 500 * time.Millisecond}, seen[1])
}

func TestAction_PingPongReverses(t *testing.T) {
	m := NewMixer()
	a := m.ClipAction(Clip{Name: "wave", Duration: 1})
	a.Loop = LoopPingPong
	a.Play()

	loops := 0
	m.AddListener(func(ev Event) {
		if ev.Type == EventLoop {
			loops++
		}
	})

	m.Update(0.75)
	m.Update(0.5)
	assert.InDelta(t, 0.75, a.Time(), 1e-5)
	assert.Equal(t, 1, loops)

	m.Update(1)
	assert.InDelta(t, 0.25, a.Time(), 1e-5)
	assert.Equal(t, 2, loops)
}

func TestAction_RepeatWraps(t *testing.T) {
	m := NewMixer()
	a := m.ClipAction(Clip{Name: "walk", Duration: 1})
	a.Play()

	m.Update(2.5)
	assert.InDelta(t, 0.5, a.Time(), 1e-5)
	assert.Equal(t, 2, a.LoopCount())
}

func TestParseLoopMode(t *testing.T) {
	assert.Equal(t, LoopOnce, ParseLoopMode("Once"))
	assert.Equal(t, LoopPingPong, ParseLoopMode("pingpong"))
	assert.Equal(t, LoopRepeat, ParseLoopMode(""))
	assert.Equal(t, "once", LoopOnce.String())
}

func TestPickRandom(t *testing.T) {
	assert.Equal(t, "", PickRandom(nil, nil))

	pool := []string{"a", "b", "c"}
	rng := rand.New(rand.NewPCG(1, 2))
	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		counts[PickRandom(rng, pool)]++
	}
	for _, name := range pool {
		assert.InDelta(t, 1000, counts[name], 150, name)
	}

	a := PickRandom(rand.New(rand.NewPCG(7, 7)), pool)
	b := PickRandom(rand.New(rand.NewPCG(7, 7)), pool)
	assert.Equal(t, a, b)
}
