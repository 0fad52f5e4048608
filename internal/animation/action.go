// Package animation blends named clips for the robot model.
//
// A Mixer advances clip Actions in time and fades their weights. The
// Controller owns the single current clip and is the only code that moves
// it from one clip to the next.
package animation

import (
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// LoopMode selects what a clip does when it reaches its end.
type LoopMode int

const (
	// LoopRepeat wraps back to the start.
	LoopRepeat LoopMode = iota
	// LoopPingPong plays forward then backward.
	LoopPingPong
	// LoopOnce plays a single time.
	LoopOnce
)

func (m LoopMode) String() string {
	switch m {
	case LoopPingPong:
		return "pingpong"
	case LoopOnce:
		return "once"
	default:
		return "repeat"
	}
}

// ParseLoopMode maps "pingpong" and "once" to their modes; anything else
// repeats.
func ParseLoopMode(s string) LoopMode {
	switch strings.ToLower(s) {
	case "pingpong":
		return LoopPingPong
	case "once":
		return LoopOnce
	default:
		return LoopRepeat
	}
}

// Clip is a named animation of a fixed length in seconds.
type Clip struct {
	Name     string
	Duration float32
}

type fade struct {
	from, to float32
	elapsed  float32
	duration float32
}

// Action is the playback state of one clip inside a Mixer.
type Action struct {
	clip  Clip
	mixer *Mixer

	Loop              LoopMode
	ClampWhenFinished bool

	running   bool
	enabled   bool
	paused    bool
	finished  bool
	time      float32
	direction float32
	timeScale float32
	weight    float32
	loopCount int
	fade      *fade
}

func newAction(m *Mixer, clip Clip) *Action {
	return &Action{
		clip:      clip,
		mixer:     m,
		enabled:   true,
		direction: 1,
		timeScale: 1,
		weight:    1,
	}
}

// Name returns the clip name.
func (a *Action) Name() string { return a.clip.Name }

// Clip returns the underlying clip.
func (a *Action) Clip() Clip { return a.clip }

// Play schedules the action in its mixer.
func (a *Action) Play() *Action {
	a.running = true
	return a
}

// Stop removes the action from playback and rewinds it.
func (a *Action) Stop() *Action {
	a.running = false
	a.fade = nil
	return a.Reset()
}

// Reset rewinds the local clock and clears pause, finish and fades.
func (a *Action) Reset() *Action {
	a.enabled = true
	a.paused = false
	a.finished = false
	a.time = 0
	a.direction = 1
	a.loopCount = 0
	a.fade = nil
	return a
}

// IsRunning reports whether the action is scheduled, enabled and unpaused.
func (a *Action) IsRunning() bool {
	return a.running && a.enabled && !a.paused
}

// Finished reports whether a once clip reached its end.
func (a *Action) Finished() bool { return a.finished }

// Paused reports whether the action holds its pose.
func (a *Action) Paused() bool { return a.paused }

// Enabled reports whether the action contributes to the pose.
func (a *Action) Enabled() bool { return a.enabled }

// SetEnabled toggles the action's influence.
func (a *Action) SetEnabled(enabled bool) *Action {
	a.enabled = enabled
	return a
}

// Time is the local clip time in seconds.
func (a *Action) Time() float32 { return a.time }

// LoopCount is the number of completed loop cycles since the last reset.
func (a *Action) LoopCount() int { return a.loopCount }

// SetEffectiveTimeScale sets the playback speed and stops warping.
func (a *Action) SetEffectiveTimeScale(scale float32) *Action {
	a.timeScale = scale
	return a
}

// TimeScale returns the playback speed.
func (a *Action) TimeScale() float32 { return a.timeScale }

// SetEffectiveWeight sets the influence and cancels any running fade.
func (a *Action) SetEffectiveWeight(w float32) *Action {
	a.weight = mgl32.Clamp(w, 0, 1)
	a.fade = nil
	return a
}

// EffectiveWeight is the influence this frame, zero while disabled.
func (a *Action) EffectiveWeight() float32 {
	if !a.enabled || !a.running {
		return 0
	}
	return a.weight
}

// Fading reports whether a weight fade is in progress.
func (a *Action) Fading() bool { return a.fade != nil }

// FadeIn ramps the weight from 0 to 1 over seconds.
func (a *Action) FadeIn(seconds float32) *Action {
	return a.scheduleFade(seconds, 0, 1)
}

// FadeOut ramps the weight from its current value to 0 over seconds.
func (a *Action) FadeOut(seconds float32) *Action {
	return a.scheduleFade(seconds, a.EffectiveWeight(), 0)
}

// CrossFadeTo fades this action out and next in over the same interval.
func (a *Action) CrossFadeTo(next *Action, seconds float32) *Action {
	a.FadeOut(seconds)
	next.FadeIn(seconds)
	return next
}

func (a *Action) scheduleFade(seconds, from, to float32) *Action {
	if seconds <= 0 {
		a.weight = to
		a.fade = nil
		if to == 0 {
			a.enabled = false
		}
		return a
	}
	a.weight = from
	a.fade = &fade{from: from, to: to, duration: seconds}
	return a
}

func (a *Action) updateWeight(dt float32) {
	f := a.fade
	if f == nil {
		return
	}
	f.elapsed += dt
	t := mgl32.Clamp(f.elapsed/f.duration, 0, 1)
	a.weight = f.from + (f.to-f.from)*t
	if t >= 1 {
		a.fade = nil
		if f.to == 0 {
			a.enabled = false
		}
	}
}

// updateTime advances the clip clock and returns the events it produced.
func (a *Action) updateTime(dt float32) []Event {
	if a.paused || a.finished {
		return nil
	}
	d := a.clip.Duration
	step := dt * a.timeScale
	if step == 0 {
		return nil
	}

	switch a.Loop {
	case LoopOnce:
		a.time += step
		if d <= 0 || a.time >= d {
			a.time = d
			a.finished = true
			if a.ClampWhenFinished {
				a.paused = true
			} else {
				a.enabled = false
			}
			return []Event{{Type: EventFinished, Action: a}}
		}
		return nil

	case LoopPingPong:
		if d <= 0 {
			return nil
		}
		var events []Event
		a.time += step * a.direction
		for a.time > d || a.time < 0 {
			if a.time > d {
				a.time = 2*d - a.time
				a.direction = -1
			} else {
				a.time = -a.time
				a.direction = 1
			}
			a.loopCount++
			events = append(events, Event{Type: EventLoop, Action: a})
		}
		return events

	default:
		if d <= 0 {
			return nil
		}
		var events []Event
		a.time += step
		for a.time >= d {
			a.time -= d
			a.loopCount++
			events = append(events, Event{Type: EventLoop, Action: a})
		}
		return events
	}
}
