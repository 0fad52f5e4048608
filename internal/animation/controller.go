package animation

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBlend is the length of every controller cross-fade.
const DefaultBlend = 250 * time.Millisecond

// Transition describes one cross-fade started by the Controller.
type Transition struct {
	From  string        `json:"from,omitempty"`
	To    string        `json:"to"`
	Mode  string        `json:"mode"`
	Blend time.Duration `json:"blend"`
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithBlend overrides the cross-fade duration.
func WithBlend(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.blend = d
		}
	}
}

// WithTransitionObserver registers fn to be told about every transition.
func WithTransitionObserver(fn func(Transition)) ControllerOption {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger.With().Str("component", "animation").Logger() }
}

type pendingFade struct {
	name   string
	mode   LoopMode
	remove func()
}

// Controller owns the clip registry and the single current clip.
// It must only be used from the event loop.
type Controller struct {
	mixer     *Mixer
	actions   map[string]*Action
	idle      string
	current   *Action
	pending   *pendingFade
	blend     time.Duration
	observers []func(Transition)
	logger    zerolog.Logger
}

// NewController creates a controller whose idle clip is idle.
func NewController(mixer *Mixer, idle string, opts ...ControllerOption) *Controller {
	if mixer == nil {
		mixer = NewMixer()
	}
	c := &Controller{
		mixer:   mixer,
		actions: make(map[string]*Action),
		idle:    idle,
		blend:   DefaultBlend,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterClip adds clip to the registry. Registering the idle clip makes
// it current and starts it.
func (c *Controller) RegisterClip(clip Clip) *Action {
	a := c.mixer.ClipAction(clip)
	c.actions[clip.Name] = a
	if clip.Name == c.idle && c.current == nil {
		a.Loop = LoopRepeat
		a.Play()
		c.current = a
		c.logger.Debug().Str("clip", clip.Name).Msg("Idle clip started")
		c.notify(Transition{To: clip.Name, Mode: LoopRepeat.String()})
	}
	return a
}

// Has reports whether name is registered.
func (c *Controller) Has(name string) bool {
	_, ok := c.actions[name]
	return ok
}

// Names lists the registered clips.
func (c *Controller) Names() []string {
	names := make([]string, 0, len(c.actions))
	for name := range c.actions {
		names = append(names, name)
	}
	return names
}

// Action returns the registered action for name.
func (c *Controller) Action(name string) (*Action, bool) {
	a, ok := c.actions[name]
	return a, ok
}

// Current returns the current clip name, empty before the idle clip loads.
func (c *Controller) Current() string {
	if c.current == nil {
		return ""
	}
	return c.current.Name()
}

// Idle returns the idle clip name.
func (c *Controller) Idle() string { return c.idle }

// IsIdle reports whether the idle clip is current.
func (c *Controller) IsIdle() bool {
	return c.current != nil && c.current.Name() == c.idle
}

// Pending reports the clip waiting for a loop boundary, if any.
func (c *Controller) Pending() (string, bool) {
	if c.pending == nil {
		return "", false
	}
	return c.pending.name, true
}

// Mixer returns the underlying mixer.
func (c *Controller) Mixer() *Mixer { return c.mixer }

func (c *Controller) mustAction(name string) *Action {
	a, ok := c.actions[name]
	if !ok {
		panic(fmt.Sprintf("animation: clip %q is not registered", name))
	}
	return a
}

// CrossFadeTo blends from the current clip to name. Asking for the current
// clip only restarts its clock.
func (c *Controller) CrossFadeTo(name string, mode LoopMode) {
	target := c.mustAction(name)
	c.cancelPending()

	if target == c.current {
		target.Reset()
		return
	}

	target.Loop = mode
	target.ClampWhenFinished = mode == LoopOnce
	if mode == LoopOnce || target.Finished() {
		target.Reset()
	}
	target.SetEnabled(true)
	target.SetEffectiveTimeScale(1)
	target.SetEffectiveWeight(1)

	blend := float32(c.blend.Seconds())
	prev := c.current
	if prev != nil {
		prev.CrossFadeTo(target, blend)
	}
	c.current = target
	target.Play()

	t := Transition{To: name, Mode: mode.String(), Blend: c.blend}
	if prev != nil {
		t.From = prev.Name()
	}
	c.logger.Debug().Str("from", t.From).Str("to", t.To).Str("mode", t.Mode).Msg("Cross-fade")
	c.notify(t)
}

// CrossFadeOnLoopBoundary waits for the current clip to finish its cycle and
// then cross-fades to name. A later request replaces an earlier one.
func (c *Controller) CrossFadeOnLoopBoundary(name string, mode LoopMode) {
	c.mustAction(name)
	watched := c.current
	if watched == nil || !watched.IsRunning() {
		c.CrossFadeTo(name, mode)
		return
	}
	c.cancelPending()

	p := &pendingFade{name: name, mode: mode}
	p.remove = c.mixer.AddListener(func(ev Event) {
		if ev.Action != watched || c.pending != p {
			return
		}
		c.cancelPending()
		c.CrossFadeTo(name, mode)
	})
	c.pending = p
}

func (c *Controller) cancelPending() {
	if c.pending == nil {
		return
	}
	c.pending.remove()
	c.pending = nil
}

// Update advances the mixer by dt seconds.
func (c *Controller) Update(dt float32) {
	c.mixer.Update(dt)
}

func (c *Controller) notify(t Transition) {
	for _, fn := range c.observers {
		fn(t)
	}
}
