package animation

// EventType identifies mixer events.
type EventType int

const (
	// EventLoop fires each time a looping action completes a cycle.
	EventLoop EventType = iota
	// EventFinished fires when a once action reaches its end.
	EventFinished
)

func (t EventType) String() string {
	if t == EventFinished {
		return "finished"
	}
	return "loop"
}

// Event reports a loop boundary or completion of an action.
type Event struct {
	Type   EventType
	Action *Action
}

// Listener receives mixer events.
type Listener func(Event)

// Mixer owns the actions of one model and advances them together.
type Mixer struct {
	actions   []*Action
	byName    map[string]*Action
	listeners map[int]Listener
	order     []int
	nextID    int
	time      float32
}

// NewMixer creates an empty mixer.
func NewMixer() *Mixer {
	return &Mixer{
		byName:    make(map[string]*Action),
		listeners: make(map[int]Listener),
	}
}

// ClipAction returns the action for clip, creating it on first use.
func (m *Mixer) ClipAction(clip Clip) *Action {
	if a, ok := m.byName[clip.Name]; ok {
		return a
	}
	a := newAction(m, clip)
	m.actions = append(m.actions, a)
	m.byName[clip.Name] = a
	return a
}

// Action looks up an existing action by clip name.
func (m *Mixer) Action(name string) (*Action, bool) {
	a, ok := m.byName[name]
	return a, ok
}

// AddListener subscribes fn and returns a function that unsubscribes it.
func (m *Mixer) AddListener(fn Listener) (remove func()) {
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.order = append(m.order, id)
	return func() {
		delete(m.listeners, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// Listeners reports the number of subscribed listeners.
func (m *Mixer) Listeners() int { return len(m.listeners) }

// Time is the total time the mixer has advanced.
func (m *Mixer) Time() float32 { return m.time }

// Update advances running actions by dt seconds. Events are dispatched after
// every action moved, so listeners may start new transitions.
func (m *Mixer) Update(dt float32) {
	if dt <= 0 {
		return
	}
	m.time += dt

	var events []Event
	for _, a := range m.actions {
		if !a.running || !a.enabled {
			continue
		}
		events = append(events, a.updateTime(dt)...)
		a.updateWeight(dt)
	}

	for _, ev := range events {
		ids := append([]int(nil), m.order...)
		for _, id := range ids {
			if fn, ok := m.listeners[id]; ok {
				fn(ev)
			}
		}
	}
}

// TotalWeight sums the effective weights of all actions.
func (m *Mixer) TotalWeight() float32 {
	var sum float32
	for _, a := range m.actions {
		sum += a.EffectiveWeight()
	}
	return sum
}
