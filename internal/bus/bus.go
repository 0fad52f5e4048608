// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for the robot
const (
	// Lifecycle events
	EventTypeReady        EventType = "app.ready"
	EventTypeVisibility   EventType = "app.visibility"
	EventTypeConfigReload EventType = "app.config_reload"

	// Loading events
	EventTypeProgress    EventType = "assets.progress"
	EventTypeAssetLoaded EventType = "assets.loaded"
	EventTypeAssetFailed EventType = "assets.failed"

	// Animation events
	EventTypeAnimationTransition EventType = "animation.transition"

	// Audio events
	EventTypeAmbientStarted EventType = "audio.ambient_started"
	EventTypeAmbientStopped EventType = "audio.ambient_stopped"
	EventTypeSpeechStarted  EventType = "audio.speech_started"
	EventTypeSpeechEnded    EventType = "audio.speech_ended"

	// Speech events
	EventTypeSpeechState EventType = "speech.state_changed"
	EventTypeVoiceChosen EventType = "speech.voice_chosen"

	// Conversation events
	EventTypeRequestStarted  EventType = "conversation.request_started"
	EventTypeRequestFinished EventType = "conversation.request_finished"
	EventTypeReply           EventType = "conversation.reply"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// SubscribeAll adds a handler that sees every event
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, 0, len(b.handlers[t])+len(b.all))
	handlers = append(handlers, b.handlers[t]...)
	handlers = append(handlers, b.all...)
	return handlers
}

// Publish calls every handler in subscription order on the caller's
// goroutine. Handlers run on the event loop and must not block.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	for _, handler := range b.snapshot(event.Type) {
		handler(event)
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
	b.all = nil
}
