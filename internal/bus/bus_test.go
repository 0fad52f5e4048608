package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishIsOrdered(t *testing.T) {
	b := NewEventBus()
	var got []string

	b.Subscribe(EventTypeReady, func(e Event) { got = append(got, "first") })
	b.Subscribe(EventTypeReady, func(e Event) { got = append(got, "second") })
	b.SubscribeAll(func(e Event) { got = append(got, "all:"+string(e.Type)) })
	b.Subscribe(EventTypeProgress, func(e Event) { got = append(got, "progress") })

	b.Publish(Event{Type: EventTypeReady})

	assert.Equal(t, []string{"first", "second", "all:app.ready"}, got)
}

func TestEventBus_SubscribeMultiple(t *testing.T) {
	b := NewEventBus()
	var got []EventType
	b.SubscribeMultiple([]EventType{EventTypeSpeechStarted, EventTypeSpeechEnded}, func(e Event) {
		got = append(got, e.Type)
	})

	b.Publish(Event{Type: EventTypeSpeechStarted})
	b.Publish(Event{Type: EventTypeReply})
	b.Publish(Event{Type: EventTypeSpeechEnded})

	assert.Equal(t, []EventType{EventTypeSpeechStarted, EventTypeSpeechEnded}, got)
}

func TestEventBus_NilAndClear(t *testing.T) {
	var nilBus *EventBus
	assert.NotPanics(t, func() { nilBus.Publish(Event{Type: EventTypeReady}) })

	b := NewEventBus()
	called := false
	b.Subscribe(EventTypeReady, func(Event) { called = true })
	b.Clear()
	b.Publish(Event{Type: EventTypeReady})
	assert.False(t, called)
}
