// Package speech turns reply text into audible speech, preferring a remote
// natural voice and falling back to a local synthetic one.
package speech

import (
	"context"
	"errors"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/audio"
)

// Common errors
var (
	ErrEngineUnavailable = errors.New("speech engine unavailable")
	ErrEmptyAudio        = errors.New("synthesis returned no audio")
)

// State of the director.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateSpeaking   State = "speaking"
)

// Voice is one voice offered by a local engine.
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// VoiceProfile is the voice chosen for the session and its prosody.
type VoiceProfile struct {
	Name  string  `json:"name"`
	Lang  string  `json:"lang"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

// Utterance is one request to a local engine.
type Utterance struct {
	ID    uint64  `json:"id"`
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Lang  string  `json:"lang"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

// EventKind names an utterance lifecycle event.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventBoundary EventKind = "boundary"
	EventResume   EventKind = "resume"
	EventPause    EventKind = "pause"
	EventEnd      EventKind = "end"
	EventError    EventKind = "error"
)

// Event is a lifecycle notification from an engine. Utterance 0 applies to
// whatever is current.
type Event struct {
	Kind      EventKind `json:"kind"`
	Utterance uint64    `json:"utterance,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Engine is a local speech synthesizer. Events may be delivered on any
// goroutine.
type Engine interface {
	Voices() []Voice
	Speak(u Utterance) error
	Cancel()
	SetEventHandler(h func(Event))
}

// Synthesizer produces encoded audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Audio is the part of the mixer the director drives.
type Audio interface {
	StartAmbient()
	StopAmbient()
	PlaySpeech(buf *audio.Buffer, onEnded func()) error
}

// Animator is the part of the animation controller the director drives.
type Animator interface {
	CrossFadeTo(name string, mode animation.LoopMode)
	CrossFadeOnLoopBoundary(name string, mode animation.LoopMode)
	IsIdle() bool
	Idle() string
}
