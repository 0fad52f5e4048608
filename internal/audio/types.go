// Package audio mixes the ambient device loop and synthesized speech onto
// one playback sink.
package audio

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrDeviceNotFound = errors.New("audio device not found")
	ErrInvalidFormat  = errors.New("invalid audio format")
	ErrEmptyBuffer    = errors.New("audio buffer is empty")
)

// AudioFormat represents audio encoding format
type AudioFormat string

const (
	FormatWAV AudioFormat = "wav"
	FormatPCM AudioFormat = "pcm"
	FormatMP3 AudioFormat = "mp3"
)

// BusKind names one of the two mixer buses
type BusKind string

const (
	BusSpeech  BusKind = "speech"
	BusAmbient BusKind = "ambient"
)

// Default bus gains
const (
	DefaultSpeechGain  = 1.0
	DefaultAmbientGain = 0.25
)

// Buffer is decoded signed 16-bit little-endian interleaved PCM.
type Buffer struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Data) / (2 * b.Channels)
}

// Duration returns the playback length.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// PlayOptions configures a new source.
type PlayOptions struct {
	Bus  BusKind
	Loop bool
	Gain float64
}

// Sink turns buffers into playing sources. onEnded is called at most once,
// from any goroutine, when a source stops by itself. It is never called for
// a source that was disconnected.
type Sink interface {
	Start(buf *Buffer, opts PlayOptions, onEnded func()) (Source, error)
}

// Source is one playing buffer connected to a bus.
type Source interface {
	Disconnect()
	SetGain(gain float64)
}
