// Package bridge connects the robot to the browser page that renders it.
//
// Messages are JSON objects {"type": ..., "data": ...} over a websocket.
// The page receives progress, readiness, input control, animation
// transitions and local speech requests, and reports user actions, page
// visibility, available voices and speech lifecycle events back.
package bridge

import (
	"encoding/json"

	"github.com/elfolz/robot/internal/speech"
)

// Outbound message types.
const (
	TypeProgress     = "progress"
	TypeReady        = "ready"
	TypeInput        = "input"
	TypeAnimation    = "animation"
	TypeSpeak        = "speak"
	TypeCancelSpeech = "cancelSpeech"
)

// Inbound message types.
const (
	TypeSubmit     = "submit"
	TypeVisibility = "visibility"
	TypeClick      = "click"
	TypeVoices     = "voices"
	TypeSpeech     = "speech"
)

// Message is one frame on the socket.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ProgressData carries the displayed percentage.
type ProgressData struct {
	Percent int `json:"percent"`
}

// SubmitData carries the text typed by the user.
type SubmitData struct {
	Text string `json:"text"`
}

// VisibilityData reports whether the page is hidden.
type VisibilityData struct {
	Hidden bool `json:"hidden"`
}

// VoicesData lists the browser's speech voices.
type VoicesData struct {
	Voices []speech.Voice `json:"voices"`
}

func encode(typ string, data interface{}) ([]byte, error) {
	msg := Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}
