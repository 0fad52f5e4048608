// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// GenerateTestAudio generates a 16-bit PCM WAV holding a quiet 440 Hz tone
func GenerateTestAudio(t *testing.T, duration time.Duration, sampleRate, channels int) []byte {
	t.Helper()
	numSamples := int(duration.Seconds() * float64(sampleRate))
	dataSize := numSamples * channels * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))

	for i := 0; i < numSamples; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	return buf.Bytes()
}

// ChatService is a mock chat endpoint that records request bodies
type ChatService struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string
	release  chan struct{}
}

// Requests returns the text of every request received so far
func (s *ChatService) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Release unblocks requests held by a service created with hold=true
func (s *ChatService) Release() {
	close(s.release)
}

// CreateMockChatService answers every POST with reply in the chat
// completion shape. status != 200 makes every call fail. With hold set,
// responses wait for Release.
func CreateMockChatService(t *testing.T, reply string, status int, hold bool) *ChatService {
	t.Helper()
	s := &ChatService{release: make(chan struct{})}
	if !hold {
		close(s.release)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.requests = append(s.requests, body.Text)
		s.mu.Unlock()

		<-s.release

		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "unavailable"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": reply}},
			},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

// SpeechService is a mock synthesis endpoint
type SpeechService struct {
	*httptest.Server

	mu           sync.Mutex
	bodies       []string
	contentTypes []string
}

// Bodies returns every request payload
func (s *SpeechService) Bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

// ContentTypes returns every request content type
func (s *SpeechService) ContentTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.contentTypes...)
}

// CreateMockSpeechService returns audio for every POST, or fails with
// status when audio is nil.
func CreateMockSpeechService(t *testing.T, audio []byte, status int) *SpeechService {
	t.Helper()
	s := &SpeechService{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, string(data))
		s.contentTypes = append(s.contentTypes, r.Header.Get("Content-Type"))
		s.mu.Unlock()

		if audio == nil {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio)
	}))
	t.Cleanup(s.Close)
	return s
}
