package conversation

import (
	"sync"
	"time"
)

// Exchange represents a user-assistant conversation turn.
type Exchange struct {
	UserText      string    `json:"userText"`
	AssistantText string    `json:"assistantText"`
	Timestamp     time.Time `json:"timestamp"`
}

// History keeps the most recent exchanges in memory for the session.
type History struct {
	mu        sync.RWMutex
	exchanges []Exchange
	max       int
}

// NewHistory creates a history holding up to max exchanges (default: 10).
func NewHistory(max int) *History {
	if max <= 0 {
		max = 10
	}
	return &History{exchanges: make([]Exchange, 0, max), max: max}
}

// AddExchange records a user/assistant exchange pair.
func (h *History) AddExchange(userText, assistantText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.exchanges = append(h.exchanges, Exchange{
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     time.Now(),
	})
	if len(h.exchanges) > h.max {
		h.exchanges = h.exchanges[len(h.exchanges)-h.max:]
	}
}

// Recent returns up to n of the newest exchanges, oldest first. n <= 0
// returns all.
func (h *History) Recent(n int) []Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.exchanges) {
		n = len(h.exchanges)
	}
	out := make([]Exchange, n)
	copy(out, h.exchanges[len(h.exchanges)-n:])
	return out
}

// Len returns the number of stored exchanges.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.exchanges)
}
