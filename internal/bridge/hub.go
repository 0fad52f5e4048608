package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/conversation"
	"github.com/elfolz/robot/internal/loop"
	"github.com/elfolz/robot/internal/speech"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// ErrNoClients is returned when nothing is connected to receive a message.
var ErrNoClients = errors.New("no browser connected")

// Handlers receive user actions on the event loop. Nil fields are skipped.
type Handlers struct {
	Submit     func(text string)
	Visibility func(hidden bool)
	Click      func()
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hub) { h.logger = logger.With().Str("component", "bridge").Logger() }
}

// WithOriginCheck replaces the default allow-all origin check.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// AllowOrigins accepts upgrades whose Origin header is one of origins.
// Requests without an Origin header are not from a browser and pass.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSuffix(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Hub fans messages out to every connected page and feeds page events into
// the event loop. It is the progress display, the text input and the local
// speech engine of the robot.
type Hub struct {
	sched    loop.Scheduler
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.RWMutex
	clients  map[string]*client
	latest   map[string][]byte
	voices   []speech.Voice
	handlers Handlers
	onSpeech func(speech.Event)
}

// NewHub creates a hub.
func NewHub(sched loop.Scheduler, opts ...Option) *Hub {
	h := &Hub{
		sched: sched,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  zerolog.Nop(),
		clients: make(map[string]*client),
		latest:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetHandlers installs the user action handlers.
func (h *Hub) SetHandlers(handlers Handlers) {
	h.mu.Lock()
	h.handlers = handlers
	h.mu.Unlock()
}

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one page until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	// A late page catches up on the state it missed.
	for _, typ := range []string{TypeProgress, TypeReady, TypeInput, TypeAnimation} {
		if msg, ok := h.latest[typ]; ok {
			c.send <- msg
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Str("client", c.id).Int("clients", n).Msg("Page connected")

	go c.writePump()
	c.readPump()
}

// Broadcast sends a message to every page. Stateful types are remembered
// for pages that connect later.
func (h *Hub) Broadcast(typ string, data interface{}) error {
	msg, err := encode(typ, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch typ {
	case TypeProgress, TypeReady, TypeInput, TypeAnimation:
		h.latest[typ] = msg
	}
	if len(h.clients) == 0 {
		return ErrNoClients
	}
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().Str("client", id).Msg("Page too slow, dropping")
			h.drop(c)
		}
	}
	return nil
}

// SetProgress shows the load percentage.
func (h *Hub) SetProgress(percent int) {
	h.Broadcast(TypeProgress, ProgressData{Percent: percent})
}

// Ready tells pages that loading finished.
func (h *Hub) Ready() {
	h.Broadcast(TypeReady, nil)
}

// SetInputState updates the text input.
func (h *Hub) SetInputState(s conversation.InputState) {
	h.Broadcast(TypeInput, s)
}

// Transition mirrors an animation change so the page can play it.
func (h *Hub) Transition(t animation.Transition) {
	h.Broadcast(TypeAnimation, t)
}

// Voices returns the voices last reported by a page.
func (h *Hub) Voices() []speech.Voice {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]speech.Voice(nil), h.voices...)
}

// Speak asks the pages to say u with their local synthesizer.
func (h *Hub) Speak(u speech.Utterance) error {
	if err := h.Broadcast(TypeSpeak, u); err != nil {
		return fmt.Errorf("%w: %v", speech.ErrEngineUnavailable, err)
	}
	return nil
}

// Cancel stops local speech on every page.
func (h *Hub) Cancel() {
	h.Broadcast(TypeCancelSpeech, nil)
}

// SetEventHandler installs the receiver of page speech events.
func (h *Hub) SetEventHandler(fn func(speech.Event)) {
	h.mu.Lock()
	h.onSpeech = fn
	h.mu.Unlock()
}

// Close disconnects every page.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.drop(c)
	}
}

// drop must be called with mu held.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	h.drop(c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Str("client", c.id).Int("clients", n).Msg("Page disconnected")
}

func (h *Hub) dispatch(c *client, msg Message) {
	h.mu.RLock()
	handlers, onSpeech := h.handlers, h.onSpeech
	h.mu.RUnlock()

	switch msg.Type {
	case TypeSubmit:
		var d SubmitData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			h.badMessage(c, msg, err)
			return
		}
		if handlers.Submit != nil {
			h.sched.Post(func() { handlers.Submit(d.Text) })
		}
	case TypeVisibility:
		var d VisibilityData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			h.badMessage(c, msg, err)
			return
		}
		if handlers.Visibility != nil {
			h.sched.Post(func() { handlers.Visibility(d.Hidden) })
		}
	case TypeClick:
		if handlers.Click != nil {
			h.sched.Post(handlers.Click)
		}
	case TypeVoices:
		var d VoicesData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			h.badMessage(c, msg, err)
			return
		}
		h.mu.Lock()
		h.voices = d.Voices
		h.mu.Unlock()
		h.logger.Debug().Int("voices", len(d.Voices)).Msg("Voices updated")
	case TypeSpeech:
		var ev speech.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			h.badMessage(c, msg, err)
			return
		}
		if onSpeech != nil {
			onSpeech(ev)
		}
	default:
		h.logger.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Unknown message")
	}
}

func (h *Hub) badMessage(c *client, msg Message, err error) {
	h.logger.Warn().Err(err).Str("client", c.id).Str("type", msg.Type).Msg("Malformed message")
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("Read failed")
			}
			return
		}
		c.hub.dispatch(c, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
