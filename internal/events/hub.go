// Package events fans call lifecycle events out to bridge subscribers.
package events

import (
	"log/slog"
	"sync"

	"callkit-bridge/internal/callstate"
)

// Event names as seen by bridge clients.
const (
	NameIncomingCall = "incomingCall"
	NameAnswerCall   = "answerCall"
	NameEndCall      = "endCall"
	NameVoipToken    = "voipToken"
)

// Event is one frame on the bridge event stream.
type Event struct {
	Name string         `json:"event"`
	Args map[string]any `json:"args"`
}

const defaultBuffer = 64

// Hub is a non-blocking broadcaster. A subscriber whose buffer is full misses
// the event; publishers never wait on slow consumers.
type Hub struct {
	log    *slog.Logger
	buffer int

	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	token  string
	closed bool
}

func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log.With("component", "events"),
		buffer: buffer,
		subs:   make(map[uint64]chan Event),
	}
}

// Subscribe registers a new subscriber. The returned cancel func is safe to
// call more than once. If a push token is known it is delivered first.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	if h.token != "" {
		ch <- tokenEvent(h.token)
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.log.Warn("subscriber buffer full, event dropped", "subscriber", id, "event", e.Name)
		}
	}
}

// Notify adapts registry events; Hub is a callstate.Notifier.
func (h *Hub) Notify(e callstate.Event) {
	args := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		args[k] = v
	}
	args[callstate.KeySessionID] = e.CallID

	var name string
	switch e.Kind {
	case callstate.EventIncomingCall:
		name = NameIncomingCall
	case callstate.EventCallAccepted:
		name = NameAnswerCall
	case callstate.EventCallEnded:
		name = NameEndCall
		args["cause"] = string(e.Cause)
	default:
		h.log.Warn("unknown registry event", "kind", e.Kind, "call_id", e.CallID)
		return
	}
	h.Publish(Event{Name: name, Args: args})
}

// PublishToken records the latest push token and relays it.
func (h *Hub) PublishToken(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
	h.Publish(tokenEvent(token))
}

// Token returns the last token seen by PublishToken.
func (h *Hub) Token() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token, h.token != ""
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func tokenEvent(token string) Event {
	return Event{Name: NameVoipToken, Args: map[string]any{"voipToken": token}}
}
