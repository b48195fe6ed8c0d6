package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sjawhar/jarvis/internal/chat"
	"github.com/sjawhar/jarvis/internal/hologram"
	"github.com/sjawhar/jarvis/internal/profile"
	"github.com/sjawhar/jarvis/internal/session"
)

// logCapacity bounds the activity log kept for late subscribers.
const logCapacity = 20

// Hub fans events out to websocket subscribers. It implements the observer
// interfaces of the voice, chat, hologram and profile packages.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}

	logMu     sync.Mutex
	logs      []string
	lastPhase session.Phase
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) VoiceStateChanged(state session.State) {
	h.broadcastEvent(VoiceStateEvent{
		Event: newEvent("voice_state", time.Now().UTC()),
		Voice: state,
	})

	h.logMu.Lock()
	changed := state.Phase != h.lastPhase
	h.lastPhase = state.Phase
	h.logMu.Unlock()
	if !changed {
		return
	}
	switch state.Phase {
	case session.PhaseActive:
		h.Logf("VOICE_UPLINK_ESTABLISHED")
	case session.PhaseIdle:
		h.Logf("VOICE_UPLINK_CLOSED")
	}
}

func (h *Hub) MessageAppended(identity string, msg chat.Message) {
	h.broadcastEvent(MessageEvent{
		Event:    newEvent("message", msg.Timestamp),
		Identity: identity,
		Message:  msg,
	})
}

func (h *Hub) HologramChanged(state *hologram.State) {
	h.broadcastEvent(HologramEvent{
		Event:    newEvent("hologram", time.Now().UTC()),
		Hologram: state,
	})
	switch {
	case state == nil:
		h.Logf("PROJECTION_CLEARED")
	case state.Loading:
		h.Logf("INIT_PROJECTION: %s", state.Subject)
	default:
		h.Logf("PROJECTION_READY: %s", state.Subject)
	}
}

func (h *Hub) ProfileChanged(user *profile.User) {
	h.broadcastEvent(ProfileEvent{
		Event: newEvent("profile", time.Now().UTC()),
		User:  user,
	})
	if user == nil {
		h.Logf("UPLINK_TERMINATED")
	} else {
		h.Logf("AUTH_SUCCESS: %s", user.Username)
	}
}

// Logf records an activity line and broadcasts it.
func (h *Hub) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)

	h.logMu.Lock()
	h.logs = append([]string{line}, h.logs...)
	if len(h.logs) > logCapacity {
		h.logs = h.logs[:logCapacity]
	}
	h.logMu.Unlock()

	h.broadcastEvent(LogEvent{Event: newEvent("log", time.Now().UTC()), Line: line})
}

// Logs returns the most recent activity lines, newest first.
func (h *Hub) Logs() []string {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	return append([]string{}, h.logs...)
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
