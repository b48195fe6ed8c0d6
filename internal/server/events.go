package server

import (
	"time"

	"github.com/sjawhar/jarvis/internal/chat"
	"github.com/sjawhar/jarvis/internal/hologram"
	"github.com/sjawhar/jarvis/internal/profile"
	"github.com/sjawhar/jarvis/internal/session"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

// VoiceStateEvent carries the state as a field: session.State has its own
// MarshalJSON, which would swallow the envelope if embedded.
type VoiceStateEvent struct {
	Event
	Voice session.State `json:"voice"`
}

type MessageEvent struct {
	Event
	Identity string       `json:"identity"`
	Message  chat.Message `json:"message"`
}

type HologramEvent struct {
	Event
	Hologram *hologram.State `json:"hologram"`
}

type ProfileEvent struct {
	Event
	User *profile.User `json:"user"`
}

type LogEvent struct {
	Event
	Line string `json:"line"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
