package server

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sjawhar/jarvis/internal/chat"
	"github.com/sjawhar/jarvis/internal/hologram"
	"github.com/sjawhar/jarvis/internal/profile"
	"github.com/sjawhar/jarvis/internal/session"
)

func nextEvent(t *testing.T, ch chan []byte) map[string]any {
	t.Helper()
	select {
	case msg := <-ch:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		return payload
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
		return nil
	}
}

func TestVoiceStateEventShape(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.VoiceStateChanged(session.State{Phase: session.PhaseActive, Connected: true, Listening: true})

	payload := nextEvent(t, ch)
	if payload["type"] != "voice_state" || payload["version"] == nil || payload["timestamp"] == nil {
		t.Fatalf("unexpected envelope %v", payload)
	}
	voice, ok := payload["voice"].(map[string]any)
	if !ok || voice["phase"] != "active" || voice["connected"] != true {
		t.Fatalf("unexpected voice payload %v", payload["voice"])
	}

	logEvent := nextEvent(t, ch)
	if logEvent["type"] != "log" || logEvent["line"] != "VOICE_UPLINK_ESTABLISHED" {
		t.Fatalf("unexpected log event %v", logEvent)
	}
}

func TestVoiceStateLogsOnlyPhaseChanges(t *testing.T) {
	hub := NewHub()

	hub.VoiceStateChanged(session.State{Phase: session.PhaseActive, Listening: true})
	hub.VoiceStateChanged(session.State{Phase: session.PhaseActive, Speaking: true})
	hub.VoiceStateChanged(session.State{Phase: session.PhaseIdle})

	logs := hub.Logs()
	if len(logs) != 2 || logs[0] != "VOICE_UPLINK_CLOSED" || logs[1] != "VOICE_UPLINK_ESTABLISHED" {
		t.Fatalf("unexpected logs %v", logs)
	}
}

func TestMessageEvent(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.MessageAppended("tony stark", chat.Message{ID: "m1", Role: chat.RoleUser, Text: "hello", Timestamp: time.Now()})

	payload := nextEvent(t, ch)
	if payload["type"] != "message" || payload["identity"] != "tony stark" {
		t.Fatalf("unexpected payload %v", payload)
	}
	msg, ok := payload["message"].(map[string]any)
	if !ok || msg["id"] != "m1" || msg["role"] != "user" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
}

func TestHologramAndProfileLogs(t *testing.T) {
	hub := NewHub()

	hub.HologramChanged(&hologram.State{Subject: "benzene", Loading: true})
	hub.HologramChanged(&hologram.State{Subject: "benzene", ImageURL: "data:image/png;base64,AA=="})
	hub.HologramChanged(nil)
	hub.ProfileChanged(&profile.User{Username: "tony stark"})
	hub.ProfileChanged(nil)

	want := []string{
		"UPLINK_TERMINATED",
		"AUTH_SUCCESS: tony stark",
		"PROJECTION_CLEARED",
		"PROJECTION_READY: benzene",
		"INIT_PROJECTION: benzene",
	}
	logs := hub.Logs()
	if len(logs) != len(want) {
		t.Fatalf("expected %d logs, got %v", len(want), logs)
	}
	for i := range want {
		if logs[i] != want[i] {
			t.Fatalf("log %d: expected %q, got %q", i, want[i], logs[i])
		}
	}
}

func TestLogCapacity(t *testing.T) {
	hub := NewHub()
	for i := 0; i < logCapacity+5; i++ {
		hub.Logf("line %d", i)
	}

	logs := hub.Logs()
	if len(logs) != logCapacity {
		t.Fatalf("expected %d logs, got %d", logCapacity, len(logs))
	}
	if logs[0] != fmt.Sprintf("line %d", logCapacity+4) {
		t.Fatalf("expected newest first, got %q", logs[0])
	}
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	for i := 0; i < cap(ch)+10; i++ {
		hub.Broadcast([]byte("x"))
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected full buffer, got %d", len(ch))
	}
}
