package session

import (
	"context"
	"io"
	"time"

	"github.com/sjawhar/jarvis/internal/audio"
	"github.com/sjawhar/jarvis/internal/live"
)

// Input is an opened microphone.
type Input interface {
	audio.Source
	Close() error
}

// Output is an opened speaker with a playback clock.
type Output interface {
	audio.Output
	Close() error
}

// Transport is an open live voice session.
type Transport interface {
	Connected() bool
	SendAudio(live.Envelope) error
	SendText(text string) error
	SendToolResult(id, name, result string) error
	Close() error
}

type InputOpener func() (Input, error)

type OutputOpener func() (Output, error)

// Dialer connects the transport. Handlers may fire before Dialer returns.
type Dialer func(ctx context.Context, h live.Handlers) (Transport, error)

type Observer interface {
	VoiceStateChanged(State)
}

// ChatSink receives finalized voice turns and failure notices.
type ChatSink interface {
	AppendTranscript(user, jarvis string)
	AppendNotice(text string)
}

// ToolHandler runs a function call requested by the live model and returns
// its result text.
type ToolHandler interface {
	HandleToolCall(ctx context.Context, call live.ToolCall) (string, error)
}

type Recorder interface {
	io.Writer
	StartSession(sessionID string) error
	EndSession() (*audio.Recording, error)
}

type Store interface {
	CreateVoiceSession(id string, startedAt time.Time) error
	EndVoiceSession(id string, endedAt time.Time, audioPath string) error
}
