package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sjawhar/jarvis/internal/hologram"
	"github.com/sjawhar/jarvis/internal/live"
)

// VoiceSink routes a voice session's transcripts, notices and tool calls
// into the transcript of whoever is logged in.
type VoiceSink struct {
	service  *Service
	identity func() string
}

func NewVoiceSink(service *Service, identity func() string) *VoiceSink {
	return &VoiceSink{service: service, identity: identity}
}

func (v *VoiceSink) current() (string, bool) {
	id := ""
	if v.identity != nil {
		id = strings.TrimSpace(v.identity())
	}
	return id, id != ""
}

func (v *VoiceSink) AppendTranscript(user, jarvis string) {
	id, ok := v.current()
	if !ok {
		slog.Warn("dropping voice transcript with nobody logged in")
		return
	}
	if user != "" {
		if _, err := v.service.Append(id, Message{Role: RoleUser, Text: user}); err != nil {
			slog.Warn("append voice transcript", "error", err)
		}
	}
	if jarvis != "" {
		if _, err := v.service.Append(id, Message{Role: RoleJarvis, Text: jarvis}); err != nil {
			slog.Warn("append voice transcript", "error", err)
		}
	}
}

func (v *VoiceSink) AppendNotice(text string) {
	id, ok := v.current()
	if !ok {
		slog.Warn("dropping voice notice with nobody logged in", "notice", text)
		return
	}
	if _, err := v.service.Append(id, Message{Role: RoleJarvis, Text: text, IsError: true}); err != nil {
		slog.Warn("append voice notice", "error", err)
	}
}

// HandleToolCall serves hologram requests made over the voice link.
func (v *VoiceSink) HandleToolCall(ctx context.Context, call live.ToolCall) (string, error) {
	if call.Name != hologram.ToolName {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	subject, _ := call.Args["subject"].(string)
	id, ok := v.current()
	if !ok {
		return "", fmt.Errorf("no one is logged in")
	}
	if err := v.service.Project(ctx, id, subject); err != nil {
		return "", err
	}
	return fmt.Sprintf("Hologram of %s is now projected.", strings.TrimSpace(subject)), nil
}
