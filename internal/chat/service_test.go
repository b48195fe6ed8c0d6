package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/jarvis/internal/live"
	"github.com/sjawhar/jarvis/internal/llm"
	"github.com/sjawhar/jarvis/internal/storage"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	at   map[string]time.Time
	puts int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte), at: make(map[string]time.Time)}
}

func (m *memStore) GetTranscript(identity string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[identity], nil
}

func (m *memStore) PutTranscript(identity string, payload []byte, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[identity] = append([]byte(nil), payload...)
	m.at[identity] = updatedAt
	m.puts++
	return nil
}

func (m *memStore) ListTranscripts() ([]storage.TranscriptInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.TranscriptInfo
	for id, p := range m.data {
		out = append(out, storage.TranscriptInfo{Identity: id, UpdatedAt: m.at[id], Size: len(p)})
	}
	return out, nil
}

type clientStub struct {
	resp *llm.Response
	err  error
	reqs []llm.Request
}

func (c *clientStub) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.reqs = append(c.reqs, req)
	return c.resp, c.err
}

type projectorStub struct {
	err      error
	subjects []string
}

func (p *projectorStub) Project(ctx context.Context, subject string) error {
	p.subjects = append(p.subjects, subject)
	return p.err
}

type appendRecorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *appendRecorder) MessageAppended(identity string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func newTestService(store *memStore, client llm.Client, projector Projector, obs Observer) *Service {
	s := NewService(Config{Store: store, Client: client, Projector: projector, Observer: obs})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var n int
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	var ids int
	s.newID = func() string {
		ids++
		return fmt.Sprintf("m%d", ids)
	}
	return s
}

func TestHistoryStartsWithGreeting(t *testing.T) {
	store := newMemStore()
	s := newTestService(store, nil, nil, nil)

	msgs, err := s.History("tony")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != Greeting || msgs[0].Role != RoleJarvis {
		t.Fatalf("unexpected history %+v", msgs)
	}
	if store.data["tony"] == nil {
		t.Fatal("expected greeting to be persisted")
	}

	if _, err := s.History(" "); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestSendRejectsEmptyInput(t *testing.T) {
	client := &clientStub{}
	s := newTestService(newMemStore(), client, nil, nil)

	if _, err := s.Send(context.Background(), "tony", "   ", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := s.Send(context.Background(), "tony", "", "not-a-data-url"); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if len(client.reqs) != 0 {
		t.Fatal("no request should reach the model")
	}
}

func TestSendWindowsHistoryAndAppendsReply(t *testing.T) {
	store := newMemStore()
	client := &clientStub{resp: &llm.Response{
		Text:      "Indeed, Sir.",
		Citations: []llm.Citation{{Title: "Source", URI: "https://example.com"}},
	}}
	obs := &appendRecorder{}
	s := newTestService(store, client, nil, obs)

	for i := 0; i < 12; i++ {
		if _, err := s.Append("tony", Message{Role: RoleUser, Text: fmt.Sprintf("note %d", i)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	reply, err := s.Send(context.Background(), "tony", "  status? ", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply.Text != "Indeed, Sir." || reply.Role != RoleJarvis || reply.IsError {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if len(reply.GroundingLinks) != 1 || reply.GroundingLinks[0].URI != "https://example.com" {
		t.Fatalf("unexpected grounding links %+v", reply.GroundingLinks)
	}

	req := client.reqs[0]
	if len(req.Messages) != DefaultHistoryWindow+1 {
		t.Fatalf("expected %d messages, got %d", DefaultHistoryWindow+1, len(req.Messages))
	}
	if req.Messages[0].Content != "note 4" {
		t.Fatalf("expected window to start at note 4, got %q", req.Messages[0].Content)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "status?" {
		t.Fatalf("unexpected final message %+v", last)
	}
	if !req.Search || len(req.Tools) != 1 || req.Tools[0].Name != "generate_hologram" || req.System == "" {
		t.Fatalf("unexpected request options %+v", req)
	}

	msgs, _ := s.History("tony")
	if n := len(msgs); n != 1+12+2 {
		t.Fatalf("expected 15 stored messages, got %d", n)
	}
	if msgs[len(msgs)-2].Text != "status?" {
		t.Fatalf("expected user turn before reply, got %+v", msgs[len(msgs)-2])
	}
	if len(obs.msgs) != 14 {
		t.Fatalf("expected 14 observed appends, got %d", len(obs.msgs))
	}
}

func TestSendFallbackTextAndImage(t *testing.T) {
	client := &clientStub{resp: &llm.Response{Images: []llm.Image{{MIMEType: "image/png", Data: []byte{1, 2}}}}}
	s := newTestService(newMemStore(), client, nil, nil)

	img := (&llm.Image{MIMEType: "image/jpeg", Data: []byte{9}}).DataURL()
	reply, err := s.Send(context.Background(), "tony", "", img)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply.Text != FallbackReply {
		t.Fatalf("expected fallback text, got %q", reply.Text)
	}
	if !strings.HasPrefix(reply.Image, "data:image/png;base64,") {
		t.Fatalf("expected reply image, got %q", reply.Image)
	}
	sent := client.reqs[0].Messages
	if got := sent[len(sent)-1].Image; got == nil || got.MIMEType != "image/jpeg" {
		t.Fatalf("expected user image forwarded, got %+v", got)
	}
}

func TestSendModelFailureBecomesErrorMessage(t *testing.T) {
	client := &clientStub{err: errors.New("googleapi: Error 429: Resource has been exhausted (e.g. check quota)")}
	s := newTestService(newMemStore(), client, nil, nil)

	reply, err := s.Send(context.Background(), "tony", "hello", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !reply.IsError || reply.Text != ClassQuota.Message() {
		t.Fatalf("expected quota error message, got %+v", reply)
	}
}

func TestSendRunsHologramTool(t *testing.T) {
	client := &clientStub{resp: &llm.Response{
		Text:      "Projecting now, Sir.",
		ToolCalls: []llm.ToolCall{{Name: "generate_hologram", Args: map[string]any{"subject": "arc reactor"}}, {Name: "unknown"}},
	}}
	projector := &projectorStub{}
	s := newTestService(newMemStore(), client, projector, nil)

	if _, err := s.Send(context.Background(), "tony", "show me the reactor", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(projector.subjects) != 1 || projector.subjects[0] != "arc reactor" {
		t.Fatalf("unexpected projections %v", projector.subjects)
	}
}

func TestSendHologramFailurePostsNotice(t *testing.T) {
	client := &clientStub{resp: &llm.Response{
		ToolCalls: []llm.ToolCall{{Name: "generate_hologram", Args: map[string]any{"subject": "tesseract"}}},
	}}
	s := newTestService(newMemStore(), client, &projectorStub{err: errors.New("no image")}, nil)

	if _, err := s.Send(context.Background(), "tony", "show me", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msgs, _ := s.History("tony")
	failure := msgs[len(msgs)-2]
	if !failure.IsError || failure.Text != ClassProjection.Message() {
		t.Fatalf("expected projection failure before reply, got %+v", failure)
	}
	if msgs[len(msgs)-1].Text != FallbackReply {
		t.Fatalf("expected fallback reply last, got %+v", msgs[len(msgs)-1])
	}
}

func TestTranscriptStoredAsJSONBlob(t *testing.T) {
	store := newMemStore()
	s := newTestService(store, nil, nil, nil)

	if _, err := s.Append("tony", Message{Role: RoleUser, Text: "hello"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var stored []Message
	if err := json.Unmarshal(store.data["tony"], &stored); err != nil {
		t.Fatalf("stored payload is not a JSON transcript: %v", err)
	}
	if len(stored) != 2 || stored[1].Text != "hello" || stored[1].ID == "" {
		t.Fatalf("unexpected stored transcript %+v", stored)
	}
}

func TestMarkdownRendersTranscript(t *testing.T) {
	s := newTestService(newMemStore(), nil, nil, nil)
	_, _ = s.Append("tony", Message{Role: RoleUser, Text: "hello"})
	_, _ = s.Append("tony", Message{Role: RoleJarvis, Text: "Sir.", GroundingLinks: []GroundingLink{{Title: "A", URI: "https://a"}}})

	md, err := s.Markdown("tony")
	if err != nil {
		t.Fatalf("Markdown failed: %v", err)
	}
	for _, want := range []string{"# J.A.R.V.I.S. transcript: tony", "**You**", "hello", "- [A](https://a)"} {
		if !strings.Contains(md, want) {
			t.Fatalf("expected %q in markdown:\n%s", want, md)
		}
	}
}

func TestVoiceSinkRoutesToCurrentIdentity(t *testing.T) {
	s := newTestService(newMemStore(), nil, nil, nil)
	identity := "tony"
	sink := NewVoiceSink(s, func() string { return identity })

	sink.AppendTranscript("hello", "Good evening, Sir.")
	sink.AppendTranscript("", "")
	sink.AppendNotice("uplink lost")

	msgs, _ := s.History("tony")
	if len(msgs) != 4 {
		t.Fatalf("expected greeting plus 3 voice messages, got %d", len(msgs))
	}
	if msgs[1].Role != RoleUser || msgs[2].Role != RoleJarvis || !msgs[3].IsError {
		t.Fatalf("unexpected voice messages %+v", msgs[1:])
	}

	identity = ""
	sink.AppendNotice("dropped")
	msgs, _ = s.History("tony")
	if len(msgs) != 4 {
		t.Fatal("notice with nobody logged in should be dropped")
	}
}

func TestVoiceSinkToolCall(t *testing.T) {
	projector := &projectorStub{}
	s := newTestService(newMemStore(), nil, projector, nil)
	sink := NewVoiceSink(s, func() string { return "tony" })

	out, err := sink.HandleToolCall(context.Background(), live.ToolCall{Name: "generate_hologram", Args: map[string]any{"subject": "mark 42"}})
	if err != nil {
		t.Fatalf("HandleToolCall failed: %v", err)
	}
	if !strings.Contains(out, "mark 42") {
		t.Fatalf("unexpected tool output %q", out)
	}

	if _, err := sink.HandleToolCall(context.Background(), live.ToolCall{Name: "self_destruct"}); err == nil {
		t.Fatal("expected unknown tool error")
	}

	projector.err = errors.New("boom")
	if _, err := sink.HandleToolCall(context.Background(), live.ToolCall{Name: "generate_hologram", Args: map[string]any{"subject": "x"}}); err == nil {
		t.Fatal("expected projection error")
	}
	msgs, _ := s.History("tony")
	if last := msgs[len(msgs)-1]; last.Text != ClassProjection.Message() {
		t.Fatalf("expected projection failure notice, got %+v", last)
	}
}
