// Package chat keeps per-identity transcripts and runs text turns against the
// chat model.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/jarvis/internal/hologram"
	"github.com/sjawhar/jarvis/internal/llm"
	"github.com/sjawhar/jarvis/internal/metrics"
)

const (
	Greeting      = "Systems online, Sir. Neural link recalibrated. Optical sensors and holographic projectors are on standby. How can I assist with your research today?"
	FallbackReply = "Calculations complete, Sir."

	DefaultHistoryWindow = 8
)

const SystemInstruction = `You are J.A.R.V.I.S. (Just A Rather Very Intelligent System), an elite AI with doctoral-level expertise in:
- Advanced Physics (Quantum Mechanics, Relativity)
- Mathematics (Topology, Complex Analysis)
- Engineering (Aerospace, VLSI, Robotics)

CORE DIRECTIVES:
1. INDEPENDENT ANALYSIS: Don't just answer; critique the user's approach and suggest optimizations.
2. 3D VISUALIZATION: Use the 'generate_hologram' tool to visualize components, chemical structures, or trajectories.
3. PERSONALITY: Professional, loyal, dry British wit. Address the user as 'Sir'.

If asked to model or visualize a physical object, use 'generate_hologram'.`

var (
	ErrEmptyMessage = errors.New("message text or image is required")
	ErrNoIdentity   = errors.New("no identity for transcript")
	ErrInvalidImage = errors.New("invalid image attachment")
)

// Store persists whole transcripts as opaque blobs.
type Store interface {
	GetTranscript(identity string) ([]byte, error)
	PutTranscript(identity string, payload []byte, updatedAt time.Time) error
}

// Projector renders a hologram for the active theme.
type Projector interface {
	Project(ctx context.Context, subject string) error
}

type Observer interface {
	MessageAppended(identity string, msg Message)
}

type Config struct {
	Store     Store
	Client    llm.Client
	Projector Projector
	Observer  Observer
	Metrics   *metrics.Metrics
	// Window is how many prior messages accompany a new turn.
	Window int
}

type Service struct {
	store     Store
	client    llm.Client
	projector Projector
	observer  Observer
	metrics   *metrics.Metrics
	window    int

	now   func() time.Time
	newID func() string

	// mu serializes read-modify-write of transcripts.
	mu sync.Mutex
}

func NewService(cfg Config) *Service {
	window := cfg.Window
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Service{
		store:     cfg.Store,
		client:    cfg.Client,
		projector: cfg.Projector,
		observer:  cfg.Observer,
		metrics:   cfg.Metrics,
		window:    window,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// History returns the transcript for identity, starting a new one with the
// greeting when nothing is stored.
func (s *Service) History(identity string) ([]Message, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, ErrNoIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(identity)
}

func (s *Service) historyLocked(identity string) ([]Message, error) {
	msgs, err := s.load(identity)
	if err != nil {
		return nil, err
	}
	if msgs != nil {
		return msgs, nil
	}

	msgs = []Message{{ID: "init", Role: RoleJarvis, Text: Greeting, Timestamp: s.now()}}
	if err := s.save(identity, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Service) load(identity string) ([]Message, error) {
	payload, err := s.store.GetTranscript(identity)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	if payload == nil {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal(payload, &msgs); err != nil {
		return nil, fmt.Errorf("decode transcript for %s: %w", identity, err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (s *Service) save(identity string, msgs []Message) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := s.store.PutTranscript(identity, payload, s.now()); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// Append stamps msg with an id and time if missing, stores it at the end
// of the transcript and notifies the observer.
func (s *Service) Append(identity string, msg Message) (Message, error) {
	if strings.TrimSpace(identity) == "" {
		return Message{}, ErrNoIdentity
	}
	msg = s.stamp(msg)

	s.mu.Lock()
	msgs, err := s.historyLocked(identity)
	if err == nil {
		err = s.save(identity, append(msgs, msg))
	}
	s.mu.Unlock()
	if err != nil {
		return Message{}, err
	}

	if s.observer != nil {
		s.observer.MessageAppended(identity, msg)
	}
	return msg, nil
}

func (s *Service) stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	return msg
}

// Send appends the user's turn, asks the model with the recent history, runs
// any hologram the model requested and appends the reply. Model failures are
// answered in-transcript with an error message rather than returned.
func (s *Service) Send(ctx context.Context, identity, text, image string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && image == "" {
		return Message{}, ErrEmptyMessage
	}
	if strings.TrimSpace(identity) == "" {
		return Message{}, ErrNoIdentity
	}

	var img *llm.Image
	if image != "" {
		parsed, err := llm.ParseDataURL(image)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		img = parsed
	}

	user := s.stamp(Message{Role: RoleUser, Text: text, Image: image})

	s.mu.Lock()
	msgs, err := s.historyLocked(identity)
	var prior []Message
	if err == nil {
		prior = tail(msgs, s.window)
		err = s.save(identity, append(msgs, user))
	}
	s.mu.Unlock()
	if err != nil {
		return Message{}, err
	}
	if s.observer != nil {
		s.observer.MessageAppended(identity, user)
	}

	req := llm.Request{
		System:   SystemInstruction,
		Messages: append(toLLM(prior), llm.Message{Role: "user", Content: text, Image: img}),
		Tools:    []llm.Tool{hologram.Definition()},
		Search:   true,
	}

	start := time.Now()
	resp, err := s.generate(ctx, req)
	if err != nil {
		class := Classify(err)
		s.metrics.RecordModelRequest("chat", string(class), time.Since(start).Seconds())
		slog.Warn("chat request failed", "identity", identity, "class", class, "error", err)
		return s.Append(identity, Message{Role: RoleJarvis, Text: class.Message(), IsError: true})
	}
	s.metrics.RecordModelRequest("chat", "", time.Since(start).Seconds())

	for _, call := range resp.ToolCalls {
		if call.Name != hologram.ToolName {
			slog.Debug("ignoring unknown tool call", "name", call.Name)
			continue
		}
		subject, _ := call.Args["subject"].(string)
		_ = s.Project(ctx, identity, subject)
	}

	reply := Message{Role: RoleJarvis, Text: resp.Text}
	if reply.Text == "" {
		reply.Text = FallbackReply
	}
	if len(resp.Images) > 0 {
		reply.Image = resp.Images[0].DataURL()
	}
	for _, c := range resp.Citations {
		reply.GroundingLinks = append(reply.GroundingLinks, GroundingLink{Title: c.Title, URI: c.URI})
	}
	return s.Append(identity, reply)
}

func (s *Service) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.client == nil {
		return nil, errors.New("no chat model configured")
	}
	return s.client.Generate(ctx, req)
}

// Project renders a hologram of subject. On failure the projection-failed
// message is appended to identity's transcript and the error returned.
func (s *Service) Project(ctx context.Context, identity, subject string) error {
	err := errors.New("no hologram projector configured")
	if s.projector != nil {
		err = s.projector.Project(ctx, subject)
	}
	if err == nil {
		return nil
	}
	if _, aerr := s.Append(identity, Message{Role: RoleJarvis, Text: ClassProjection.Message(), IsError: true}); aerr != nil {
		slog.Warn("append projection failure", "error", aerr)
	}
	return err
}

func tail(msgs []Message, n int) []Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]Message(nil), msgs...)
}

func toLLM(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		role := "assistant"
		if m.Role == RoleUser {
			role = "user"
		}
		out = append(out, llm.Message{Role: role, Content: m.Text})
	}
	return out
}

// Markdown renders the transcript for export.
func (s *Service) Markdown(identity string) (string, error) {
	msgs, err := s.History(identity)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# J.A.R.V.I.S. transcript: %s\n", identity)
	for _, m := range msgs {
		b.WriteString("\n")
		b.WriteString(m.FormatMarkdown())
	}
	return b.String(), nil
}
