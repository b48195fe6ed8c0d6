// Package live is a client for the Gemini Live bidirectional voice session
// (BidiGenerateContent). Audio travels as base64 PCM envelopes in JSON frames;
// inbound frames are surfaced through callbacks in arrival order.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	readLimit    = 16 << 20
	writeTimeout = 10 * time.Second

	apiKeyHeader = "x-goog-api-key"
)

var (
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ErrClosed is returned by send methods once the session has been closed.
var ErrClosed = errors.New("live: session closed")

// Envelope is a text-safe audio chunk plus the MIME tag naming its encoding
// and sample rate.
type Envelope struct {
	MIMEType string
	Data     string
}

type Kind int

const (
	KindAudio Kind = iota + 1
	KindInputTranscript
	KindOutputTranscript
	KindTurnComplete
	KindInterrupted
	KindToolCall
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindInputTranscript:
		return "input_transcript"
	case KindOutputTranscript:
		return "output_transcript"
	case KindTurnComplete:
		return "turn_complete"
	case KindInterrupted:
		return "interrupted"
	case KindToolCall:
		return "tool_call"
	default:
		return "unknown"
	}
}

type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is one inbound event. Exactly one of Audio, Text or ToolCalls is
// meaningful, depending on Kind.
type Message struct {
	Kind      Kind
	Audio     Envelope
	Text      string
	ToolCalls []ToolCall
}

// Handlers are invoked from the client's receive goroutine, one at a time.
// OnClose fires exactly once, after OnError when the session failed.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Message)
	OnError   func(error)
	OnClose   func()
}

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	Instructions string
	Voice        string
	Tools        []Tool
}

// Client is an open live session.
type Client struct {
	conn     *websocket.Conn
	handlers Handlers

	ctx    context.Context
	cancel context.CancelFunc

	keepalive   time.Duration
	pingTimeout time.Duration

	open      atomic.Bool
	mu        sync.Mutex
	closed    bool
	pingErr   error
	closeOnce sync.Once
}

// Dial connects, sends the setup frame and starts receiving. OnOpen fires
// when the server acknowledges the setup.
func Dial(ctx context.Context, cfg Config, h Handlers) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") +
		"/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// The key travels as a header so it never appears in URL-bearing errors.
	header := http.Header{"Content-Type": []string{"application/json"}}
	if cfg.APIKey != "" {
		header.Set(apiKeyHeader, cfg.APIKey)
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:        conn,
		handlers:    h,
		ctx:         sessCtx,
		cancel:      cancel,
		keepalive:   keepaliveInterval,
		pingTimeout: keepaliveTimeout,
	}

	if err := c.writeJSON(newSetup(cfg)); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("live: setup: %w", err)
	}

	go c.receiveLoop()
	go c.keepaliveLoop()

	return c, nil
}

func newSetup(cfg Config) setupMessage {
	msg := setupMessage{Setup: setupConfig{
		Model:                    "models/" + strings.TrimPrefix(cfg.Model, "models/"),
		GenerationConfig:         generationConfig{ResponseModalities: []string{"AUDIO"}},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		msg.Setup.GenerationConfig.SpeechConfig = sc
	}
	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		msg.Setup.Tools = []toolDecl{{FunctionDeclarations: decls}}
	}
	return msg
}

// Connected reports whether setup completed and the session is not closed.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.open.Load()
}

// SendAudio streams one captured envelope to the model.
func (c *Client) SendAudio(env Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	var msg realtimeInputMessage
	msg.RealtimeInput.MediaChunks = []inlineData{{MIMEType: env.MIMEType, Data: env.Data}}
	return c.writeJSON(msg)
}

// SendText injects a completed user text turn.
func (c *Client) SendText(text string) error {
	if c.isClosed() {
		return ErrClosed
	}
	var msg clientContentMessage
	msg.ClientContent.Turns = []content{{Role: "user", Parts: []part{{Text: text}}}}
	msg.ClientContent.TurnComplete = true
	return c.writeJSON(msg)
}

// SendToolResult answers a tool call. A result that is not a JSON object is
// wrapped as {"output": result}.
func (c *Client) SendToolResult(id, name, result string) error {
	if c.isClosed() {
		return ErrClosed
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(result), &resp); err != nil || resp == nil {
		resp = map[string]any{"output": result}
	}

	var msg toolResponseMessage
	msg.ToolResponse.FunctionResponses = []functionResponse{{ID: id, Name: name, Response: resp}}
	return c.writeJSON(msg)
}

// Close ends the session. Idempotent; OnClose fires once the receive loop
// has exited.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("live: write: %w", err)
	}
	return nil
}

func (c *Client) receiveLoop() {
	defer c.fireClose()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			pingErr := c.pingErr
			c.mu.Unlock()
			if pingErr != nil {
				c.fireError(fmt.Errorf("live: keepalive: %w", pingErr))
				return
			}
			if c.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			c.fireError(fmt.Errorf("live: read: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("live: skipping malformed frame", "error", err)
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *serverMessage) {
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		c.fireError(fmt.Errorf("live: server error %d: %s", msg.Error.Code, text))
	}

	if msg.SetupComplete != nil && c.open.CompareAndSwap(false, true) {
		if c.handlers.OnOpen != nil {
			c.handlers.OnOpen()
		}
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			c.emit(Message{Kind: KindInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					c.emit(Message{Kind: KindAudio, Audio: Envelope{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}})
				}
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			c.emit(Message{Kind: KindInputTranscript, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			c.emit(Message{Kind: KindOutputTranscript, Text: sc.OutputTranscription.Text})
		}
		if sc.TurnComplete {
			c.emit(Message{Kind: KindTurnComplete})
		}
	}

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		calls := make([]ToolCall, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			calls = append(calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		c.emit(Message{Kind: KindToolCall, ToolCalls: calls})
	}
}

func (c *Client) emit(m Message) {
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(m)
	}
}

func (c *Client) fireError(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

func (c *Client) fireClose() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		_ = c.conn.CloseNow()
		if c.handlers.OnClose != nil {
			c.handlers.OnClose()
		}
	})
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.pingTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil && c.ctx.Err() == nil {
				// The receive loop reports this once the conn is torn down.
				c.mu.Lock()
				c.pingErr = err
				c.mu.Unlock()
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}
