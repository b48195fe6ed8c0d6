package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/jarvis/internal/audio"
	"github.com/sjawhar/jarvis/internal/live"
	"github.com/sjawhar/jarvis/internal/metrics"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// State is the indicator view of the voice session.
type State struct {
	Phase     Phase `json:"-"`
	Connected bool  `json:"connected"`
	Listening bool  `json:"listening"`
	Speaking  bool  `json:"speaking"`
}

func (s State) MarshalJSON() ([]byte, error) {
	type plain State
	return json.Marshal(struct {
		plain
		Phase string `json:"phase"`
	}{plain: plain(s), Phase: s.Phase.String()})
}

type Config struct {
	OpenInput  InputOpener
	OpenOutput OutputOpener
	Dial       Dialer

	CaptureRate  int
	PlaybackRate int

	Sink     ChatSink
	Observer Observer
	Tools    ToolHandler
	Recorder Recorder
	Store    Store
	Metrics  *metrics.Metrics
}

// Controller owns the voice session lifecycle:
// Idle -> Connecting -> Active -> Closing -> Idle.
type Controller struct {
	cfg    Config
	buffer *TranscriptBuffer

	mu          sync.Mutex
	phase       Phase
	gen         uint64
	connected   bool
	listening   bool
	speaking    bool
	openPending bool
	failure     error

	ctx        context.Context
	cancel     context.CancelFunc
	input      Input
	output     Output
	scheduler  *audio.Scheduler
	transport  Transport
	capture    *audio.Capture
	sessionID  string
	startedAt  time.Time
	activeOnce bool

	emitMu sync.Mutex
}

func NewController(cfg Config) *Controller {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = 16000
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = audio.DefaultPlaybackRate
	}
	return &Controller{cfg: cfg, buffer: NewTranscriptBuffer()}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{Phase: c.phase, Connected: c.connected, Listening: c.listening, Speaking: c.speaking}
}

func (c *Controller) emit() {
	if c.cfg.Observer == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.cfg.Observer.VoiceStateChanged(c.State())
}

// Start opens the output device, the microphone and the transport, in that
// order. Any failure releases what was acquired, posts one notice and
// returns the controller to Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.phase = PhaseConnecting
	c.gen++
	gen := c.gen
	c.failure = nil
	c.openPending = false
	c.activeOnce = false
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()
	c.emit()

	out, err := c.cfg.OpenOutput()
	if err != nil {
		c.abortStart(gen, deviceNotice)
		return fmt.Errorf("open output device: %w", err)
	}
	if !c.attach(gen, func() { c.output = out }) {
		_ = out.Close()
		return ErrAborted
	}

	in, err := c.cfg.OpenInput()
	if err != nil {
		c.abortStart(gen, deviceNotice)
		return fmt.Errorf("open input device: %w", err)
	}
	if !c.attach(gen, func() { c.input = in }) {
		_ = in.Close()
		return ErrAborted
	}

	sched := audio.NewScheduler(out,
		audio.WithPlaybackRate(c.cfg.PlaybackRate),
		audio.WithSchedulerMetrics(c.cfg.Metrics),
		audio.WithSpeakingObserver(func(v bool) { c.setSpeaking(gen, v) }),
	)
	if !c.attach(gen, func() { c.scheduler = sched }) {
		return ErrAborted
	}

	transport, err := c.cfg.Dial(ctx, c.handlers(gen))
	if err != nil {
		slog.Warn("voice transport dial failed", "error", err)
		c.abortStart(gen, transportNotice)
		return fmt.Errorf("dial voice transport: %w", err)
	}

	var openNow bool
	if !c.attach(gen, func() {
		c.transport = transport
		openNow = c.openPending
	}) {
		_ = transport.Close()
		return ErrAborted
	}
	if openNow {
		c.activate(gen)
	}
	return nil
}

// attach runs set under the lock if the attempt identified by gen is still
// current.
func (c *Controller) attach(gen uint64, set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.phase != PhaseConnecting {
		return false
	}
	set()
	return true
}

func (c *Controller) abortStart(gen uint64, notice string) {
	c.cfg.Metrics.RecordSessionStarted("failed")
	c.shutdown(gen, notice)
}

func (c *Controller) handlers(gen uint64) live.Handlers {
	return live.Handlers{
		OnOpen: func() {
			c.mu.Lock()
			if c.gen != gen || c.phase != PhaseConnecting {
				c.mu.Unlock()
				return
			}
			if c.transport == nil {
				c.openPending = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			c.activate(gen)
		},
		OnMessage: func(m live.Message) { c.handleMessage(gen, m) },
		OnError: func(err error) {
			slog.Warn("voice transport error", "error", err)
			c.mu.Lock()
			if c.gen == gen && c.failure == nil {
				c.failure = err
			}
			c.mu.Unlock()
		},
		OnClose: func() {
			c.mu.Lock()
			failed := c.gen == gen && c.failure != nil
			c.mu.Unlock()

			notice := ""
			if failed {
				notice = transportNotice
			}
			c.shutdown(gen, notice)
		},
	}
}

func (c *Controller) activate(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseConnecting || c.transport == nil {
		c.mu.Unlock()
		return
	}

	sessionID := uuid.NewString()
	opts := []audio.CaptureOption{audio.WithCaptureMetrics(c.cfg.Metrics)}
	if c.cfg.Recorder != nil {
		if err := c.cfg.Recorder.StartSession(sessionID); err != nil {
			slog.Warn("voice recorder start failed", "session", sessionID, "error", err)
		} else {
			opts = append(opts, audio.WithTap(c.cfg.Recorder))
		}
	}

	capture := audio.NewCapture(c.input, c.transport, c.cfg.CaptureRate, opts...)
	capture.Start(c.ctx)

	c.capture = capture
	c.sessionID = sessionID
	c.startedAt = time.Now().UTC()
	c.phase = PhaseActive
	c.connected = true
	c.listening = true
	c.activeOnce = true
	c.openPending = false
	startedAt := c.startedAt
	c.mu.Unlock()

	c.cfg.Metrics.RecordSessionStarted("active")
	if c.cfg.Store != nil {
		if err := c.cfg.Store.CreateVoiceSession(sessionID, startedAt); err != nil {
			slog.Warn("record voice session failed", "session", sessionID, "error", err)
		}
	}
	slog.Info("voice session active", "session", sessionID)
	c.emit()
}

func (c *Controller) handleMessage(gen uint64, m live.Message) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	sched := c.scheduler
	transport := c.transport
	ctx := c.ctx
	c.mu.Unlock()

	switch m.Kind {
	case live.KindAudio:
		if sched == nil {
			return
		}
		if _, err := sched.Enqueue(m.Audio.Data); err != nil {
			slog.Warn("dropping inbound audio chunk", "error", err)
		}
	case live.KindInputTranscript:
		c.buffer.AddInput(m.Text)
	case live.KindOutputTranscript:
		c.buffer.AddOutput(m.Text)
	case live.KindTurnComplete:
		c.flushTranscript()
		if sched != nil {
			sched.TurnComplete()
		}
	case live.KindInterrupted:
		if sched != nil {
			sched.Interrupt()
		}
	case live.KindToolCall:
		for _, call := range m.ToolCalls {
			go c.runTool(ctx, transport, call)
		}
	}
}

func (c *Controller) runTool(ctx context.Context, transport Transport, call live.ToolCall) {
	if transport == nil {
		return
	}

	var result string
	if c.cfg.Tools == nil {
		result = `{"error":"no tools available"}`
	} else {
		out, err := c.cfg.Tools.HandleToolCall(ctx, call)
		if err != nil {
			slog.Warn("voice tool call failed", "tool", call.Name, "error", err)
			data, _ := json.Marshal(map[string]string{"error": err.Error()})
			out = string(data)
		}
		result = out
	}

	if ctx.Err() != nil {
		return
	}
	if err := transport.SendToolResult(call.ID, call.Name, result); err != nil && !errors.Is(err, live.ErrClosed) {
		slog.Warn("send tool result failed", "tool", call.Name, "error", err)
	}
}

func (c *Controller) flushTranscript() {
	user, jarvis := c.buffer.Flush()
	if user == "" && jarvis == "" {
		return
	}
	if c.cfg.Sink != nil {
		c.cfg.Sink.AppendTranscript(user, jarvis)
	}
}

func (c *Controller) setSpeaking(gen uint64, v bool) {
	c.mu.Lock()
	if c.gen != gen || c.speaking == v {
		c.mu.Unlock()
		return
	}
	if v && c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	c.speaking = v
	c.mu.Unlock()
	c.emit()
}

// SendText injects a typed user turn into the active voice session.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	transport := c.transport
	active := c.phase == PhaseActive
	c.mu.Unlock()

	if !active || transport == nil {
		return ErrNotActive
	}
	if err := transport.SendText(text); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// Stop ends the session. It is a no-op when idle or already closing and
// safe to call concurrently.
func (c *Controller) Stop() error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.shutdown(gen, "")
	return nil
}

// shutdown tears down the session identified by gen: capture is detached
// before the transport closes and has exited before the devices are
// released. Playback is silenced in between.
func (c *Controller) shutdown(gen uint64, notice string) {
	c.mu.Lock()
	if c.gen != gen || c.phase == PhaseIdle || c.phase == PhaseClosing {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseClosing
	c.gen++
	cancel := c.cancel
	capture, transport, sched := c.capture, c.transport, c.scheduler
	input, output := c.input, c.output
	sessionID, startedAt, wasActive := c.sessionID, c.startedAt, c.activeOnce
	c.capture, c.transport, c.scheduler = nil, nil, nil
	c.input, c.output = nil, nil
	c.sessionID = ""
	c.mu.Unlock()
	c.emit()

	// Detaching first means no new block is sent; closing the transport
	// then unblocks a send stuck on a stalled socket before we wait.
	waitCapture := func() {}
	if capture != nil {
		waitCapture = capture.Detach()
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			slog.Warn("close voice transport failed", "error", err)
		}
	}
	waitCapture()
	if cancel != nil {
		cancel()
	}
	if sched != nil {
		sched.Interrupt()
	}
	if input != nil {
		if err := input.Close(); err != nil {
			slog.Warn("release input device failed", "error", err)
		}
	}
	if output != nil {
		if err := output.Close(); err != nil {
			slog.Warn("release output device failed", "error", err)
		}
	}

	c.flushTranscript()
	if wasActive {
		c.finishRecord(sessionID, startedAt)
	}
	if notice != "" && c.cfg.Sink != nil {
		c.cfg.Sink.AppendNotice(notice)
	}

	c.mu.Lock()
	c.phase = PhaseIdle
	c.connected = false
	c.listening = false
	c.speaking = false
	c.openPending = false
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) finishRecord(sessionID string, startedAt time.Time) {
	endedAt := time.Now().UTC()
	c.cfg.Metrics.RecordSessionEnded(endedAt.Sub(startedAt).Seconds())

	audioPath := ""
	if c.cfg.Recorder != nil {
		rec, err := c.cfg.Recorder.EndSession()
		if err != nil {
			slog.Warn("voice recorder end failed", "session", sessionID, "error", err)
		} else if rec != nil {
			audioPath = rec.Path
		}
	}
	if c.cfg.Store != nil {
		if err := c.cfg.Store.EndVoiceSession(sessionID, endedAt, audioPath); err != nil {
			slog.Warn("close voice session record failed", "session", sessionID, "error", err)
		}
	}
	slog.Info("voice session ended", "session", sessionID, "duration", endedAt.Sub(startedAt))
}
