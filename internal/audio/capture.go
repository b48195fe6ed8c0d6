package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/sjawhar/jarvis/internal/live"
	"github.com/sjawhar/jarvis/internal/metrics"
	"github.com/sjawhar/jarvis/internal/pcm"
)

// Source yields fixed-size mono blocks of float samples from an input device.
type Source interface {
	ReadBlock(ctx context.Context) ([]float32, error)
}

// Sender is the slice of the live transport the capture loop needs.
type Sender interface {
	Connected() bool
	SendAudio(live.Envelope) error
}

// Capture forwards microphone blocks to the transport as they arrive. Blocks
// produced while the transport is not connected are dropped, never queued.
type Capture struct {
	source     Source
	sender     Sender
	sampleRate int
	tap        io.Writer
	metrics    *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type CaptureOption func(*Capture)

// WithTap copies the PCM16 bytes of every sent block to w.
func WithTap(w io.Writer) CaptureOption {
	return func(c *Capture) { c.tap = w }
}

func WithCaptureMetrics(m *metrics.Metrics) CaptureOption {
	return func(c *Capture) { c.metrics = m }
}

func NewCapture(source Source, sender Sender, sampleRate int, opts ...CaptureOption) *Capture {
	c := &Capture{source: source, sender: sender, sampleRate: sampleRate}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the block loop in the background until Stop or ctx cancellation.
func (c *Capture) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		c.Run(ctx)
	}(c.done)
}

// Run reads blocks until ctx is done or the source fails.
func (c *Capture) Run(ctx context.Context) {
	mime := pcm.MIMEType(c.sampleRate)
	for {
		block, err := c.source.ReadBlock(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				slog.Warn("capture read failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.forward(block, mime)
	}
}

func (c *Capture) forward(block []float32, mime string) {
	if c.sender == nil || !c.sender.Connected() {
		c.metrics.RecordBlockDropped()
		return
	}

	raw := pcm.FloatToPCM16(block)
	if err := c.sender.SendAudio(live.Envelope{MIMEType: mime, Data: pcm.Encode(raw)}); err != nil {
		c.metrics.RecordSendError()
		slog.Debug("capture send failed", "error", err)
		return
	}
	c.metrics.RecordBlockSent()

	if c.tap != nil {
		if _, err := c.tap.Write(raw); err != nil {
			slog.Warn("capture tap write failed", "error", err)
		}
	}
}

// Stop detaches the loop and waits for it to exit. After Stop returns no
// further block reaches the sender, so the device can be released.
func (c *Capture) Stop() {
	c.Detach()()
}

// Detach cancels the loop without waiting: no new block is read or sent
// after it returns. A send already in flight may still be blocked; the
// returned wait blocks until the loop has exited.
func (c *Capture) Detach() (wait func()) {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return func() {}
	}
	cancel()
	return func() { <-done }
}
