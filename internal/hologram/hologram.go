// Package hologram renders generated images of a subject for the HUD
// projection stage.
package hologram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/jarvis/internal/live"
	"github.com/sjawhar/jarvis/internal/llm"
	"github.com/sjawhar/jarvis/internal/metrics"
	"github.com/sjawhar/jarvis/internal/theme"
)

const (
	ToolName        = "generate_hologram"
	ToolDescription = "Projects a 3D holographic visual. Use for physics schemas, molecules, or structural blueprints."
)

var ErrNoSubject = errors.New("hologram subject is required")

// Parameters is the JSON schema of the tool arguments.
func Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subject": map[string]any{"type": "string"},
		},
		"required": []string{"subject"},
	}
}

func Definition() llm.Tool {
	return llm.Tool{Name: ToolName, Description: ToolDescription, Parameters: Parameters()}
}

func LiveTool() live.Tool {
	return live.Tool{Name: ToolName, Description: ToolDescription, Parameters: Parameters()}
}

// Prompt builds the image prompt for subject in the theme's colour.
func Prompt(subject string, th theme.Theme) string {
	return fmt.Sprintf("3D holographic wireframe of %s, technical blueprint style, monochromatic %s lighting, glowing lines on black background.", subject, th.Primary)
}

// State is the current projection. ImageURL is empty while Loading.
type State struct {
	Subject  string `json:"subject"`
	ImageURL string `json:"image_url,omitempty"`
	Loading  bool   `json:"loading"`
}

type Observer interface {
	HologramChanged(state *State)
}

type Projector struct {
	images   llm.ImageGenerator
	observer Observer
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state *State
	seq   uint64
}

type Option func(*Projector)

func WithObserver(o Observer) Option {
	return func(p *Projector) { p.observer = o }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Projector) { p.metrics = m }
}

func NewProjector(images llm.ImageGenerator, opts ...Option) *Projector {
	p := &Projector{images: images}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project shows subject as loading, then replaces it with the generated
// image. On failure the projection is cleared and the error returned. A
// result that arrives after Clear or a newer Project is discarded.
func (p *Projector) Project(ctx context.Context, subject string, th theme.Theme) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrNoSubject
	}

	p.mu.Lock()
	p.seq++
	id := p.seq
	p.state = &State{Subject: subject, Loading: true}
	p.mu.Unlock()
	p.notify()

	start := time.Now()
	img, err := p.generate(ctx, subject, th)
	class := ""
	if err != nil {
		class = "projection"
	}
	p.metrics.RecordModelRequest("image", class, time.Since(start).Seconds())

	p.mu.Lock()
	if p.seq != id {
		p.mu.Unlock()
		return err
	}
	if err != nil {
		p.state = nil
	} else {
		p.state = &State{Subject: subject, ImageURL: img.DataURL()}
	}
	p.mu.Unlock()
	p.notify()

	if err != nil {
		slog.Warn("hologram projection failed", "subject", subject, "error", err)
		return fmt.Errorf("project %q: %w", subject, err)
	}
	return nil
}

func (p *Projector) generate(ctx context.Context, subject string, th theme.Theme) (*llm.Image, error) {
	if p.images == nil {
		return nil, errors.New("no image model configured")
	}
	img, err := p.images.GenerateImage(ctx, Prompt(subject, th))
	if err != nil {
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	if img.MIMEType == "" {
		img.MIMEType = "image/png"
	}
	return img, nil
}

// Clear closes the projection.
func (p *Projector) Clear() {
	p.mu.Lock()
	p.seq++
	changed := p.state != nil
	p.state = nil
	p.mu.Unlock()
	if changed {
		p.notify()
	}
}

// Current returns a copy of the projection, or nil when nothing is shown.
func (p *Projector) Current() *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil
	}
	s := *p.state
	return &s
}

func (p *Projector) notify() {
	if p.observer != nil {
		p.observer.HologramChanged(p.Current())
	}
}

// Tool binds a projector to the active theme so callers only pass a subject.
type Tool struct {
	projector *Projector
	theme     func() theme.Theme
}

func NewTool(p *Projector, current func() theme.Theme) *Tool {
	return &Tool{projector: p, theme: current}
}

func (t *Tool) Project(ctx context.Context, subject string) error {
	th := theme.Default()
	if t.theme != nil {
		th = t.theme()
	}
	return t.projector.Project(ctx, subject, th)
}
