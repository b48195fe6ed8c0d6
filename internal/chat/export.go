package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sjawhar/jarvis/internal/storage"
)

type TranscriptLister interface {
	ListTranscripts() ([]storage.TranscriptInfo, error)
}

type MarkdownWriter interface {
	Write(identity, markdown string) (string, error)
}

// Uploader copies an exported file somewhere off the machine.
type Uploader interface {
	Sync(localPath, name string) error
}

// Exporter periodically renders changed transcripts to markdown files and
// optionally uploads them.
type Exporter struct {
	service  *Service
	lister   TranscriptLister
	writer   MarkdownWriter
	uploader Uploader
	interval time.Duration

	last map[string]time.Time
}

func NewExporter(service *Service, lister TranscriptLister, writer MarkdownWriter, uploader Uploader, interval time.Duration) *Exporter {
	return &Exporter{
		service:  service,
		lister:   lister,
		writer:   writer,
		uploader: uploader,
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// ExportOnce writes every transcript updated since the previous pass.
func (e *Exporter) ExportOnce() error {
	infos, err := e.lister.ListTranscripts()
	if err != nil {
		return fmt.Errorf("list transcripts: %w", err)
	}

	var errs []error
	for _, info := range infos {
		if prev, ok := e.last[info.Identity]; ok && !info.UpdatedAt.After(prev) {
			continue
		}
		md, err := e.service.Markdown(info.Identity)
		if err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", info.Identity, err))
			continue
		}
		path, err := e.writer.Write(info.Identity, md)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if e.uploader != nil {
			if err := e.uploader.Sync(path, info.Identity); err != nil {
				errs = append(errs, fmt.Errorf("upload %s: %w", info.Identity, err))
				continue
			}
		}
		e.last[info.Identity] = info.UpdatedAt
	}
	return errors.Join(errs...)
}

// Run exports on every tick until ctx is done. The caller runs the final
// pass once the voice session has flushed.
func (e *Exporter) Run(ctx context.Context) error {
	if e.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.ExportOnce(); err != nil {
				slog.Warn("transcript export failed", "error", err)
			}
		}
	}
}
