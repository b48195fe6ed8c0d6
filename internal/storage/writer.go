package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer exports rendered transcripts as one markdown file per identity.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write replaces the export for identity and returns its path.
func (w *Writer) Write(identity, markdown string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.Path(identity)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", path, err)
	}

	return path, nil
}

func (w *Writer) Path(identity string) string {
	return filepath.Join(w.dir, "chat-"+safeName(identity)+".md")
}

func safeName(identity string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(identity))
	name = strings.Trim(name, ".")
	if name == "" {
		return "anonymous"
	}
	return name
}
