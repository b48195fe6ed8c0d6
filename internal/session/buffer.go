package session

import (
	"strings"
	"sync"
)

// TranscriptBuffer accumulates input and output transcription fragments
// until the model signals turn complete.
type TranscriptBuffer struct {
	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
}

func NewTranscriptBuffer() *TranscriptBuffer {
	return &TranscriptBuffer{}
}

func (b *TranscriptBuffer) AddInput(fragment string) {
	b.mu.Lock()
	b.input.WriteString(fragment)
	b.mu.Unlock()
}

func (b *TranscriptBuffer) AddOutput(fragment string) {
	b.mu.Lock()
	b.output.WriteString(fragment)
	b.mu.Unlock()
}

// Flush returns the trimmed user and model text and resets the buffer.
func (b *TranscriptBuffer) Flush() (user, jarvis string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	user = strings.TrimSpace(b.input.String())
	jarvis = strings.TrimSpace(b.output.String())
	b.input.Reset()
	b.output.Reset()
	return user, jarvis
}

// Len is the number of buffered bytes across both sides.
func (b *TranscriptBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.input.Len() + b.output.Len()
}
