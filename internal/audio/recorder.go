package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	wavHeaderSize = 44
	wavBitDepth   = 16
	wavChannels   = 1
)

// Recording describes a finished voice session capture.
type Recording struct {
	SessionID string
	Path      string
	Bytes     int64
	Seconds   float64
}

// Recorder writes the microphone side of each voice session to a WAV file.
// It is used as the capture tap; writes outside a session are discarded.
type Recorder struct {
	dir        string
	sampleRate int

	mu        sync.Mutex
	sessionID string
	path      string
	file      *os.File
	written   int64
}

func NewRecorder(dir string, sampleRate int) *Recorder {
	if dir == "" {
		dir = filepath.Join("data", "audio")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Recorder{dir: dir, sampleRate: sampleRate}
}

// StartSession opens <dir>/<sessionID>.wav, closing any session left open.
func (r *Recorder) StartSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}
	if r.file != nil {
		_ = r.finishLocked()
	}

	path := filepath.Join(r.dir, sessionID+".wav")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open wav file: %w", err)
	}
	if err := writeWAVHeader(f, 0, r.sampleRate); err != nil {
		_ = f.Close()
		return fmt.Errorf("write wav header: %w", err)
	}

	r.sessionID = sessionID
	r.path = path
	r.file = f
	r.written = 0
	return nil
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return len(p), nil
	}
	n, err := r.file.Write(p)
	r.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write wav payload: %w", err)
	}
	return n, nil
}

// EndSession finalizes the header and returns what was recorded. It returns
// a nil Recording when no session is open.
func (r *Recorder) EndSession() (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil, nil
	}
	rec := &Recording{
		SessionID: r.sessionID,
		Path:      r.path,
		Bytes:     r.written,
		Seconds:   float64(r.written) / float64(r.sampleRate*wavChannels*wavBitDepth/8),
	}
	if err := r.finishLocked(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Recorder) finishLocked() error {
	f := r.file
	size := r.written
	r.file = nil
	r.sessionID = ""
	r.path = ""
	r.written = 0

	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return fmt.Errorf("seek wav header: %w", err)
	}
	headerErr := writeWAVHeader(f, size, r.sampleRate)
	closeErr := f.Close()
	if err := errors.Join(headerErr, closeErr); err != nil {
		return fmt.Errorf("finalize wav file: %w", err)
	}
	return nil
}

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func writeWAVHeader(f *os.File, dataSize int64, sampleRate int) error {
	blockAlign := wavChannels * wavBitDepth / 8
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(wavHeaderSize - 8 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		Format:        1,
		Channels:      wavChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: wavBitDepth,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
	return binary.Write(f, binary.LittleEndian, &h)
}
