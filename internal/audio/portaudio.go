package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Init initializes PortAudio and returns the matching terminate func.
func Init() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// PortAudioSource reads mono float blocks from the default input device.
type PortAudioSource struct {
	stream *portaudio.Stream
	buf    []float32

	mu     sync.Mutex
	closed bool
}

// OpenSource opens and starts the default input device. Failure here is how
// a missing device or a denied microphone permission surfaces.
func OpenSource(sampleRate, blockSize int) (*PortAudioSource, error) {
	buf := make([]float32, blockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), blockSize, buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &PortAudioSource{stream: stream, buf: buf}, nil
}

func (s *PortAudioSource) ReadBlock(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("input stream closed")
	}
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("read input stream: %w", err)
	}

	block := make([]float32, len(s.buf))
	copy(block, s.buf)
	return block, nil
}

// Close stops and releases the device. Safe to call more than once.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	stopErr := s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("close input stream: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("stop input stream: %w", stopErr)
	}
	return nil
}

// PortAudioOutput mixes scheduled buffers into a callback-driven output
// stream. Its clock counts rendered frames.
type PortAudioOutput struct {
	stream *portaudio.Stream
	rate   int

	mu     sync.Mutex
	frames int64
	voices map[*outputVoice]struct{}
	closed bool
}

type outputVoice struct {
	out     *PortAudioOutput
	samples []float32
	start   int64
	onEnded func()
}

func (v *outputVoice) Stop() {
	v.out.mu.Lock()
	delete(v.out.voices, v)
	v.out.mu.Unlock()
}

// OpenOutput opens and starts the default output device.
func OpenOutput(sampleRate, framesPerBuffer int) (*PortAudioOutput, error) {
	o := &PortAudioOutput{rate: sampleRate, voices: make(map[*outputVoice]struct{})}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, o.render)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	o.stream = stream
	return o, nil
}

func (o *PortAudioOutput) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return float64(o.frames) / float64(o.rate)
}

func (o *PortAudioOutput) Play(buf PlaybackBuffer, at float64, onEnded func()) (Voice, error) {
	if buf.SampleRate != o.rate {
		return nil, fmt.Errorf("buffer rate %d does not match device rate %d", buf.SampleRate, o.rate)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errors.New("output stream closed")
	}
	// Rounded so float drift in the cursor cannot overlap the previous unit.
	start := int64(math.Round(at * float64(o.rate)))
	v := &outputVoice{out: o, samples: buf.Samples, start: max(start, o.frames), onEnded: onEnded}
	o.voices[v] = struct{}{}
	return v, nil
}

func (o *PortAudioOutput) render(out []float32) {
	clear(out)

	o.mu.Lock()
	from := o.frames
	to := from + int64(len(out))
	var finished []func()
	for v := range o.voices {
		end := v.start + int64(len(v.samples))
		for f := max(from, v.start); f < min(to, end); f++ {
			out[f-from] += v.samples[f-v.start]
		}
		if end <= to {
			delete(o.voices, v)
			if v.onEnded != nil {
				finished = append(finished, v.onEnded)
			}
		}
	}
	o.frames = to
	o.mu.Unlock()

	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}
	if len(finished) > 0 {
		go func() {
			for _, fn := range finished {
				fn()
			}
		}()
	}
}

// Close drops every pending voice without firing its callback and releases
// the device. Safe to call more than once.
func (o *PortAudioOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	clear(o.voices)
	o.mu.Unlock()

	stopErr := o.stream.Stop()
	if err := o.stream.Close(); err != nil {
		return fmt.Errorf("close output stream: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("stop output stream: %w", stopErr)
	}
	return nil
}
