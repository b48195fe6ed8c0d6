package audio

import (
	"fmt"
	"sync"

	"github.com/sjawhar/jarvis/internal/metrics"
	"github.com/sjawhar/jarvis/internal/pcm"
)

// DefaultPlaybackRate is the sample rate of model speech.
const DefaultPlaybackRate = 24000

// Clock reports the output device's current time in seconds.
type Clock interface {
	Now() float64
}

// PlaybackBuffer is one decoded mono chunk ready for the output device.
type PlaybackBuffer struct {
	Samples    []float32
	SampleRate int
}

func (b PlaybackBuffer) Duration() float64 {
	return pcm.Duration(len(b.Samples), b.SampleRate)
}

// Voice is a scheduled playback unit.
type Voice interface {
	Stop()
}

// Output plays buffers at absolute clock times. onEnded is called once when
// a unit finishes naturally; it is not called for units that were stopped.
type Output interface {
	Clock
	Play(buf PlaybackBuffer, at float64, onEnded func()) (Voice, error)
}

// Scheduler places inbound speech back to back on the output clock and
// handles barge-in.
type Scheduler struct {
	out        Output
	rate       int
	metrics    *metrics.Metrics
	onSpeaking func(bool)

	mu        sync.Mutex
	next      float64
	gen       uint64
	seq       uint64
	live      map[uint64]Voice
	speaking  bool
	turnEnded bool
}

type SchedulerOption func(*Scheduler)

func WithPlaybackRate(rate int) SchedulerOption {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSpeakingObserver registers fn to receive speaking transitions.
func WithSpeakingObserver(fn func(bool)) SchedulerOption {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

func NewScheduler(out Output, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{out: out, rate: DefaultPlaybackRate, live: make(map[uint64]Voice)}
	for _, opt := range opts {
		opt(s)
	}
	s.next = out.Now()
	return s
}

// Enqueue decodes one transport envelope payload and schedules it at
// max(NextStartTime, now). Undecodable payloads are dropped and reported;
// the cursor does not move.
func (s *Scheduler) Enqueue(data string) (float64, error) {
	raw, err := pcm.Decode(data)
	if err != nil {
		s.metrics.RecordDecodeError()
		return 0, err
	}
	channels, err := pcm.PCM16ToFloat(raw, 1)
	if err != nil {
		s.metrics.RecordDecodeError()
		return 0, err
	}
	buf := PlaybackBuffer{Samples: channels[0], SampleRate: s.rate}
	dur := buf.Duration()

	s.mu.Lock()
	start := max(s.next, s.out.Now())
	s.next = start + dur
	s.seq++
	id, gen := s.seq, s.gen
	s.live[id] = nil
	raised := !s.speaking
	s.speaking = true
	s.turnEnded = false
	s.mu.Unlock()

	if raised {
		s.notify(true)
	}

	voice, err := s.out.Play(buf, start, func() { s.ended(id) })

	s.mu.Lock()
	if err != nil {
		delete(s.live, id)
		if s.gen == gen && s.next == start+dur {
			s.next = start
		}
		lowered := s.settleLocked()
		s.mu.Unlock()
		if lowered {
			s.notify(false)
		}
		return start, fmt.Errorf("schedule playback: %w", err)
	}
	if s.gen != gen {
		// Interrupted while Play was in flight.
		s.mu.Unlock()
		voice.Stop()
		return start, nil
	}
	if _, ok := s.live[id]; ok {
		s.live[id] = voice
	}
	s.mu.Unlock()

	s.metrics.RecordChunkScheduled(dur)
	return start, nil
}

// Interrupt stops everything audible or pending and resets the cursor to now.
// Only an interrupt that cut off a unit counts as a barge-in.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.gen++
	voices := make([]Voice, 0, len(s.live))
	for _, v := range s.live {
		if v != nil {
			voices = append(voices, v)
		}
	}
	cut := len(s.live) > 0
	s.live = make(map[uint64]Voice)
	s.next = s.out.Now()
	lowered := s.speaking
	s.speaking = false
	s.turnEnded = false
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if cut {
		s.metrics.RecordInterruption()
	}
	if lowered {
		s.notify(false)
	}
}

// TurnComplete marks the end of the model's turn. Speaking clears now if
// nothing is audible, otherwise when the last unit ends.
func (s *Scheduler) TurnComplete() {
	s.mu.Lock()
	s.turnEnded = true
	lowered := s.settleLocked()
	s.mu.Unlock()
	if lowered {
		s.notify(false)
	}
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if _, ok := s.live[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.live, id)
	lowered := s.settleLocked()
	s.mu.Unlock()
	if lowered {
		s.notify(false)
	}
}

func (s *Scheduler) settleLocked() bool {
	if s.speaking && s.turnEnded && len(s.live) == 0 {
		s.speaking = false
		return true
	}
	return false
}

func (s *Scheduler) notify(speaking bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(speaking)
	}
}

// NextStartTime is where the next chunk would be placed if it arrived before
// the cursor.
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Live is the number of scheduled units that have not ended.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}
