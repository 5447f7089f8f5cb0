// Package playback schedules decoded speech buffers back-to-back on an
// output clock so consecutive chunks play without gaps.
package playback

import (
	"log/slog"
	"sync"

	"github.com/vango-go/lingo-live/pkg/core"
)

// Output is a rendering context with its own clock.
type Output interface {
	// Now returns the output clock in seconds.
	Now() float64
	// Play schedules samples to start at the given clock time. onEnded is
	// called once the samples have been rendered. It must not be called
	// synchronously from Play.
	Play(samples []float32, at float64, onEnded func()) (Voice, error)
	Close() error
}

// Voice is one scheduled buffer.
type Voice interface {
	Stop()
}

// Buffer describes a scheduled playback buffer.
type Buffer struct {
	ID       uint64
	Start    float64
	Duration float64
}

// Scheduler keeps a playback cursor and the set of buffers still playing.
type Scheduler struct {
	out    Output
	logger *slog.Logger

	mu        sync.Mutex
	nextStart float64
	active    map[uint64]Voice
	lastID    uint64
	closed    bool
}

// NewScheduler creates a scheduler on top of out.
func NewScheduler(out Output, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		out:    out,
		logger: logger,
		active: make(map[uint64]Voice),
	}
}

// Enqueue schedules samples at the playback cursor and advances the cursor
// by duration seconds. If the cursor has fallen behind the output clock it
// is first moved up to now.
func (s *Scheduler) Enqueue(samples []float32, duration float64) (Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Buffer{}, core.NewPlaybackError("scheduler closed", nil)
	}

	if now := s.out.Now(); s.nextStart < now {
		s.nextStart = now
	}
	start := s.nextStart

	s.lastID++
	id := s.lastID
	voice, err := s.out.Play(samples, start, func() { s.release(id) })
	if err != nil {
		return Buffer{}, core.NewPlaybackError("schedule buffer", err)
	}
	s.active[id] = voice
	s.nextStart = start + duration

	return Buffer{ID: id, Start: start, Duration: duration}, nil
}

func (s *Scheduler) release(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Interrupt stops every active buffer and resets the cursor to now.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := s.active
	s.active = make(map[uint64]Voice)
	if !s.closed {
		s.nextStart = s.out.Now()
	}
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if len(voices) > 0 {
		s.logger.Debug("playback interrupted", "stopped", len(voices))
	}
	return len(voices)
}

// Close interrupts playback and closes the output. Safe to call more than once.
func (s *Scheduler) Close() error {
	s.Interrupt()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.out.Close(); err != nil {
		return core.NewPlaybackError("close output", err)
	}
	return nil
}

// Active returns the number of buffers scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the playback cursor.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
