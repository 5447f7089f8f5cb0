package playback

import (
	"errors"
	"io"
	"math"
	"sync"

	"github.com/vango-go/lingo-live/pkg/core/pcm"
)

var errTimelineClosed = errors.New("timeline closed")

// Timeline mixes scheduled voices into a float32 little-endian stream.
// Its clock is the number of samples read so far divided by the sample rate,
// so it advances exactly as fast as the device pulls audio.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*timelineVoice
	closed bool
}

type timelineVoice struct {
	tl      *Timeline
	samples []float32
	start   int64
	onEnded func()
}

// NewTimeline creates a mono timeline at the given sample rate.
func NewTimeline(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = pcm.L16Mono24K.SampleRate
	}
	return &Timeline{rate: sampleRate}
}

// Now returns the render clock in seconds.
func (t *Timeline) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.pos) / float64(t.rate)
}

// Play schedules samples at the given time. Times in the past start at the
// next rendered sample.
func (t *Timeline) Play(samples []float32, at float64, onEnded func()) (Voice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errTimelineClosed
	}
	start := int64(math.Round(at * float64(t.rate)))
	if start < t.pos {
		start = t.pos
	}
	v := &timelineVoice{
		tl:      t,
		samples: samples,
		start:   start,
		onEnded: onEnded,
	}
	t.voices = append(t.voices, v)
	return v, nil
}

// Stop removes the voice without calling its onEnded callback.
func (v *timelineVoice) Stop() {
	t := v.tl
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, other := range t.voices {
		if other == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return
		}
	}
}

// Read renders the next len(p)/4 samples. Gaps between voices are silence.
func (t *Timeline) Read(p []byte) (int, error) {
	n := len(p) / 4

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.EOF
	}
	if n == 0 {
		t.mu.Unlock()
		return 0, nil
	}

	mix := make([]float32, n)
	from, to := t.pos, t.pos+int64(n)
	var ended []func()
	kept := t.voices[:0]
	for _, v := range t.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for i := lo; i < hi; i++ {
			mix[i-from] += v.samples[i-v.start]
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept
	t.pos = to
	t.mu.Unlock()

	for i, s := range mix {
		if s > 1 {
			mix[i] = 1
		} else if s < -1 {
			mix[i] = -1
		}
	}
	copy(p, pcm.Float32ToBytes(mix))

	// Callbacks run unlocked so they may call back into the timeline.
	for _, fn := range ended {
		fn()
	}
	return n * 4, nil
}

// Pending returns the number of voices not yet fully rendered.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Close drops all voices and makes Read return io.EOF.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.voices = nil
	return nil
}
