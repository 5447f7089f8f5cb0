// Package capture turns microphone callbacks into fixed-size, PCM16-encoded
// transport frames.
package capture

import (
	"log/slog"
	"sync"

	"github.com/vango-go/lingo-live/pkg/core"
	"github.com/vango-go/lingo-live/pkg/core/pcm"
)

// DefaultBlockSize is the number of samples per frame.
const DefaultBlockSize = 4096

// Frame is one fixed-length block of captured samples.
type Frame struct {
	Seq     uint64
	Samples []float32
}

// TransportFrame is a Frame encoded for the remote service.
type TransportFrame struct {
	MimeType string
	Data     string
	Seq      uint64
}

// Source is a host audio engine that delivers microphone samples to a handler.
// The handler may be called with any number of samples per callback.
type Source interface {
	Open(format pcm.Format, blockSize int, handler func([]float32)) (Stream, error)
}

// Stream is an open capture device.
type Stream interface {
	// Close stops every track and releases the device.
	Close() error
}

// Config configures a Pipeline.
type Config struct {
	Format    pcm.Format
	BlockSize int
	// Muted is polled once per block. Nil means never muted.
	Muted  func() bool
	Logger *slog.Logger
}

// Pipeline frames, meters and encodes microphone audio.
type Pipeline struct {
	src    Source
	format pcm.Format
	muted  func() bool
	logger *slog.Logger

	mu      sync.Mutex
	framer  *framer
	seq     uint64
	onFrame func(TransportFrame)
	onLevel func(float64)
	stream  Stream
	started bool
	stopped bool
}

// NewPipeline creates a pipeline over src. Zero config values take defaults.
func NewPipeline(src Source, cfg Config) *Pipeline {
	if cfg.Format.SampleRate <= 0 {
		cfg.Format = pcm.L16Mono16K
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Muted == nil {
		cfg.Muted = func() bool { return false }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		src:    src,
		format: cfg.Format,
		muted:  cfg.Muted,
		logger: cfg.Logger,
		framer: newFramer(cfg.BlockSize),
	}
}

// Start opens the source and begins delivering frames and levels.
// A denied or missing device yields a capture error.
func (p *Pipeline) Start(onFrame func(TransportFrame), onLevel func(float64)) error {
	if p.src == nil {
		return core.NewCaptureError("no capture source", nil)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return core.NewCaptureError("pipeline stopped", nil)
	}
	if p.started {
		p.mu.Unlock()
		return core.NewCaptureError("pipeline already started", nil)
	}
	p.started = true
	p.onFrame = onFrame
	p.onLevel = onLevel
	p.mu.Unlock()

	stream, err := p.src.Open(p.format, p.framer.size, p.handle)
	if err != nil {
		p.mu.Lock()
		p.onFrame = nil
		p.onLevel = nil
		p.mu.Unlock()
		if core.IsType(err, core.ErrCapture) {
			return err
		}
		return core.NewCaptureError("could not open microphone", err)
	}

	p.mu.Lock()
	if p.stopped {
		// Stop raced with Open.
		p.mu.Unlock()
		_ = stream.Close()
		return core.NewCaptureError("pipeline stopped", nil)
	}
	p.stream = stream
	p.mu.Unlock()

	p.logger.Debug("capture started", "sample_rate", p.format.SampleRate, "block_size", p.framer.size)
	return nil
}

// Stop detaches the handler and releases the device. Safe to call more than
// once and after a failed Start.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.onFrame = nil
	p.onLevel = nil
	stream := p.stream
	p.stream = nil
	p.framer.reset()
	p.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return core.NewCaptureError("release microphone", err)
	}
	p.logger.Debug("capture stopped")
	return nil
}

// Seq returns the number of blocks processed so far.
func (p *Pipeline) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

type emission struct {
	level float64
	frame *TransportFrame
}

// handle runs on the audio engine's callback thread.
func (p *Pipeline) handle(samples []float32) {
	p.mu.Lock()
	if p.onFrame == nil && p.onLevel == nil {
		p.mu.Unlock()
		return
	}
	onFrame, onLevel := p.onFrame, p.onLevel

	blocks := p.framer.push(samples)
	out := make([]emission, 0, len(blocks))
	for _, block := range blocks {
		p.seq++
		if p.muted() {
			out = append(out, emission{level: 0})
			continue
		}
		out = append(out, emission{
			level: pcm.RMS(block),
			frame: &TransportFrame{
				MimeType: p.format.MimeType(),
				Data:     pcm.EncodeTransport(block),
				Seq:      p.seq,
			},
		})
	}
	p.mu.Unlock()

	for _, e := range out {
		if onLevel != nil {
			onLevel(e.level)
		}
		if e.frame != nil && onFrame != nil {
			onFrame(*e.frame)
		}
	}
}
