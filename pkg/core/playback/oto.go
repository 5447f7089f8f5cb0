package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vango-go/lingo-live/pkg/core"
	"github.com/vango-go/lingo-live/pkg/core/pcm"
)

// DefaultBufferSize is the device buffer requested from oto.
const DefaultBufferSize = 100 * time.Millisecond

// oto allows a single context per process, so every OtoOutput shares one and
// suspends it when closed.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func sharedContext(sampleRate int, bufferSize time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   bufferSize,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
		otoRate = sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("audio output already opened at %d Hz", otoRate)
	}
	return otoCtx, nil
}

// OtoOutput renders a Timeline through the system speaker.
type OtoOutput struct {
	*Timeline

	ctx    *oto.Context
	player *oto.Player

	closeOnce sync.Once
	closeErr  error
}

// NewOtoOutput opens the speaker at the format's sample rate.
func NewOtoOutput(format pcm.Format, bufferSize time.Duration) (*OtoOutput, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ctx, err := sharedContext(format.SampleRate, bufferSize)
	if err != nil {
		return nil, core.NewPlaybackError("open audio output", err)
	}
	if err := ctx.Resume(); err != nil {
		return nil, core.NewPlaybackError("resume audio output", err)
	}

	tl := NewTimeline(format.SampleRate)
	player := ctx.NewPlayer(tl)
	player.Play()

	return &OtoOutput{
		Timeline: tl,
		ctx:      ctx,
		player:   player,
	}, nil
}

// Close stops the player and suspends the shared context.
func (o *OtoOutput) Close() error {
	o.closeOnce.Do(func() {
		var errs []error
		_ = o.Timeline.Close()
		o.player.Pause()
		if err := o.player.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close player: %w", err))
		}
		if err := o.ctx.Suspend(); err != nil {
			errs = append(errs, fmt.Errorf("suspend output: %w", err))
		}
		o.closeErr = errors.Join(errs...)
	})
	return o.closeErr
}
