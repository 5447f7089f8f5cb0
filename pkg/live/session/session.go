// Package session runs one live tutoring conversation: it streams the
// microphone to the remote service, plays synthesized speech back and keeps
// the transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/lingo-live/pkg/core"
	"github.com/vango-go/lingo-live/pkg/core/capture"
	"github.com/vango-go/lingo-live/pkg/core/pcm"
	"github.com/vango-go/lingo-live/pkg/core/playback"
	"github.com/vango-go/lingo-live/pkg/core/transcript"
	"github.com/vango-go/lingo-live/pkg/live/metrics"
	"github.com/vango-go/lingo-live/pkg/live/protocol"
	"github.com/vango-go/lingo-live/pkg/live/remote"
)

// errDisconnected is the cancellation cause of a caller-initiated shutdown.
var errDisconnected = errors.New("session disconnected")

// Session owns the remote connection, the capture pipeline and the playback
// scheduler of one conversation.
type Session struct {
	id        string
	connector remote.Connector
	source    capture.Source
	newOutput func() (playback.Output, error)
	cfg       Config
	cb        Callbacks
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu          sync.Mutex
	state       State
	conn        remote.Conn
	scheduler   *playback.Scheduler
	pipeline    *capture.Pipeline
	connectedAt time.Time
	err         error

	muted    atomic.Bool
	tornDown atomic.Bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	// connReady is closed once conn is set. Senders wait on it.
	connReady chan struct{}
	frames    chan capture.TransportFrame
	done      chan struct{}

	log   *transcript.Log
	turns turnTracker
}

// New creates an idle session. newOutput opens the speaker; it is called
// once per Connect.
func New(connector remote.Connector, source capture.Source, newOutput func() (playback.Output, error), cfg Config, cb Callbacks) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		id:        uuid.NewString(),
		connector: connector,
		source:    source,
		newOutput: newOutput,
		cfg:       cfg,
		cb:        cb,
		metrics:   cfg.Metrics,
		state:     StateIdle,
		ctx:       ctx,
		cancel:    cancel,
		connReady: make(chan struct{}),
		frames:    make(chan capture.TransportFrame, cfg.SendQueue),
		done:      make(chan struct{}),
		log:       transcript.NewLog(),
	}
	s.logger = cfg.Logger.With("session_id", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, or nil for a normal close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns the reconciled transcript.
func (s *Session) Transcript() *transcript.Log {
	return s.log
}

// Scheduler returns the playback scheduler, or nil before Connect.
func (s *Session) Scheduler() *playback.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler
}

// SetMute toggles microphone transmission. Levels read as zero while muted.
func (s *Session) SetMute(muted bool) {
	if s.muted.Swap(muted) != muted {
		s.logger.Debug("mute changed", "muted", muted)
	}
}

// Muted reports whether the microphone is muted.
func (s *Session) Muted() bool {
	return s.muted.Load()
}

// Connect opens the remote session and starts audio in both directions.
// It blocks until the setup has been acknowledged. A failed dial tears the
// session down and returns a connection error; a missing microphone does not.
func (s *Session) Connect(ctx context.Context, systemPrompt, voiceID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return core.NewInvalidRequestError(fmt.Sprintf("cannot connect a %s session", state))
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyState(StateConnecting)

	if voiceID == "" {
		voiceID = s.cfg.VoiceID
	}

	if s.newOutput == nil {
		err := core.NewPlaybackError("no audio output", nil)
		s.teardown(err)
		return err
	}
	out, err := s.newOutput()
	if err != nil {
		if !core.IsType(err, core.ErrPlayback) {
			err = core.NewPlaybackError("open audio output", err)
		}
		s.teardown(err)
		return err
	}
	scheduler := playback.NewScheduler(out, s.logger)
	s.mu.Lock()
	if s.tornDown.Load() {
		s.mu.Unlock()
		_ = scheduler.Close()
		return s.closedDuringConnect()
	}
	s.scheduler = scheduler
	s.mu.Unlock()

	go s.sendLoop()

	dialCtx, cancelDial := context.WithCancelCause(ctx)
	stopMerge := context.AfterFunc(s.ctx, func() { cancelDial(context.Cause(s.ctx)) })
	conn, err := s.connector.Connect(dialCtx, protocol.SessionConfig{
		Model:        s.cfg.Model,
		SystemPrompt: systemPrompt,
		VoiceID:      voiceID,
		LanguageCode: s.cfg.LanguageCode,
	})
	stopMerge()
	cancelDial(nil)
	if err != nil {
		if !core.IsType(err, core.ErrConnection) {
			err = core.NewConnectionError("connect", err)
		}
		s.logger.Warn("live connect failed", "error", err)
		s.teardown(err)
		return err
	}

	s.mu.Lock()
	if s.tornDown.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return s.closedDuringConnect()
	}
	s.conn = conn
	s.mu.Unlock()
	close(s.connReady)

	go s.readLoop(conn)

	s.startCapture()

	if !s.cfg.SkipOpeningTurn {
		go s.sendOpeningTurn(conn)
	}

	s.mu.Lock()
	if s.tornDown.Load() || s.state != StateConnecting {
		s.mu.Unlock()
		return s.closedDuringConnect()
	}
	s.state = StateConnected
	s.connectedAt = s.cfg.Now()
	s.mu.Unlock()

	s.metrics.RecordSessionStart()
	s.logger.Info("live session connected", "model", s.cfg.Model, "voice", voiceID)
	s.notifyState(StateConnected)
	return nil
}

func (s *Session) closedDuringConnect() error {
	if err := s.Err(); err != nil {
		return err
	}
	return core.NewConnectionError("connect", errDisconnected)
}

func (s *Session) startCapture() {
	pipeline := capture.NewPipeline(s.source, capture.Config{
		Format:    pcm.L16Mono16K,
		BlockSize: s.cfg.FrameSamples,
		Muted:     s.muted.Load,
		Logger:    s.logger,
	})

	s.mu.Lock()
	if s.tornDown.Load() {
		s.mu.Unlock()
		return
	}
	s.pipeline = pipeline
	s.mu.Unlock()

	if err := pipeline.Start(s.SendFrame, s.onLevel); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("microphone unavailable", "error", err)
		s.addSystemMessage(microphoneErrorText)
	}
}

func (s *Session) sendOpeningTurn(conn remote.Conn) {
	timer := time.NewTimer(s.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}
	if err := conn.SendClientContent(protocol.TextTurn(s.cfg.OpeningTurn)); err != nil {
		s.logger.Warn("failed to send opening turn", "error", err)
		return
	}
	s.logger.Debug("sent opening turn")
}

// SendFrame queues a microphone frame for the remote side. It never blocks;
// the frame is dropped when the queue is full or the session is closed.
func (s *Session) SendFrame(frame capture.TransportFrame) {
	if s.tornDown.Load() {
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.metrics.RecordFrameDropped()
		s.logger.Debug("send queue full, dropping frame", "seq", frame.Seq)
	}
}

func (s *Session) onLevel(level float64) {
	s.metrics.RecordInputLevel(level)
	if s.cb.OnAudioLevel != nil {
		s.cb.OnAudioLevel(level)
	}
}

func (s *Session) sendLoop() {
	for {
		var frame capture.TransportFrame
		select {
		case <-s.ctx.Done():
			return
		case frame = <-s.frames:
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.connReady:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := conn.SendRealtimeAudio(protocol.Blob{MimeType: frame.MimeType, Data: frame.Data})
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to send audio", "error", err, "seq", frame.Seq)
			s.teardown(err)
			return
		}
		s.metrics.RecordFrameSent(len(frame.Data) * 3 / 4)
	}
}

func (s *Session) readLoop(conn remote.Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			if core.IsType(err, core.ErrDecode) {
				s.logger.Warn("dropping undecodable server message", "error", err)
				s.metrics.RecordDecodeError()
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info("remote closed the session")
				s.teardown(nil)
				return
			}
			s.logger.Warn("live session receive failed", "error", err)
			s.teardown(err)
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		s.dispatch(msg)
	}
}

// Disconnect tears the session down. It may be called from any state and
// any goroutine, any number of times. It does not wait for session
// goroutines to exit; use Done for that.
func (s *Session) Disconnect() {
	s.teardown(nil)
}

// Notify adds a system message to the transcript.
func (s *Session) Notify(message string) {
	s.addSystemMessage(message)
}

// teardown releases every resource exactly once. Each step runs even if an
// earlier one failed or panicked.
func (s *Session) teardown(cause error) {
	if !s.tornDown.CompareAndSwap(false, true) {
		return
	}
	if cause != nil {
		s.cancel(cause)
	} else {
		s.cancel(errDisconnected)
	}

	s.mu.Lock()
	prev := s.state
	scheduler, pipeline, conn := s.scheduler, s.pipeline, s.conn
	if cause != nil && s.err == nil {
		s.err = cause
	}
	connectedAt := s.connectedAt
	s.mu.Unlock()

	errs := []error{
		guard("stop playback", func() error {
			if scheduler == nil {
				return nil
			}
			return scheduler.Close()
		}),
		guard("stop capture", func() error {
			if pipeline == nil {
				return nil
			}
			return pipeline.Stop()
		}),
		guard("close connection", func() error {
			if conn == nil {
				return nil
			}
			return conn.Close()
		}),
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("live session teardown incomplete", "error", err)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)

	status := "closed"
	switch {
	case cause != nil && prev == StateConnecting:
		status = "connect_failed"
	case cause != nil:
		status = "error"
	}
	var duration time.Duration
	if prev == StateConnected {
		duration = s.cfg.Now().Sub(connectedAt)
	}
	s.metrics.RecordSessionEnd(status, prev == StateConnected, duration)
	s.logger.Info("live session closed", "status", status, "duration", duration)

	s.notifyState(StateClosed)
	if s.cb.OnDisconnect != nil {
		s.cb.OnDisconnect()
	}
}

func guard(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", step, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}

func (s *Session) notifyState(state State) {
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(state)
	}
}
