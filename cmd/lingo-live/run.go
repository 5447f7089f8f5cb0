package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vango-go/lingo-live/pkg/config"
	"github.com/vango-go/lingo-live/pkg/core/capture"
	"github.com/vango-go/lingo-live/pkg/core/pcm"
	"github.com/vango-go/lingo-live/pkg/core/playback"
	"github.com/vango-go/lingo-live/pkg/live/metrics"
	"github.com/vango-go/lingo-live/pkg/live/remote"
	"github.com/vango-go/lingo-live/pkg/live/session"
	"github.com/vango-go/lingo-live/pkg/live/sessions"
)

const (
	defaultTopic        = "Everyday conversation"
	finalMinuteWarning  = "One minute left in this session."
	sessionLimitMessage = "Session time limit reached."
	metricsShutdownWait = 2 * time.Second
	sessionShutdownWait = 5 * time.Second
)

type runOptions struct {
	topic    string
	category string
	prompt   string
	muted    bool
}

type runDeps struct {
	newConnector func(context.Context, config.Config, *slog.Logger) (remote.Connector, error)
	newSource    func(config.Config, *slog.Logger) capture.Source
	newOutput    func(config.Config) (playback.Output, error)

	// tracker is shared by every conversation in the process. Nil means a
	// private single-session tracker.
	tracker *sessions.Tracker

	// keys delivers raw keystrokes. Nil disables keyboard control.
	keys   io.Reader
	stdout io.Writer
	now    func() time.Time
}

func defaultRunDeps() runDeps {
	return runDeps{
		newConnector: newConnector,
		newSource: func(cfg config.Config, logger *slog.Logger) capture.Source {
			return &capture.MalgoSource{DeviceName: cfg.MicDevice, Logger: logger}
		},
		newOutput: func(cfg config.Config) (playback.Output, error) {
			out, err := playback.NewOtoOutput(pcm.L16Mono24K, cfg.PlaybackBufferDur)
			if err != nil {
				return nil, err
			}
			return out, nil
		},
		keys:   os.Stdin,
		stdout: os.Stdout,
		now:    time.Now,
	}
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		opts        runOptions
		voice       string
		model       string
		backend     string
		micDevice   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a spoken lesson (m toggles mute, q quits)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("voice") {
				cfg.Voice = voice
			}
			if flags.Changed("model") {
				cfg.Model = model
			}
			if flags.Changed("backend") {
				cfg.Backend = config.Backend(strings.ToLower(backend))
			}
			if flags.Changed("mic-device") {
				cfg.MicDevice = micDevice
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.RequireAPIKey(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps := defaultRunDeps()
			deps.tracker = root.tracker
			deps.stdout = cmd.OutOrStdout()
			restore := enterRawMode(os.Stdin)
			if restore == nil {
				deps.keys = nil
			} else {
				defer restore()
			}
			return runConversation(ctx, root.logger, cfg, opts, deps)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.topic, "topic", defaultTopic, "conversation topic")
	f.StringVar(&opts.category, "category", "", "topic category")
	f.StringVar(&opts.prompt, "prompt", "", "full system instruction; overrides --topic")
	f.BoolVar(&opts.muted, "muted", false, "start with the microphone muted")
	f.StringVar(&voice, "voice", "", "prebuilt voice name")
	f.StringVar(&model, "model", "", "live model name")
	f.StringVar(&backend, "backend", "", "remote backend: websocket|genai")
	f.StringVar(&micDevice, "mic-device", "", "microphone name substring (see devices)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func newConnector(ctx context.Context, cfg config.Config, logger *slog.Logger) (remote.Connector, error) {
	switch cfg.Backend {
	case config.BackendGenAI:
		c, err := remote.NewGenAIConnector(ctx, cfg.APIKey, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return &remote.WebSocketConnector{
			Endpoint:         cfg.Endpoint,
			APIKey:           cfg.APIKey,
			HandshakeTimeout: cfg.ConnectTimeout,
			Logger:           logger,
		}, nil
	}
}

// runConversation runs one session until it ends, the context is canceled,
// or the session time limit is reached.
func runConversation(ctx context.Context, logger *slog.Logger, cfg config.Config, opts runOptions, deps runDeps) error {
	if deps.newConnector == nil || deps.newSource == nil || deps.newOutput == nil {
		return errors.New("missing audio or connector dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.stdout == nil {
		deps.stdout = io.Discard
	}

	m := metrics.NewMetrics("")
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, m, logger)
		defer stopMetrics()
	}

	connector, err := deps.newConnector(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create connector: %w", err)
	}

	out := newConsole(deps.stdout, deps.now)
	sess := session.New(connector, deps.newSource(cfg, logger), func() (playback.Output, error) {
		return deps.newOutput(cfg)
	}, session.Config{
		Model:        cfg.Model,
		VoiceID:      cfg.Voice,
		LanguageCode: cfg.LanguageCode,
		SettleDelay:  cfg.SettleDelay,
		OpeningTurn:  cfg.OpeningTurn,
		FrameSamples: cfg.FrameSamples,
		SendQueue:    cfg.SendQueue,
		Logger:       logger,
		Metrics:      m,
	}, session.Callbacks{
		OnMessageUpdate: out.message,
		OnAudioLevel:    out.setLevel,
		OnStateChange:   out.state,
	})

	tracker := deps.tracker
	if tracker == nil {
		tracker = sessions.NewTracker(1)
	}
	unregister, err := tracker.Register(sess.ID(), sessions.Handle{Cancel: sess.Disconnect, Notify: sess.Notify})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer unregister()
	go func() {
		<-sess.Done()
		unregister()
	}()

	sess.SetMute(opts.muted)
	out.setMuted(opts.muted)

	prompt := opts.prompt
	if strings.TrimSpace(prompt) == "" {
		topic := opts.topic
		if strings.TrimSpace(topic) == "" {
			topic = defaultTopic
		}
		prompt = session.TutorPrompt(topic, opts.category)
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = sess.Connect(connectCtx, prompt, cfg.Voice)
	cancelConnect()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	limit := time.AfterFunc(cfg.MaxSessionDuration, func() {
		logger.Info("session time limit reached", "limit", cfg.MaxSessionDuration)
		tracker.NotifyAll(sessionLimitMessage)
		tracker.CancelAll()
	})
	defer limit.Stop()
	if cfg.MaxSessionDuration > time.Minute {
		warn := time.AfterFunc(cfg.MaxSessionDuration-time.Minute, func() {
			tracker.NotifyAll(finalMinuteWarning)
		})
		defer warn.Stop()
	}

	if deps.keys != nil {
		go readKeys(deps.keys, func(key byte) bool {
			switch key {
			case 'm', 'M':
				muted := !sess.Muted()
				sess.SetMute(muted)
				out.setMuted(muted)
				return true
			case 'q', 'Q', 0x03, 0x04:
				sess.Disconnect()
				return false
			}
			return true
		})
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			tracker.CancelAll()
			waitCtx, cancel := context.WithTimeout(context.Background(), sessionShutdownWait)
			stopped := tracker.Wait(waitCtx)
			cancel()
			if !stopped {
				logger.Warn("live session did not shut down in time", "wait", sessionShutdownWait)
			}
			return sess.Err()
		case <-sess.Done():
			return sess.Err()
		case <-ticker.C:
			out.tick()
		}
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownWait)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// enterRawMode switches f to raw mode when it is a terminal and returns a
// restore func, or nil when keyboard control is unavailable.
func enterRawMode(f *os.File) func() {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil
	}
	return func() { _ = term.Restore(fd, oldState) }
}

// readKeys feeds single bytes to handle until it returns false or r fails.
func readKeys(r io.Reader, handle func(byte) bool) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 && !handle(buf[0]) {
			return
		}
		if err != nil {
			return
		}
	}
}
