package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/lingo-live/pkg/config"
	"github.com/vango-go/lingo-live/pkg/core/capture"
	"github.com/vango-go/lingo-live/pkg/core/pcm"
	"github.com/vango-go/lingo-live/pkg/core/playback"
	"github.com/vango-go/lingo-live/pkg/core/transcript"
	"github.com/vango-go/lingo-live/pkg/live/protocol"
	"github.com/vango-go/lingo-live/pkg/live/remote"
	"github.com/vango-go/lingo-live/pkg/live/session"
	"github.com/vango-go/lingo-live/pkg/live/sessions"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type scriptedConn struct {
	mu     sync.Mutex
	script []*protocol.ServerMessage
	closed chan struct{}
	once   sync.Once
}

func newScriptedConn(script ...*protocol.ServerMessage) *scriptedConn {
	return &scriptedConn{script: script, closed: make(chan struct{})}
}

func (c *scriptedConn) SendRealtimeAudio(protocol.Blob) error { return nil }

func (c *scriptedConn) SendClientContent(protocol.ClientContent) error { return nil }

func (c *scriptedConn) Receive() (*protocol.ServerMessage, error) {
	c.mu.Lock()
	if len(c.script) > 0 {
		msg := c.script[0]
		c.script = c.script[1:]
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()
	<-c.closed
	return nil, io.EOF
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type connectorFunc func(context.Context, protocol.SessionConfig) (remote.Conn, error)

func (f connectorFunc) Connect(ctx context.Context, cfg protocol.SessionConfig) (remote.Conn, error) {
	return f(ctx, cfg)
}

type silentSource struct{}

type silentStream struct{}

func (silentStream) Close() error { return nil }

func (silentSource) Open(pcm.Format, int, func([]float32)) (capture.Stream, error) {
	return silentStream{}, nil
}

func testConfig() config.Config {
	return config.Config{
		Backend:            config.BackendWebSocket,
		APIKey:             "test-key",
		Model:              protocol.DefaultModel,
		Voice:              "Kore",
		SettleDelay:        time.Hour,
		FrameSamples:       4096,
		SendQueue:          4,
		MaxSessionDuration: time.Hour,
		ConnectTimeout:     time.Second,
		PlaybackBufferDur:  100 * time.Millisecond,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

func testDeps(conn *scriptedConn, stdout io.Writer, keys io.Reader, seen *protocol.SessionConfig) runDeps {
	return runDeps{
		newConnector: func(context.Context, config.Config, *slog.Logger) (remote.Connector, error) {
			return connectorFunc(func(_ context.Context, cfg protocol.SessionConfig) (remote.Conn, error) {
				if seen != nil {
					*seen = cfg
				}
				return conn, nil
			}), nil
		},
		newSource: func(config.Config, *slog.Logger) capture.Source { return silentSource{} },
		newOutput: func(config.Config) (playback.Output, error) {
			return playback.NewTimeline(pcm.L16Mono24K.SampleRate), nil
		},
		keys:   keys,
		stdout: stdout,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("output never contained %q; got %q", want, out.String())
}

func TestRunConversation_KeysMuteAndQuit(t *testing.T) {
	conn := newScriptedConn(&protocol.ServerMessage{ServerContent: &protocol.ServerContent{
		OutputTranscription: &protocol.Transcription{Text: "Hello student"},
	}})
	out := &syncBuffer{}
	keysR, keysW := io.Pipe()
	defer keysW.Close()
	var seen protocol.SessionConfig

	done := make(chan error, 1)
	go func() {
		done <- runConversation(context.Background(), discardLogger(), testConfig(), runOptions{topic: "Job interviews"}, testDeps(conn, out, keysR, &seen))
	}()

	waitForOutput(t, out, "tutor: Hello student")
	if _, err := keysW.Write([]byte("m")); err != nil {
		t.Fatalf("write key: %v", err)
	}
	waitForOutput(t, out, "[muted")
	if _, err := keysW.Write([]byte("q")); err != nil {
		t.Fatalf("write key: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runConversation error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runConversation did not return after q")
	}
	if !strings.Contains(out.String(), "session ended") {
		t.Fatalf("output missing end notice: %q", out.String())
	}
	if !strings.Contains(seen.SystemPrompt, "Job interviews") || seen.VoiceID != "Kore" {
		t.Fatalf("session config = %+v", seen)
	}
}

func TestRunConversation_ContextCancel(t *testing.T) {
	conn := newScriptedConn()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runConversation(ctx, discardLogger(), testConfig(), runOptions{prompt: "custom"}, testDeps(conn, &syncBuffer{}, nil, nil))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runConversation error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runConversation did not return after cancel")
	}
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection left open")
	}
}

func TestRunConversation_SessionLimit(t *testing.T) {
	conn := newScriptedConn()
	out := &syncBuffer{}
	cfg := testConfig()
	cfg.MaxSessionDuration = 50 * time.Millisecond

	err := runConversation(context.Background(), discardLogger(), cfg, runOptions{}, testDeps(conn, out, nil, nil))
	if err != nil {
		t.Fatalf("runConversation error: %v", err)
	}
	if !strings.Contains(out.String(), "system: "+sessionLimitMessage) {
		t.Fatalf("output missing limit notice: %q", out.String())
	}
}

func TestRunConversation_ConnectFailure(t *testing.T) {
	deps := testDeps(nil, &syncBuffer{}, nil, nil)
	deps.newConnector = func(context.Context, config.Config, *slog.Logger) (remote.Connector, error) {
		return connectorFunc(func(context.Context, protocol.SessionConfig) (remote.Conn, error) {
			return nil, errors.New("refused")
		}), nil
	}

	err := runConversation(context.Background(), discardLogger(), testConfig(), runOptions{}, deps)
	if err == nil || !strings.Contains(err.Error(), "connect") {
		t.Fatalf("err = %v, want connect error", err)
	}
}

func TestRunConversation_SharedTrackerAdmitsOneSession(t *testing.T) {
	tracker := sessions.NewTracker(1)
	unregister, err := tracker.Register("already-running", sessions.Handle{})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	dialed := false
	deps := testDeps(newScriptedConn(), &syncBuffer{}, nil, nil)
	deps.tracker = tracker
	deps.newConnector = func(context.Context, config.Config, *slog.Logger) (remote.Connector, error) {
		return connectorFunc(func(context.Context, protocol.SessionConfig) (remote.Conn, error) {
			dialed = true
			return newScriptedConn(), nil
		}), nil
	}

	err = runConversation(context.Background(), discardLogger(), testConfig(), runOptions{}, deps)
	if !errors.Is(err, sessions.ErrLimitReached) {
		t.Fatalf("runConversation error = %v, want ErrLimitReached", err)
	}
	if dialed {
		t.Fatal("second session dialed the remote service")
	}

	unregister()
	conn := newScriptedConn()
	deps = testDeps(conn, &syncBuffer{}, nil, nil)
	deps.tracker = tracker
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runConversation(ctx, discardLogger(), testConfig(), runOptions{}, deps) }()
	waitForCount(t, tracker, 1)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runConversation error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runConversation did not return after cancel")
	}
	if got := tracker.Count(); got != 0 {
		t.Fatalf("tracker Count = %d after shutdown, want 0", got)
	}
}

func waitForCount(t *testing.T, tracker *sessions.Tracker, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tracker.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("tracker Count = %d, want %d", tracker.Count(), want)
}

func TestRunConversation_MissingDeps(t *testing.T) {
	if err := runConversation(context.Background(), nil, testConfig(), runOptions{}, runDeps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestNewConnector(t *testing.T) {
	cfg := testConfig()
	cfg.Endpoint = "ws://localhost:1234/live"

	c, err := newConnector(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("newConnector error: %v", err)
	}
	ws, ok := c.(*remote.WebSocketConnector)
	if !ok {
		t.Fatalf("connector = %T, want *remote.WebSocketConnector", c)
	}
	if ws.Endpoint != cfg.Endpoint || ws.APIKey != "test-key" || ws.HandshakeTimeout != time.Second {
		t.Fatalf("connector = %+v", ws)
	}

	cfg.Backend = config.BackendGenAI
	cfg.APIKey = ""
	if _, err := newConnector(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for genai backend without api key")
	}
}

func TestConsole_CommitsLineWhenEntryChanges(t *testing.T) {
	var buf bytes.Buffer
	now := time.Unix(1000, 0)
	c := newConsole(&buf, func() time.Time { return now })

	c.state(session.StateConnected)
	now = now.Add(65 * time.Second)
	c.message(transcript.Event{ID: "a", Role: transcript.RoleUser, Text: "I goed"})
	c.message(transcript.Event{ID: "a", Role: transcript.RoleUser, Text: "I goed home"})
	c.message(transcript.Event{ID: "b", Role: transcript.RoleAssistant, Text: "You mean\n'I went'."})

	got := buf.String()
	if strings.Count(got, "\r\n") != 1 {
		t.Fatalf("expected one committed line, got %q", got)
	}
	if !strings.Contains(got, "[01:05]") {
		t.Fatalf("missing elapsed time: %q", got)
	}
	if !strings.Contains(got, "you: I goed home\r\n") {
		t.Fatalf("user line not committed: %q", got)
	}
	if !strings.HasSuffix(got, "tutor: You mean 'I went'.") {
		t.Fatalf("tutor line not rendered: %q", got)
	}
}

func TestConsole_Meter(t *testing.T) {
	c := newConsole(io.Discard, nil)

	c.level = 0
	if got := c.meter(); got != "[          ]" {
		t.Fatalf("meter(0) = %q", got)
	}
	c.level = 1
	if got := c.meter(); got != "[##########]" {
		t.Fatalf("meter(1) = %q", got)
	}
	c.level = 0.125
	if got := c.meter(); got != "[#####     ]" {
		t.Fatalf("meter(0.125) = %q", got)
	}
	c.muted = true
	if got := c.meter(); got != "[muted     ]" {
		t.Fatalf("muted meter = %q", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{-time.Second, "00:00"},
		{59*time.Second + 900*time.Millisecond, "00:59"},
		{61 * time.Second, "01:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tc := range tests {
		if got := formatElapsed(tc.in); got != tc.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReadKeys_StopsWhenHandlerDeclines(t *testing.T) {
	var got []byte
	readKeys(strings.NewReader("mmqx"), func(b byte) bool {
		got = append(got, b)
		return b != 'q'
	})
	if string(got) != "mmq" {
		t.Fatalf("keys = %q, want mmq", got)
	}
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	printDevices(&buf, []capture.DeviceInfo{{Name: "Built-in Microphone", Default: true}, {Name: "USB Headset"}})
	want := "* 0: Built-in Microphone\n  1: USB Headset\n"
	if buf.String() != want {
		t.Fatalf("printDevices = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	printDevices(&buf, nil)
	if !strings.Contains(buf.String(), "no capture devices") {
		t.Fatalf("printDevices(nil) = %q", buf.String())
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.LogLevel = "warn"
	cfg.LogFormat = "json"

	logger := setupLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "seq", 3)

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("info logged at warn level: %q", got)
	}
	if !strings.Contains(got, `"msg":"shown"`) || !strings.Contains(got, `"seq":3`) {
		t.Fatalf("expected json record, got %q", got)
	}
}
