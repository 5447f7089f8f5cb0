package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/lingo-live/pkg/live/protocol"
)

type Backend string

const (
	BackendWebSocket Backend = "websocket"
	BackendGenAI     Backend = "genai"
)

type Config struct {
	Backend Backend
	APIKey  string

	Model        string
	Voice        string
	LanguageCode string
	// Endpoint overrides the WebSocket URL (websocket backend only).
	Endpoint string

	// Session behavior.
	SettleDelay  time.Duration
	OpeningTurn  string
	FrameSamples int
	SendQueue    int

	// Application limits.
	MaxSessionDuration time.Duration
	ConnectTimeout     time.Duration

	// Audio devices.
	MicDevice         string
	PlaybackBufferDur time.Duration

	// Observability.
	LogLevel    string
	LogFormat   string
	MetricsAddr string // empty => disabled
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Backend:            Backend(strings.ToLower(envOr("LINGO_LIVE_BACKEND", string(BackendWebSocket)))),
		APIKey:             envOr("GEMINI_API_KEY", envOr("GOOGLE_API_KEY", "")),
		Model:              envOr("LINGO_LIVE_MODEL", protocol.DefaultModel),
		Voice:              envOr("LINGO_LIVE_VOICE", protocol.DefaultVoice),
		LanguageCode:       envOr("LINGO_LIVE_LANGUAGE", ""),
		Endpoint:           envOr("LINGO_LIVE_ENDPOINT", ""),
		SettleDelay:        envDurationOr("LINGO_LIVE_SETTLE_DELAY", 500*time.Millisecond),
		OpeningTurn:        envOr("LINGO_LIVE_OPENING_TURN", ""),
		FrameSamples:       envIntOr("LINGO_LIVE_FRAME_SAMPLES", 4096),
		SendQueue:          envIntOr("LINGO_LIVE_SEND_QUEUE", 32),
		MaxSessionDuration: envDurationOr("LINGO_LIVE_MAX_SESSION_DURATION", time.Hour),
		ConnectTimeout:     envDurationOr("LINGO_LIVE_CONNECT_TIMEOUT", 15*time.Second),
		MicDevice:          envOr("LINGO_LIVE_MIC_DEVICE", ""),
		PlaybackBufferDur:  envDurationOr("LINGO_LIVE_PLAYBACK_BUFFER", 100*time.Millisecond),
		LogLevel:           strings.ToLower(envOr("LINGO_LIVE_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(envOr("LINGO_LIVE_LOG_FORMAT", "text")),
		MetricsAddr:        envOr("LINGO_LIVE_METRICS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that may also have been overridden by flags.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendWebSocket, BackendGenAI:
	default:
		return fmt.Errorf("LINGO_LIVE_BACKEND must be one of websocket|genai")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("LINGO_LIVE_MODEL must not be empty")
	}
	if c.SettleDelay <= 0 {
		return fmt.Errorf("LINGO_LIVE_SETTLE_DELAY must be > 0")
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("LINGO_LIVE_FRAME_SAMPLES must be > 0")
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("LINGO_LIVE_SEND_QUEUE must be > 0")
	}
	if c.MaxSessionDuration <= 0 {
		return fmt.Errorf("LINGO_LIVE_MAX_SESSION_DURATION must be > 0")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("LINGO_LIVE_CONNECT_TIMEOUT must be > 0")
	}
	if c.PlaybackBufferDur <= 0 {
		return fmt.Errorf("LINGO_LIVE_PLAYBACK_BUFFER must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LINGO_LIVE_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LINGO_LIVE_LOG_FORMAT must be one of text|json")
	}
	return nil
}

// RequireAPIKey reports a missing key. Listing devices works without one.
func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY or GOOGLE_API_KEY must be set")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
