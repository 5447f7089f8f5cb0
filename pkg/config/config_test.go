package config

import (
	"strings"
	"testing"
	"time"

	"github.com/vango-go/lingo-live/pkg/live/protocol"
)

var liveEnvKeys = []string{
	"LINGO_LIVE_BACKEND",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
	"LINGO_LIVE_MODEL",
	"LINGO_LIVE_VOICE",
	"LINGO_LIVE_LANGUAGE",
	"LINGO_LIVE_ENDPOINT",
	"LINGO_LIVE_SETTLE_DELAY",
	"LINGO_LIVE_OPENING_TURN",
	"LINGO_LIVE_FRAME_SAMPLES",
	"LINGO_LIVE_SEND_QUEUE",
	"LINGO_LIVE_MAX_SESSION_DURATION",
	"LINGO_LIVE_CONNECT_TIMEOUT",
	"LINGO_LIVE_MIC_DEVICE",
	"LINGO_LIVE_PLAYBACK_BUFFER",
	"LINGO_LIVE_LOG_LEVEL",
	"LINGO_LIVE_LOG_FORMAT",
	"LINGO_LIVE_METRICS_ADDR",
}

func clearLiveEnv(t *testing.T) {
	t.Helper()
	for _, key := range liveEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearLiveEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.Backend != BackendWebSocket {
		t.Fatalf("Backend=%q, want websocket", cfg.Backend)
	}
	if cfg.Model != protocol.DefaultModel {
		t.Fatalf("Model=%q", cfg.Model)
	}
	if cfg.Voice != "Kore" {
		t.Fatalf("Voice=%q, want Kore", cfg.Voice)
	}
	if cfg.SettleDelay != 500*time.Millisecond {
		t.Fatalf("SettleDelay=%v", cfg.SettleDelay)
	}
	if cfg.FrameSamples != 4096 || cfg.SendQueue != 32 {
		t.Fatalf("FrameSamples=%d SendQueue=%d", cfg.FrameSamples, cfg.SendQueue)
	}
	if cfg.MaxSessionDuration != time.Hour {
		t.Fatalf("MaxSessionDuration=%v, want 1h", cfg.MaxSessionDuration)
	}
	if cfg.ConnectTimeout != 15*time.Second {
		t.Fatalf("ConnectTimeout=%v", cfg.ConnectTimeout)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("LogLevel=%q LogFormat=%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MetricsAddr != "" {
		t.Fatalf("MetricsAddr=%q, want disabled", cfg.MetricsAddr)
	}
	if err := cfg.RequireAPIKey(); err == nil {
		t.Fatalf("expected missing api key error")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearLiveEnv(t)
	t.Setenv("LINGO_LIVE_BACKEND", "GenAI")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("LINGO_LIVE_VOICE", "Puck")
	t.Setenv("LINGO_LIVE_SETTLE_DELAY", "1s")
	t.Setenv("LINGO_LIVE_FRAME_SAMPLES", "2048")
	t.Setenv("LINGO_LIVE_MIC_DEVICE", "USB")
	t.Setenv("LINGO_LIVE_LOG_FORMAT", "JSON")
	t.Setenv("LINGO_LIVE_METRICS_ADDR", ":9090")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.Backend != BackendGenAI {
		t.Fatalf("Backend=%q, want genai", cfg.Backend)
	}
	if cfg.APIKey != "google-key" {
		t.Fatalf("APIKey=%q", cfg.APIKey)
	}
	if cfg.Voice != "Puck" || cfg.SettleDelay != time.Second || cfg.FrameSamples != 2048 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.MicDevice != "USB" || cfg.LogFormat != "json" || cfg.MetricsAddr != ":9090" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadFromEnv_GeminiKeyWins(t *testing.T) {
	clearLiveEnv(t)
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.APIKey != "gemini-key" {
		t.Fatalf("APIKey=%q, want gemini-key", cfg.APIKey)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		t.Fatalf("RequireAPIKey error: %v", err)
	}
}

func TestLoadFromEnv_InvalidNumbersFallBack(t *testing.T) {
	clearLiveEnv(t)
	t.Setenv("LINGO_LIVE_SEND_QUEUE", "lots")
	t.Setenv("LINGO_LIVE_CONNECT_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.SendQueue != 32 || cfg.ConnectTimeout != 15*time.Second {
		t.Fatalf("SendQueue=%d ConnectTimeout=%v", cfg.SendQueue, cfg.ConnectTimeout)
	}
}

func TestLoadFromEnv_ValidationNamesVariable(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"LINGO_LIVE_BACKEND", "grpc"},
		{"LINGO_LIVE_SETTLE_DELAY", "-1s"},
		{"LINGO_LIVE_FRAME_SAMPLES", "0"},
		{"LINGO_LIVE_SEND_QUEUE", "-3"},
		{"LINGO_LIVE_MAX_SESSION_DURATION", "0s"},
		{"LINGO_LIVE_CONNECT_TIMEOUT", "0s"},
		{"LINGO_LIVE_PLAYBACK_BUFFER", "0s"},
		{"LINGO_LIVE_LOG_LEVEL", "trace"},
		{"LINGO_LIVE_LOG_FORMAT", "xml"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			clearLiveEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("error %q does not name %s", err, tc.key)
			}
		})
	}
}
