package session

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/lingo-live/pkg/core/capture"
	"github.com/vango-go/lingo-live/pkg/core/transcript"
	"github.com/vango-go/lingo-live/pkg/live/metrics"
	"github.com/vango-go/lingo-live/pkg/live/protocol"
)

const (
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultSendQueue   = 32
	DefaultOpeningTurn = "Hello teacher, I am connected and ready to learn."

	microphoneErrorText = "Error: Could not access microphone. Please check your microphone permissions."
)

// Config configures a Session. Zero values take defaults.
type Config struct {
	Model        string
	VoiceID      string
	LanguageCode string

	// SettleDelay is how long to wait after connecting before the opening turn.
	SettleDelay time.Duration
	// OpeningTurn is sent as a user turn so the tutor starts talking.
	OpeningTurn     string
	SkipOpeningTurn bool

	FrameSamples int
	// SendQueue bounds the outbound frame queue. Frames beyond it are dropped.
	SendQueue int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = protocol.DefaultModel
	}
	if strings.TrimSpace(c.VoiceID) == "" {
		c.VoiceID = protocol.DefaultVoice
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.OpeningTurn == "" {
		c.OpeningTurn = DefaultOpeningTurn
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = capture.DefaultBlockSize
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Callbacks receive session output. Any may be nil. They are called from
// session goroutines and the capture thread, so they should return quickly.
type Callbacks struct {
	OnMessageUpdate func(transcript.Event)
	OnAudioLevel    func(level float64)
	OnDisconnect    func()
	OnStateChange   func(State)
}

// TutorPrompt builds the system instruction for a conversation about a topic.
func TutorPrompt(title, category string) string {
	var b strings.Builder
	b.WriteString("You are an expert English language tutor talking with a student.\n")
	if category != "" {
		fmt.Fprintf(&b, "Hold a spoken conversation about the topic %q (%s).\n", title, category)
	} else {
		fmt.Fprintf(&b, "Hold a spoken conversation about the topic %q.\n", title)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("1. Correct every grammar, pronunciation or vocabulary mistake the student makes.\n")
	b.WriteString("2. After each correction, explain the rule in one or two sentences.\n")
	fmt.Fprintf(&b, "3. Keep the conversation going with questions about %s.\n", title)
	b.WriteString("4. Speak clearly with a natural English accent.\n")
	b.WriteString("5. Begin right away by introducing yourself and the topic.\n")
	return b.String()
}
