// Package protocol defines the JSON messages of the Gemini Live
// BidiGenerateContent WebSocket API used by live sessions.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/vango-go/lingo-live/pkg/core"
	"github.com/vango-go/lingo-live/pkg/core/pcm"
)

const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice = "Kore"

	ModalityAudio = "AUDIO"
	RoleUser      = "user"
	RoleModel     = "model"
)

// Blob is inline media. Data is standard base64.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig  *VoiceConfig `json:"voiceConfig,omitempty"`
	LanguageCode string       `json:"languageCode,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// AudioTranscriptionConfig enables transcription. It has no fields.
type AudioTranscriptionConfig struct{}

type Setup struct {
	Model                    string                    `json:"model"`
	GenerationConfig         *GenerationConfig         `json:"generationConfig,omitempty"`
	SystemInstruction        *Content                  `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
}

type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

type RealtimeInput struct {
	Audio          *Blob `json:"audio,omitempty"`
	AudioStreamEnd bool  `json:"audioStreamEnd,omitempty"`
}

// ClientMessage is one outbound frame. Exactly one field is set.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
}

type Transcription struct {
	Text     string `json:"text,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}

// ServerMessage is one inbound frame.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// SessionConfig is what a session asks of the remote service.
type SessionConfig struct {
	Model        string
	SystemPrompt string
	VoiceID      string
	LanguageCode string
}

// ModelName returns the model in "models/..." resource form.
func ModelName(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	if strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "projects/") {
		return model
	}
	return "models/" + model
}

// NewSetup builds the setup frame: audio responses with a prebuilt voice, the
// system instruction, and transcription of both directions.
func NewSetup(cfg SessionConfig) Setup {
	voice := strings.TrimSpace(cfg.VoiceID)
	if voice == "" {
		voice = DefaultVoice
	}
	setup := Setup{
		Model: ModelName(cfg.Model),
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{ModalityAudio},
			SpeechConfig: &SpeechConfig{
				VoiceConfig: &VoiceConfig{
					PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: voice},
				},
				LanguageCode: cfg.LanguageCode,
			},
		},
		InputAudioTranscription:  &AudioTranscriptionConfig{},
		OutputAudioTranscription: &AudioTranscriptionConfig{},
	}
	if strings.TrimSpace(cfg.SystemPrompt) != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemPrompt}}}
	}
	return setup
}

// TextTurn builds a complete user turn carrying text.
func TextTurn(text string) ClientContent {
	return ClientContent{
		Turns:        []Content{{Role: RoleUser, Parts: []Part{{Text: text}}}},
		TurnComplete: true,
	}
}

// AudioBlob wraps base64 PCM16 for realtime input.
func AudioBlob(format pcm.Format, data string) Blob {
	return Blob{MimeType: format.MimeType(), Data: data}
}

// DecodeServerMessage parses one inbound frame.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, core.NewDecodeError("invalid server frame", err)
	}
	return &msg, nil
}

// IsAudio reports whether an inline blob carries PCM audio. An empty MIME
// type is treated as audio.
func (b *Blob) IsAudio() bool {
	if b == nil {
		return false
	}
	mt := strings.ToLower(strings.TrimSpace(b.MimeType))
	return mt == "" || strings.HasPrefix(mt, "audio/pcm")
}

// AudioChunks returns the inline audio parts of the model turn in order.
func (c *ServerContent) AudioChunks() []*Blob {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var out []*Blob
	for i := range c.ModelTurn.Parts {
		if b := c.ModelTurn.Parts[i].InlineData; b.IsAudio() {
			out = append(out, b)
		}
	}
	return out
}
