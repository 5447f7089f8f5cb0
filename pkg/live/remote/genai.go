package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/lingo-live/pkg/core"
	"github.com/vango-go/lingo-live/pkg/core/pcm"
	"github.com/vango-go/lingo-live/pkg/live/protocol"
)

// GenAIConnector opens sessions through the google.golang.org/genai SDK,
// which also covers Vertex AI credentials.
type GenAIConnector struct {
	Client *genai.Client
	Logger *slog.Logger
}

// NewGenAIConnector creates a connector for the Gemini API backend.
func NewGenAIConnector(ctx context.Context, apiKey string, logger *slog.Logger) (*GenAIConnector, error) {
	if apiKey == "" {
		return nil, core.NewInvalidRequestError("an API key is required for the genai backend")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIConnector{Client: client, Logger: logger}, nil
}

// LiveConnectConfig translates a session config into the SDK's form.
func LiveConnectConfig(cfg protocol.SessionConfig) *genai.LiveConnectConfig {
	setup := protocol.NewSetup(cfg)
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName,
				},
			},
			LanguageCode: cfg.LanguageCode,
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if setup.SystemInstruction != nil {
		out.SystemInstruction = genai.NewContentFromText(cfg.SystemPrompt, genai.RoleUser)
	}
	return out
}

type connectResult struct {
	session *genai.Session
	err     error
}

// Connect opens a live session and waits for setupComplete. ctx bounds the
// dial, but the handshake Session.Receive cannot be canceled, so cancellation
// abandons it and closes the session when it eventually returns.
func (c *GenAIConnector) Connect(ctx context.Context, cfg protocol.SessionConfig) (Conn, error) {
	if c.Client == nil {
		return nil, core.NewInvalidRequestError("genai client is not initialized")
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	model := protocol.ModelName(cfg.Model)
	liveCfg := LiveConnectConfig(cfg)

	results := make(chan connectResult, 1)
	go func() {
		session, err := c.Client.Live.Connect(ctx, model, liveCfg)
		if err != nil {
			results <- connectResult{err: err}
			return
		}
		msg, err := session.Receive()
		if err == nil && msg.SetupComplete == nil {
			err = errors.New("unexpected first server message")
		}
		if err != nil {
			_ = session.Close()
			results <- connectResult{err: err}
			return
		}
		results <- connectResult{session: session}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, core.NewConnectionError("connect", res.err)
		}
		logger.Debug("live session established", "backend", "genai", "model", model)
		return &genaiConn{session: res.session}, nil
	case <-ctx.Done():
		go func() {
			if res := <-results; res.session != nil {
				_ = res.session.Close()
			}
		}()
		return nil, core.NewConnectionError("connect", context.Cause(ctx))
	}
}

type genaiConn struct {
	session *genai.Session
	closed  atomic.Bool
}

func (c *genaiConn) SendRealtimeAudio(blob protocol.Blob) error {
	if c.closed.Load() {
		return core.NewConnectionError("send", nil)
	}
	data, err := pcm.TransportTextToBytes(blob.Data)
	if err != nil {
		return err
	}
	err = c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: data, MIMEType: blob.MimeType},
	})
	if err != nil {
		return core.NewConnectionError("send", err)
	}
	return nil
}

func (c *genaiConn) SendClientContent(content protocol.ClientContent) error {
	if c.closed.Load() {
		return core.NewConnectionError("send", nil)
	}
	turns := make([]*genai.Content, 0, len(content.Turns))
	for _, turn := range content.Turns {
		for _, part := range turn.Parts {
			if part.Text == "" {
				continue
			}
			turns = append(turns, genai.NewContentFromText(part.Text, genai.Role(turn.Role)))
		}
	}
	turnComplete := content.TurnComplete
	err := c.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        turns,
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return core.NewConnectionError("send", err)
	}
	return nil
}

func (c *genaiConn) Receive() (*protocol.ServerMessage, error) {
	msg, err := c.session.Receive()
	if err != nil {
		if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, core.NewConnectionError("receive", err)
	}
	return fromGenAI(msg), nil
}

func (c *genaiConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.session.Close()
}

// fromGenAI maps an SDK message onto the wire types. Inline audio bytes are
// re-encoded as base64 so both backends share one dispatch path.
func fromGenAI(msg *genai.LiveServerMessage) *protocol.ServerMessage {
	out := &protocol.ServerMessage{}
	if msg == nil {
		return out
	}
	if msg.SetupComplete != nil {
		out.SetupComplete = &struct{}{}
	}
	if msg.GoAway != nil {
		out.GoAway = &protocol.GoAway{TimeLeft: msg.GoAway.TimeLeft.String()}
	}
	if msg.UsageMetadata != nil {
		out.UsageMetadata = &protocol.UsageMetadata{
			PromptTokenCount:   int(msg.UsageMetadata.PromptTokenCount),
			ResponseTokenCount: int(msg.UsageMetadata.ResponseTokenCount),
			TotalTokenCount:    int(msg.UsageMetadata.TotalTokenCount),
		}
	}
	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	content := &protocol.ServerContent{
		TurnComplete:       sc.TurnComplete,
		GenerationComplete: sc.GenerationComplete,
		Interrupted:        sc.Interrupted,
	}
	if sc.InputTranscription != nil {
		content.InputTranscription = &protocol.Transcription{Text: sc.InputTranscription.Text, Finished: sc.InputTranscription.Finished}
	}
	if sc.OutputTranscription != nil {
		content.OutputTranscription = &protocol.Transcription{Text: sc.OutputTranscription.Text, Finished: sc.OutputTranscription.Finished}
	}
	if sc.ModelTurn != nil {
		turn := &protocol.Content{Role: sc.ModelTurn.Role}
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			p := protocol.Part{Text: part.Text}
			if part.InlineData != nil {
				p.InlineData = &protocol.Blob{
					MimeType: part.InlineData.MIMEType,
					Data:     pcm.BytesToTransportText(part.InlineData.Data),
				}
			}
			turn.Parts = append(turn.Parts, p)
		}
		content.ModelTurn = turn
	}
	out.ServerContent = content
	return out
}
