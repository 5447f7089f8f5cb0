package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/lingo-live/pkg/core"
	"github.com/vango-go/lingo-live/pkg/live/protocol"
)

const (
	// DefaultEndpoint is the Gemini API BidiGenerateContent WebSocket.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	closeWriteTimeout       = 2 * time.Second
	apiKeyHeader            = "x-goog-api-key"
)

// WebSocketConnector speaks the Live JSON protocol directly over a WebSocket.
type WebSocketConnector struct {
	Endpoint string
	APIKey   string
	Dialer   *websocket.Dialer
	// HandshakeTimeout bounds the wait for setupComplete.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound frame. A peer that stops reading
	// fails the send instead of stalling it.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Connect dials the endpoint, sends the setup frame and waits for setupComplete.
func (c *WebSocketConnector) Connect(ctx context.Context, cfg protocol.SessionConfig) (Conn, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := c.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	headers := make(http.Header)
	if c.APIKey != "" {
		headers.Set(apiKeyHeader, c.APIKey)
	}

	ws, resp, err := dialer.DialContext(dialCtx, endpoint, headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, core.NewConnectionError("dial", err)
	}

	writeTimeout := c.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	conn := &wsConn{ws: ws, logger: logger, writeTimeout: writeTimeout}
	setup := protocol.NewSetup(cfg)
	if err := conn.write(protocol.ClientMessage{Setup: &setup}); err != nil {
		_ = ws.Close()
		return nil, core.NewConnectionError("send setup", err)
	}

	// Closing the socket unblocks the handshake read if ctx ends first.
	stop := context.AfterFunc(dialCtx, func() { _ = ws.Close() })
	deadline := time.Now().Add(timeout)
	if d, ok := dialCtx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	first, err := conn.Receive()
	if !stop() {
		_ = ws.Close()
		return nil, core.NewConnectionError("await setup", context.Cause(dialCtx))
	}
	if err != nil {
		_ = ws.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return nil, core.NewConnectionError("await setup", err)
	}
	_ = ws.SetReadDeadline(time.Time{})
	if first.SetupComplete == nil {
		_ = ws.Close()
		return nil, core.NewConnectionError("await setup", errors.New("unexpected first server message"))
	}

	logger.Debug("live session established", "endpoint", endpoint, "model", setup.Model)
	return conn, nil
}

type wsConn struct {
	ws           *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *wsConn) write(msg protocol.ClientMessage) error {
	if c.closed.Load() {
		return core.NewConnectionError("send", nil)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) SendRealtimeAudio(blob protocol.Blob) error {
	if err := c.write(protocol.ClientMessage{RealtimeInput: &protocol.RealtimeInput{Audio: &blob}}); err != nil {
		return wrapSendErr(err)
	}
	return nil
}

func (c *wsConn) SendClientContent(content protocol.ClientContent) error {
	if err := c.write(protocol.ClientMessage{ClientContent: &content}); err != nil {
		return wrapSendErr(err)
	}
	return nil
}

func wrapSendErr(err error) error {
	if core.IsType(err, core.ErrConnection) {
		return err
	}
	return core.NewConnectionError("send", err)
}

func (c *wsConn) Receive() (*protocol.ServerMessage, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil, core.NewConnectionError("receive", fmt.Errorf("closed by server (%d): %s", closeErr.Code, closeErr.Text))
			}
			return nil, core.NewConnectionError("receive", err)
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			// The service sends JSON in binary frames.
			if errFrame := decodeErrorFrame(data); errFrame != nil {
				return nil, errFrame
			}
			return protocol.DecodeServerMessage(data)
		default:
			continue
		}
	}
}

func decodeErrorFrame(data []byte) error {
	var envelope struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error == nil {
		return nil
	}
	return core.NewConnectionError("receive", fmt.Errorf("server error %d %s: %s", envelope.Error.Code, envelope.Error.Status, envelope.Error.Message))
}

// Close does not take writeMu: WriteControl and Close are safe alongside a
// writer, and closing the socket unblocks one stalled in WriteJSON.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWriteTimeout))
		err = c.ws.Close()
	})
	return err
}
