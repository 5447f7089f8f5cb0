// Package remote opens live sessions with the Gemini Live service.
package remote

import (
	"context"

	"github.com/vango-go/lingo-live/pkg/live/protocol"
)

// Conn is an open remote session. Send methods may be called from any
// goroutine. Receive must be called from a single goroutine.
type Conn interface {
	SendRealtimeAudio(blob protocol.Blob) error
	SendClientContent(content protocol.ClientContent) error
	// Receive blocks for the next server message. It returns io.EOF once the
	// remote side closes normally or Close has been called. A decode error
	// affects only that message.
	Receive() (*protocol.ServerMessage, error)
	Close() error
}

// Connector opens a session and returns once the setup has been acknowledged.
type Connector interface {
	Connect(ctx context.Context, cfg protocol.SessionConfig) (Conn, error)
}
