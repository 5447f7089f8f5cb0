package core

import (
	"errors"
	"fmt"
)

// Error represents a live session error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Op      string    `json:"op,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	// ErrCapture means the microphone is unavailable or access was denied.
	ErrCapture ErrorType = "capture_error"
	// ErrConnection covers remote open, send and receive failures.
	ErrConnection ErrorType = "connection_error"
	// ErrDecode marks a malformed inbound payload. Local to one message.
	ErrDecode ErrorType = "decode_error"
	// ErrPlayback means the speaker output could not be opened or scheduled.
	ErrPlayback ErrorType = "playback_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewCaptureError creates a capture error.
func NewCaptureError(message string, underlying error) *Error {
	return &Error{
		Type:    ErrCapture,
		Message: message,
		Err:     underlying,
	}
}

// NewConnectionError creates a connection error for the given operation.
func NewConnectionError(op string, underlying error) *Error {
	msg := "remote connection failed"
	if underlying == nil {
		msg = "remote connection closed"
	}
	return &Error{
		Type:    ErrConnection,
		Message: msg,
		Op:      op,
		Err:     underlying,
	}
}

// NewDecodeError creates a decode error.
func NewDecodeError(message string, underlying error) *Error {
	return &Error{
		Type:    ErrDecode,
		Message: message,
		Err:     underlying,
	}
}

// NewPlaybackError creates a playback error.
func NewPlaybackError(message string, underlying error) *Error {
	return &Error{
		Type:    ErrPlayback,
		Message: message,
		Err:     underlying,
	}
}

// IsType reports whether any error in err's chain is an *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// IsFatal returns true if the error ends the session.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrConnection:
		return true
	default:
		return false
	}
}
