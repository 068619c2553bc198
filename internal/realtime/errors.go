package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport wraps connection-level failures. They end the session.
	ErrTransport = errors.New("transport error")

	// ErrNotConnected is returned when a command is sent outside the Connected state
	ErrNotConnected = errors.New("session not connected")

	// ErrSessionClosed is returned when a torn-down session is reused
	ErrSessionClosed = errors.New("session closed")
)

// ProtocolError is an error event reported by the service
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("service error: %s", e.Message)
	}
	return fmt.Sprintf("service error %s: %s", e.Code, e.Message)
}

// Benign reports whether the error can be ignored
func (e *ProtocolError) Benign() bool {
	return e.Code == ErrorCodeCancelNotActive
}

func protocolErrorFrom(detail *ErrorDetail) *ProtocolError {
	if detail == nil {
		return &ProtocolError{Message: "unknown error"}
	}
	return &ProtocolError{Code: detail.Code, Message: detail.Message}
}
