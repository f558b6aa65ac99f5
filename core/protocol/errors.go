package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol marks a message that could not be understood. It is never
// fatal to a session.
var ErrProtocol = errors.New("protocol error")

// DecodeError describes why a single raw message was rejected.
type DecodeError struct {
	// Type is the wire type if it could be read.
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("failed to decode message: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode %q message: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrProtocol, e.Err}
}
