package audio

import (
	"context"
	"errors"
)

var ErrDeviceClosed = errors.New("audio device closed")

// Gateway opens device streams at a fixed encoding. A gateway lives for the
// whole process; devices are opened and closed once per connected session.
type Gateway interface {
	OpenInput(encoding EncodingInfo) (InputDevice, error)
	OpenOutput(encoding EncodingInfo) (OutputDevice, error)
	Close()
}

// InputDevice is owned by a single reader.
type InputDevice interface {
	// ReadChunk blocks until a full chunk has been captured. The returned
	// slice is only valid until the next call.
	ReadChunk(ctx context.Context) ([]byte, error)
	Close() error
}

// OutputDevice is not safe for concurrent use, callers serialize writes,
// clears and close.
type OutputDevice interface {
	WriteChunk(audio []byte) error
	// Clear drops any audio buffered by the device that has not been played
	// yet.
	Clear()
	// Drain plays out audio the device holds back for a full buffer, so the
	// end of a reply is heard and nothing carries into the next one.
	Drain() error
	Close() error
}
