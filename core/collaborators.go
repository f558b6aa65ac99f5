package realtime

import (
	"context"
	"time"

	"github.com/andje/ivr-realtime/core/metrics"
)

// Conn is one established realtime connection. ReadMessage is only called
// from the event pump; WriteMessages must write its frames back to back and
// be safe for concurrent use; Close must be idempotent and unblock a
// pending ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessages(frames ...[]byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Recorder collects the metrics of one call. It is used from several
// goroutines at once.
type Recorder interface {
	StartStep(name string)
	EndStep(name string) time.Duration
	SetSessionID(id string)
	RecordTranscript(kind metrics.TranscriptKind, text string)
	RecordTokens(input, output int)
	RecordAudio(direction metrics.AudioDirection, n int)
	RecordLookup(found bool)
	RecordBargeIn()
	RecordResponse(status string)
	Finalize() metrics.Summary
}

// RecorderFactory creates the recorder of a new call.
type RecorderFactory func(callID string) Recorder

type SummaryStore interface {
	Save(summary metrics.Summary) error
}

func newDefaultRecorder(callID string) Recorder {
	return metrics.NewCallRecorder(callID, nil)
}
