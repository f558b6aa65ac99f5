package realtime

import "errors"

var (
	// ErrConnection ends a session, the supervisor retries after a delay.
	ErrConnection = errors.New("realtime connection lost")
	// ErrToolArgs means the model called a tool with unusable arguments.
	ErrToolArgs = errors.New("invalid tool arguments")
	// ErrRetrieval means the knowledge lookup failed or timed out.
	ErrRetrieval = errors.New("knowledge retrieval failed")
	// ErrAudioDevice stops the pipeline that owns the device for the
	// current session only.
	ErrAudioDevice = errors.New("audio device error")
	// ErrFatalConfig is never retried.
	ErrFatalConfig = errors.New("fatal configuration error")
)
