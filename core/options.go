package realtime

import (
	"github.com/andje/ivr-realtime/core/audio"
	"github.com/andje/ivr-realtime/core/knowledge"
	"github.com/cenkalti/backoff/v5"
)

type SupervisorOption func(*Supervisor)

func WithDialer(dialer Dialer) SupervisorOption {
	return func(s *Supervisor) {
		s.dialer = dialer
	}
}

func WithAudioGateway(gateway audio.Gateway) SupervisorOption {
	return func(s *Supervisor) {
		s.gateway = gateway
	}
}

// WithRetriever sets the knowledge backend used to answer tool calls.
// Without one every lookup answers with the not found fallback.
func WithRetriever(retriever knowledge.Retriever) SupervisorOption {
	return func(s *Supervisor) {
		s.retriever = retriever
	}
}

func WithRecorderFactory(factory RecorderFactory) SupervisorOption {
	return func(s *Supervisor) {
		if factory != nil {
			s.newRecorder = factory
		}
	}
}

// WithSummaryStore persists the summary of every established call.
func WithSummaryStore(store SummaryStore) SupervisorOption {
	return func(s *Supervisor) {
		s.store = store
	}
}

// WithBackOff replaces the reconnect delay policy derived from Config.
func WithBackOff(newBackOff func() backoff.BackOff) SupervisorOption {
	return func(s *Supervisor) {
		if newBackOff != nil {
			s.newBackOff = newBackOff
		}
	}
}

// WithOnTranscript is called with partial and final transcripts of both
// speakers.
func WithOnTranscript(onTranscript func(Transcript)) SupervisorOption {
	return func(s *Supervisor) {
		s.callbacks.onTranscript = onTranscript
	}
}

func WithOnStateChange(onStateChange func(callID string, state State)) SupervisorOption {
	return func(s *Supervisor) {
		s.callbacks.onStateChange = onStateChange
	}
}

// WithOnSessionEnd is called after a session has been torn down, with its
// final summary.
func WithOnSessionEnd(onSessionEnd func(summary SessionSummary)) SupervisorOption {
	return func(s *Supervisor) {
		s.callbacks.onSessionEnd = onSessionEnd
	}
}
