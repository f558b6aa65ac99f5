package realtime

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/andje/ivr-realtime/core/metrics"
	"github.com/andje/ivr-realtime/core/protocol"
)

type State int

const (
	StateConnecting State = iota
	StateIdle
	StateResponding
	StateInterrupted
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateResponding:
		return "responding"
	case StateInterrupted:
		return "interrupted"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

type Transcript struct {
	CallID  string
	Speaker Speaker
	Text    string
	Final   bool
}

type callbacks struct {
	onTranscript  func(Transcript)
	onStateChange func(callID string, state State)
	onSessionEnd  func(SessionSummary)
}

// session lives for one connection. state, currentResponseID and
// bargeInActive belong to the event pump goroutine; other goroutines only
// see the atomics.
type session struct {
	callID     string
	cfg        Config
	conn       Conn
	recorder   Recorder
	playback   *playback
	dispatcher *toolDispatcher
	callbacks  callbacks

	state             State
	currentResponseID string
	bargeInActive     bool
	remoteSessionID   string

	established       atomic.Bool
	gracefulRequested atomic.Bool
}

func newSession(callID string, cfg Config, conn Conn, recorder Recorder, playback *playback, cb callbacks) *session {
	s := &session{
		callID:    callID,
		cfg:       cfg,
		conn:      conn,
		recorder:  recorder,
		playback:  playback,
		callbacks: cb,
		state:     StateConnecting,
	}
	return s
}

// send encodes commands and writes them as one uninterrupted batch.
func (s *session) send(cmds ...protocol.Command) error {
	frames := make([][]byte, 0, len(cmds))
	for _, cmd := range cmds {
		frame, err := protocol.Encode(cmd)
		if err != nil {
			return err
		}
		frames = append(frames, frame)
	}
	if err := s.conn.WriteMessages(frames...); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmds[0].Kind(), err)
	}
	return nil
}

// pump reads and handles inbound events until the connection fails.
func (s *session) pump(ctx context.Context) error {
	for {
		raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		event, err := protocol.Decode(raw)
		if err != nil {
			logger.Debug("dropping undecodable message", "call_id", s.callID, "error", err)
			continue
		}
		s.handle(ctx, event)
	}
}

func (s *session) setState(state State) {
	if s.state == state {
		return
	}
	logger.Debug("session state changed", "call_id", s.callID, "from", s.state.String(), "to", state.String())
	s.state = state
	if s.callbacks.onStateChange != nil {
		s.callbacks.onStateChange(s.callID, state)
	}
}

func (s *session) handle(ctx context.Context, event protocol.Event) {
	if s.state == StateConnecting && isResponseEvent(event) {
		logger.Debug("ignoring response event before the session is configured", "call_id", s.callID, "type", string(event.Kind()))
		return
	}

	switch e := event.(type) {
	case protocol.SessionCreated:
		s.remoteSessionID = e.SessionID
		s.recorder.SetSessionID(e.SessionID)
		if err := s.send(protocol.SessionUpdate{Session: s.cfg.Session}); err != nil {
			logger.Warn("failed to configure session", "call_id", s.callID, "error", err)
		}

	case protocol.SessionUpdated:
		if !s.established.Load() {
			s.recorder.EndStep(metrics.StepConnect)
			s.established.Store(true)
			s.setState(StateIdle)
			logger.Info("realtime session ready", "call_id", s.callID, "session_id", s.remoteSessionID)
		}

	case protocol.ResponseCreated:
		s.currentResponseID = e.ID
		s.bargeInActive = false
		s.recorder.StartStep(metrics.StepResponse)
		s.setState(StateResponding)

	case protocol.ResponseDone:
		if s.currentResponseID != "" && e.ID != "" && e.ID != s.currentResponseID {
			logger.Debug("ignoring done for stale response", "call_id", s.callID, "response_id", e.ID)
			return
		}
		if s.state == StateResponding || s.state == StateInterrupted {
			s.recorder.EndStep(metrics.StepResponse)
		}
		s.recorder.RecordResponse(e.Status)
		s.recorder.RecordTokens(e.Usage.InputTokens, e.Usage.OutputTokens)
		s.currentResponseID = ""
		if s.state != StateConnecting {
			s.setState(StateIdle)
		}

	case protocol.SpeechStarted:
		if s.state == StateResponding {
			s.bargeIn()
		}

	case protocol.SpeechStopped:
		logger.Debug("user stopped speaking", "call_id", s.callID)

	case protocol.AudioDelta:
		if !s.acceptsAudio(e.ResponseID) {
			return
		}
		s.playback.enqueue(e.Audio)
		s.recorder.RecordAudio(metrics.AudioOut, len(e.Audio))

	case protocol.AudioDone:
		if s.acceptsAudio(e.ResponseID) {
			s.playback.drain()
		}

	case protocol.TextDelta:
		s.emitTranscript(SpeakerAssistant, e.Delta, false)

	case protocol.TextDone:
		s.recorder.RecordTranscript(metrics.TranscriptAssistant, e.Text)
		s.emitTranscript(SpeakerAssistant, e.Text, true)

	case protocol.AudioTranscriptDelta:
		s.emitTranscript(SpeakerAssistant, e.Delta, false)

	case protocol.AudioTranscriptDone:
		s.recorder.RecordTranscript(metrics.TranscriptAssistant, e.Transcript)
		s.emitTranscript(SpeakerAssistant, e.Transcript, true)

	case protocol.InputTranscriptCompleted:
		s.recorder.RecordTranscript(metrics.TranscriptUser, e.Transcript)
		s.emitTranscript(SpeakerUser, e.Transcript, true)

	case protocol.FunctionCallArgsDone:
		s.dispatcher.dispatch(ctx, e)

	case protocol.Error:
		if e.IsBenign() {
			logger.Debug("ignoring benign remote error", "call_id", s.callID, "message", e.Message)
			return
		}
		logger.Warn("remote error", "call_id", s.callID, "type", e.Type, "code", e.Code, "message", e.Message)

	default:
		logger.Debug("ignoring event", "call_id", s.callID, "type", string(event.Kind()))
	}
}

// isResponseEvent reports whether event belongs to a response lifecycle.
func isResponseEvent(event protocol.Event) bool {
	switch event.(type) {
	case protocol.ResponseCreated, protocol.ResponseDone, protocol.AudioDelta,
		protocol.AudioDone, protocol.FunctionCallArgsDone:
		return true
	}
	return false
}

// acceptsAudio reports whether an audio delta may reach the speaker.
func (s *session) acceptsAudio(responseID string) bool {
	if s.state != StateResponding || s.bargeInActive {
		return false
	}
	return responseID == "" || s.currentResponseID == "" || responseID == s.currentResponseID
}

func (s *session) emitTranscript(speaker Speaker, text string, final bool) {
	if s.callbacks.onTranscript == nil || text == "" {
		return
	}
	s.callbacks.onTranscript(Transcript{CallID: s.callID, Speaker: speaker, Text: text, Final: final})
}
