package realtime

import (
	"github.com/andje/ivr-realtime/core/protocol"
)

// bargeIn silences the reply the user is talking over. Audio still queued
// or buffered in the device is dropped before this returns, and further
// deltas of the same response are discarded until the next response starts.
func (s *session) bargeIn() {
	s.bargeInActive = true
	s.setState(StateInterrupted)
	s.playback.flush()
	s.recorder.RecordBargeIn()

	logger.Info("user barged in", "call_id", s.callID, "response_id", s.currentResponseID)

	if s.cfg.autoInterrupt() {
		return
	}
	if err := s.send(protocol.CancelResponse{ResponseID: s.currentResponseID}); err != nil {
		logger.Warn("failed to cancel response", "call_id", s.callID, "error", err)
	}
}
