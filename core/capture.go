package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/andje/ivr-realtime/core/audio"
	"github.com/andje/ivr-realtime/core/metrics"
	"github.com/andje/ivr-realtime/core/protocol"
)

// capture streams microphone chunks for as long as the session lives. Until
// the server has applied the session configuration chunks are read and
// dropped so the device never backs up.
func (s *session) capture(ctx context.Context, device audio.InputDevice) error {
	defer func() {
		if err := device.Close(); err != nil {
			logger.Warn("failed to close input device", "call_id", s.callID, "error", err)
		}
	}()

	for {
		chunk, err := device.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("%w: capture: %w", ErrAudioDevice, err)
		}
		if !s.established.Load() {
			continue
		}

		if err := s.send(protocol.AppendInputAudio{Audio: chunk}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A failed write means the socket is gone, closing it ends the
			// event pump as well.
			logger.Debug("stopping capture after failed send", "call_id", s.callID, "error", err)
			_ = s.conn.Close()
			return nil
		}
		s.recorder.RecordAudio(metrics.AudioIn, len(chunk))
	}
}
