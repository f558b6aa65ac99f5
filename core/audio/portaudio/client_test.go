package portaudio

import (
	"errors"
	"testing"

	"github.com/andje/ivr-realtime/core/audio"
)

// newTestOutput records every device buffer instead of writing to hardware.
func newTestOutput(frames int) (*outputStream, *[][]int16) {
	var buffers [][]int16
	s := &outputStream{out: make([]int16, frames)}
	s.write = func() error {
		buffers = append(buffers, append([]int16(nil), s.out...))
		return nil
	}
	return s, &buffers
}

func TestWriteChunkHoldsPartialBuffer(t *testing.T) {
	s, buffers := newTestOutput(4)

	if err := s.WriteChunk([]byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(*buffers) != 1 {
		t.Fatalf("expected one full buffer written, got %d", len(*buffers))
	}
	if len(s.leftoverAudio) != 2 {
		t.Fatalf("expected 2 bytes held back, got %d", len(s.leftoverAudio))
	}
}

func TestDrainPlaysRemainderPaddedWithSilence(t *testing.T) {
	s, buffers := newTestOutput(4)

	if err := s.WriteChunk([]byte{7, 0, 8, 0}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(*buffers) != 0 {
		t.Fatalf("expected nothing written before drain, got %d buffers", len(*buffers))
	}

	if err := s.Drain(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(*buffers) != 1 {
		t.Fatalf("expected drained buffer, got %d", len(*buffers))
	}
	want := []int16{7, 8, 0, 0}
	for i, v := range want {
		if (*buffers)[0][i] != v {
			t.Fatalf("expected %v, got %v", want, (*buffers)[0])
		}
	}

	// the next reply starts clean
	if err := s.WriteChunk([]byte{9, 0, 9, 0, 9, 0, 9, 0}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := (*buffers)[1][0]; got != 9 {
		t.Fatalf("expected next reply to start with its own audio, got %d", got)
	}
}

func TestDrainWithNothingHeldBackWritesNothing(t *testing.T) {
	s, buffers := newTestOutput(4)

	if err := s.Drain(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(*buffers) != 0 {
		t.Fatalf("expected no writes, got %d", len(*buffers))
	}
}

func TestDrainAfterCloseFails(t *testing.T) {
	s, _ := newTestOutput(4)
	s.closed = true

	if err := s.Drain(); !errors.Is(err, audio.ErrDeviceClosed) {
		t.Fatalf("expected ErrDeviceClosed, got %v", err)
	}
}

func TestWriteErrorDropsHeldBackAudio(t *testing.T) {
	s, _ := newTestOutput(2)
	s.write = func() error { return errors.New("device gone") }

	if err := s.WriteChunk([]byte{1, 0, 2, 0, 3, 0}); err == nil {
		t.Fatal("expected write error")
	}
	if len(s.leftoverAudio) != 0 {
		t.Fatalf("expected held back audio to be dropped, got %d bytes", len(s.leftoverAudio))
	}
}
