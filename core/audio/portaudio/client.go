package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/andje/ivr-realtime/core/audio"
	"github.com/gordonklaus/portaudio"
)

// Client is a blocking PortAudio gateway. Every session opens its own input
// and output streams; the library itself is initialized once per process.
type Client struct {
	mu     sync.Mutex
	closed bool
}

var _ audio.Gateway = (*Client)(nil)

func NewClient() (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	return &Client{}, nil
}

func (c *Client) OpenInput(encoding audio.EncodingInfo) (audio.InputDevice, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	in := make([]int16, encoding.ChunkFrames*encoding.Channels)
	stream, err := portaudio.OpenDefaultStream(encoding.Channels, 0, float64(encoding.SampleRate), encoding.ChunkFrames, in)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	return &inputStream{
		stream: stream,
		in:     in,
		chunk:  make([]byte, len(in)*2),
	}, nil
}

func (c *Client) OpenOutput(encoding audio.EncodingInfo) (audio.OutputDevice, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]int16, encoding.ChunkFrames*encoding.Channels)
	stream, err := portaudio.OpenDefaultStream(0, encoding.Channels, float64(encoding.SampleRate), encoding.ChunkFrames, out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	return &outputStream{
		stream:  stream,
		out:     out,
		write:   stream.Write,
		silence: encoding.SilenceValue(),
	}, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = portaudio.Terminate()
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return audio.ErrDeviceClosed
	}
	return nil
}

type inputStream struct {
	stream *portaudio.Stream
	in     []int16
	chunk  []byte
	closed bool
}

func (s *inputStream) ReadChunk(ctx context.Context) ([]byte, error) {
	if s.closed {
		return nil, audio.ErrDeviceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Overflow means samples were lost while we were busy sending, the
	// buffer we got is still usable.
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("failed to read from input stream: %w", err)
	}

	for i, sample := range s.in {
		binary.LittleEndian.PutUint16(s.chunk[i*2:], uint16(sample))
	}
	return s.chunk, nil
}

func (s *inputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		return fmt.Errorf("failed to close input stream: %w", err)
	}
	return nil
}

type outputStream struct {
	stream        *portaudio.Stream
	out           []int16
	write         func() error
	silence       byte
	leftoverAudio []byte
	closed        bool
}

// WriteChunk writes as many full device buffers as the pending audio allows
// and keeps the remainder for the next call.
func (s *outputStream) WriteChunk(chunk []byte) error {
	if s.closed {
		return audio.ErrDeviceClosed
	}

	bufferSize := len(s.out) * 2
	pending := append(s.leftoverAudio, chunk...)
	for len(pending) >= bufferSize {
		if err := s.writeBuffer(pending[:bufferSize]); err != nil {
			s.leftoverAudio = nil
			return err
		}
		pending = pending[bufferSize:]
	}

	s.leftoverAudio = append(s.leftoverAudio[:0], pending...)
	return nil
}

// Drain pads the held back remainder with silence and writes it.
func (s *outputStream) Drain() error {
	if s.closed {
		return audio.ErrDeviceClosed
	}
	if len(s.leftoverAudio) == 0 {
		return nil
	}

	buffer := make([]byte, len(s.out)*2)
	n := copy(buffer, s.leftoverAudio)
	for i := n; i < len(buffer); i++ {
		buffer[i] = s.silence
	}
	s.leftoverAudio = s.leftoverAudio[:0]
	return s.writeBuffer(buffer)
}

func (s *outputStream) writeBuffer(buffer []byte) error {
	for i := range s.out {
		s.out[i] = int16(binary.LittleEndian.Uint16(buffer[i*2:]))
	}
	if err := s.write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("failed to write to output stream: %w", err)
	}
	return nil
}

func (s *outputStream) Clear() {
	s.leftoverAudio = s.leftoverAudio[:0]
}

func (s *outputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.leftoverAudio = nil

	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		return fmt.Errorf("failed to close output stream: %w", err)
	}
	return nil
}
