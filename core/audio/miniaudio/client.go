package miniaudio

import (
	"fmt"
	"sync"

	"github.com/andje/ivr-realtime/core/audio"
	"github.com/gen2brain/malgo"
)

// Client is a miniaudio gateway. Devices are callback driven; capture is
// bridged to blocking reads and playback to a drained byte buffer.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext

	mu     sync.Mutex
	closed bool
}

var _ audio.Gateway = (*Client)(nil)

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	return &Client{audioContext: audioCtx}, nil
}

func (c *Client) OpenInput(encoding audio.EncodingInfo) (audio.InputDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, audio.ErrDeviceClosed
	}

	capture := newCaptureClient(encoding)
	if err := capture.Init(c.audioContext); err != nil {
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}
	if err := capture.Start(); err != nil {
		_ = capture.Close()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	return capture, nil
}

func (c *Client) OpenOutput(encoding audio.EncodingInfo) (audio.OutputDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, audio.ErrDeviceClosed
	}

	playback := &playbackClient{}
	if err := playback.Init(c.audioContext, encoding); err != nil {
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}
	if err := playback.Start(); err != nil {
		_ = playback.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	return playback, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func deviceFormat(encoding audio.EncodingInfo) malgo.FormatType {
	if encoding.Format == audio.EncodingPCM16 {
		return malgo.FormatS16
	}
	return malgo.FormatUnknown
}
