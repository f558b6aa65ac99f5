package miniaudio

import (
	"fmt"
	"sync"

	"github.com/andje/ivr-realtime/core/audio"
	"github.com/gen2brain/malgo"
)

type playbackClient struct {
	device *malgo.Device
	config malgo.DeviceConfig

	leftoverAudio []byte

	mu      sync.Mutex
	audioMu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sampleRate := uint32(encoding.SampleRate)
	format := deviceFormat(encoding)
	bytesPerFrame := malgo.SampleSizeInBytes(format) * encoding.Channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(encoding.Channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	var err error
	if c.device, err = malgo.InitDevice(
		audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

// WriteChunk queues audio for the device callback, it never blocks on the
// device itself.
func (c *playbackClient) WriteChunk(chunk []byte) error {
	c.mu.Lock()
	started := c.device != nil && c.device.IsStarted()
	c.mu.Unlock()
	if !started {
		return audio.ErrDeviceClosed
	}

	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	c.leftoverAudio = append(c.leftoverAudio, chunk...)
	return nil
}

func (c *playbackClient) Clear() {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	c.leftoverAudio = nil
}

// Drain has nothing to do, the device callback plays partial buffers.
func (c *playbackClient) Drain() error {
	return nil
}

func (c *playbackClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}

	var err error
	if c.device.IsStarted() {
		if stopErr := c.device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop playback device: %w", stopErr)
		}
	}
	c.device.Uninit()
	c.device = nil
	c.Clear()

	return err
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.audioMu.Lock()
		defer c.audioMu.Unlock()

		if len(c.leftoverAudio) == 0 {
			return
		}

		if len(c.leftoverAudio) < need {
			_ = copy(pOutput, c.leftoverAudio)
			c.leftoverAudio = nil
			return
		}

		_ = copy(pOutput, c.leftoverAudio[:need])
		c.leftoverAudio = c.leftoverAudio[need:]
	}
}
