package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/andje/ivr-realtime/core/audio"
	"github.com/gen2brain/malgo"
)

// capturedChunks bounds how much audio may queue up between the device
// callback and the reader before the oldest chunk is dropped.
const capturedChunks = 32

type captureClient struct {
	device   *malgo.Device
	config   malgo.DeviceConfig
	encoding audio.EncodingInfo

	pending []byte
	chunks  chan []byte
	done    chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
}

func newCaptureClient(encoding audio.EncodingInfo) *captureClient {
	return &captureClient{
		encoding: encoding,
		chunks:   make(chan []byte, capturedChunks),
		done:     make(chan struct{}),
	}
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format := deviceFormat(c.encoding)
	bytesPerFrame := malgo.SampleSizeInBytes(format) * c.encoding.Channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(c.encoding.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(c.encoding.Channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	var err error
	c.device, err = malgo.InitDevice(audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.onAudio(pInput[:n])
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

func (c *captureClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// onAudio runs on the device thread and regroups callback periods into
// fixed-size chunks.
func (c *captureClient) onAudio(samples []byte) {
	chunkSize := c.encoding.ChunkBytes()
	c.pending = append(c.pending, samples...)
	for len(c.pending) >= chunkSize {
		chunk := make([]byte, chunkSize)
		copy(chunk, c.pending[:chunkSize])
		c.pending = c.pending[chunkSize:]

		select {
		case c.chunks <- chunk:
		default:
			// Reader is lagging, drop the oldest chunk to stay realtime
			select {
			case <-c.chunks:
			default:
			}
			select {
			case c.chunks <- chunk:
			default:
			}
		}
	}
}

func (c *captureClient) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, audio.ErrDeviceClosed
	case chunk := <-c.chunks:
		return chunk, nil
	}
}

func (c *captureClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}

	var err error
	if c.device.IsStarted() {
		if stopErr := c.device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop capture device: %w", stopErr)
		}
	}
	c.device.Uninit()
	c.device = nil
	return err
}
