package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/andje/ivr-realtime/core/audio"
)

// playback owns the output device for one session. deviceMu serializes
// write, flush and close on the device and is always taken before mu, so
// popping a chunk and writing it happen atomically with respect to flush.
type playback struct {
	device audio.OutputDevice

	deviceMu     sync.Mutex
	deviceClosed bool

	mu     sync.Mutex
	queue  [][]byte
	closed bool

	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newPlayback(device audio.OutputDevice) *playback {
	return &playback{
		device: device,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue never blocks, chunks are written in arrival order.
func (p *playback) enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.push(chunk)
}

// drain asks the device to play out what it holds back once every chunk
// queued so far has been written. A flush discards a pending drain too.
func (p *playback) drain() {
	p.push(nil)
}

// push queues a chunk, nil marks a drain.
func (p *playback) push(chunk []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, chunk)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// flush drops every queued chunk and whatever the device still buffers. No
// chunk enqueued before flush returns is written afterwards.
func (p *playback) flush() {
	p.deviceMu.Lock()
	defer p.deviceMu.Unlock()

	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()

	if !p.deviceClosed {
		p.device.Clear()
	}
}

// run writes queued chunks until ctx ends or the device fails, then closes
// the device.
func (p *playback) run(ctx context.Context) error {
	defer p.close()

	for {
		wrote, err := p.writeNext()
		if err != nil {
			return fmt.Errorf("%w: playback: %w", ErrAudioDevice, err)
		}
		if wrote {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case <-p.wake:
		}
	}
}

func (p *playback) writeNext() (bool, error) {
	p.deviceMu.Lock()
	defer p.deviceMu.Unlock()

	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return false, nil
	}
	chunk := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.mu.Unlock()

	if p.deviceClosed {
		return false, nil
	}
	if chunk == nil {
		if err := p.device.Drain(); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := p.device.WriteChunk(chunk); err != nil {
		return false, err
	}
	return true, nil
}

// stop makes run return once the chunk being written is done.
func (p *playback) stop() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *playback) close() {
	p.stop()

	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.mu.Unlock()

	p.deviceMu.Lock()
	defer p.deviceMu.Unlock()
	if p.deviceClosed {
		return
	}
	p.deviceClosed = true
	if err := p.device.Close(); err != nil {
		logger.Warn("failed to close output device", "error", err)
	}
}
