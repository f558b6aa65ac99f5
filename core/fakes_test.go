package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andje/ivr-realtime/core/audio"
	"github.com/andje/ivr-realtime/core/metrics"
	"github.com/andje/ivr-realtime/core/protocol"
)

var errFakeClosed = errors.New("fake connection closed")

type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}

	closeOnce sync.Once
	closes    atomic.Int32

	mu      sync.Mutex
	batches [][]protocol.Command
	written chan []protocol.Command
	failing bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
		written: make(chan []protocol.Command, 256),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessages(frames ...[]byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}

	batch := make([]protocol.Command, 0, len(frames))
	for _, frame := range frames {
		cmd, err := protocol.DecodeCommand(frame)
		if err != nil {
			return err
		}
		batch = append(batch, cmd)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errFakeClosed
	}
	c.batches = append(c.batches, batch)
	select {
	case c.written <- batch:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, raw string) {
	t.Helper()
	select {
	case c.inbound <- []byte(raw):
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out pushing %s", raw)
	}
}

// sent returns every written command except microphone audio.
func (c *fakeConn) sent() []protocol.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Command
	for _, batch := range c.batches {
		for _, cmd := range batch {
			if _, ok := cmd.(protocol.AppendInputAudio); ok {
				continue
			}
			out = append(out, cmd)
		}
	}
	return out
}

// awaitBatch waits for the next batch that is not microphone audio.
func (c *fakeConn) awaitBatch(t *testing.T) []protocol.Command {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case batch := <-c.written:
			if _, ok := batch[0].(protocol.AppendInputAudio); ok {
				continue
			}
			return batch
		case <-deadline:
			t.Fatalf("timed out waiting for outbound commands")
			return nil
		}
	}
}

type fakeOutput struct {
	mu      sync.Mutex
	written []byte
	writes  int
	clears  int
	// drainedAt holds len(written) at every drain.
	drainedAt []int
	closed    bool
	err       error

	// block, when set, holds every write until it is closed.
	block   chan struct{}
	writing chan struct{}
}

func (o *fakeOutput) WriteChunk(chunk []byte) error {
	if o.writing != nil {
		select {
		case o.writing <- struct{}{}:
		default:
		}
	}
	if o.block != nil {
		<-o.block
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.written = append(o.written, chunk...)
	o.writes++
	return nil
}

func (o *fakeOutput) Drain() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.drainedAt = append(o.drainedAt, len(o.written))
	return nil
}

func (o *fakeOutput) drains() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.drainedAt...)
}

func (o *fakeOutput) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clears++
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) snapshot() (written []byte, clears int, closed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.written...), o.clears, o.closed
}

type fakeInput struct {
	chunks chan []byte
	closed atomic.Bool
	err    error
}

func newFakeInput() *fakeInput {
	return &fakeInput{chunks: make(chan []byte, 16)}
}

func (i *fakeInput) ReadChunk(ctx context.Context) ([]byte, error) {
	if i.err != nil {
		return nil, i.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-i.chunks:
		return chunk, nil
	}
}

func (i *fakeInput) Close() error {
	i.closed.Store(true)
	return nil
}

type fakeGateway struct {
	mu      sync.Mutex
	inputs  []*fakeInput
	outputs []*fakeOutput
	open    atomic.Int32
}

func (g *fakeGateway) OpenInput(audio.EncodingInfo) (audio.InputDevice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	input := newFakeInput()
	g.inputs = append(g.inputs, input)
	g.open.Add(1)
	return input, nil
}

func (g *fakeGateway) OpenOutput(audio.EncodingInfo) (audio.OutputDevice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	output := &fakeOutput{}
	g.outputs = append(g.outputs, output)
	return output, nil
}

func (g *fakeGateway) Close() {}

func (g *fakeGateway) devices() ([]*fakeInput, []*fakeOutput) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*fakeInput(nil), g.inputs...), append([]*fakeOutput(nil), g.outputs...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.LookupTimeout = time.Second
	return cfg
}

// newTestSession builds a session whose pipelines are not running; the
// playback queue is only drained when the test starts it.
func newTestSession(t *testing.T, cfg Config) (*session, *fakeConn, *fakeOutput) {
	t.Helper()
	conn := newFakeConn()
	output := &fakeOutput{}
	recorder := metrics.NewCallRecorder("call_test", nil)

	sess := newSession("call_test", cfg, conn, recorder, newPlayback(output), callbacks{})
	sess.dispatcher = &toolDispatcher{
		callID:   "call_test",
		cfg:      cfg,
		recorder: recorder,
		send:     sess.send,
	}
	return sess, conn, output
}

// idleSession is a session that has been configured by the server.
func idleSession(t *testing.T, cfg Config) (*session, *fakeConn, *fakeOutput) {
	t.Helper()
	sess, conn, output := newTestSession(t, cfg)
	sess.handle(context.Background(), protocol.SessionUpdated{SessionID: "sess_1"})
	if sess.state != StateIdle {
		t.Fatalf("expected idle session, got %s", sess.state)
	}
	return sess, conn, output
}

func respondingSession(t *testing.T, cfg Config) (*session, *fakeConn, *fakeOutput) {
	t.Helper()
	sess, conn, output := newTestSession(t, cfg)
	ctx := context.Background()
	sess.handle(ctx, protocol.SessionCreated{SessionID: "sess_1"})
	sess.handle(ctx, protocol.SessionUpdated{SessionID: "sess_1"})
	sess.handle(ctx, protocol.ResponseCreated{ID: "r1"})
	if sess.state != StateResponding {
		t.Fatalf("expected responding session, got %s", sess.state)
	}
	return sess, conn, output
}
