package realtime

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/andje/ivr-realtime/core/protocol"
)

func TestSessionCreatedSendsSessionUpdate(t *testing.T) {
	sess, conn, _ := newTestSession(t, testConfig())

	sess.handle(context.Background(), protocol.SessionCreated{SessionID: "sess_1"})

	sent := conn.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one command, got %d", len(sent))
	}
	update, ok := sent[0].(protocol.SessionUpdate)
	if !ok {
		t.Fatalf("expected SessionUpdate, got %T", sent[0])
	}
	if len(update.Session.Tools) != 1 || update.Session.Tools[0].Name != "get_faq_answer" {
		t.Fatalf("expected get_faq_answer tool, got %+v", update.Session.Tools)
	}
	if sess.state != StateConnecting {
		t.Fatalf("expected to stay connecting until session.updated, got %s", sess.state)
	}

	sess.handle(context.Background(), protocol.SessionUpdated{SessionID: "sess_1"})
	if sess.state != StateIdle {
		t.Fatalf("expected idle after session.updated, got %s", sess.state)
	}
	if !sess.established.Load() {
		t.Fatalf("expected session to be established")
	}
}

func TestResponseLifecycle(t *testing.T) {
	sess, _, _ := respondingSession(t, testConfig())

	if sess.currentResponseID != "r1" {
		t.Fatalf("expected current response r1, got %q", sess.currentResponseID)
	}

	sess.handle(context.Background(), protocol.ResponseDone{ID: "r1", Status: "completed"})
	if sess.state != StateIdle {
		t.Fatalf("expected idle after response.done, got %s", sess.state)
	}
	if sess.currentResponseID != "" {
		t.Fatalf("expected current response to be cleared, got %q", sess.currentResponseID)
	}
}

func TestStaleResponseDoneIsIgnored(t *testing.T) {
	sess, _, _ := respondingSession(t, testConfig())

	sess.handle(context.Background(), protocol.ResponseDone{ID: "r0"})
	if sess.state != StateResponding || sess.currentResponseID != "r1" {
		t.Fatalf("expected r1 to still be responding, got %s %q", sess.state, sess.currentResponseID)
	}
}

func TestBargeInDropsInFlightAudio(t *testing.T) {
	sess, conn, output := respondingSession(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.playback.run(ctx)

	sess.handle(ctx, protocol.SpeechStarted{})

	if !sess.bargeInActive {
		t.Fatalf("expected barge-in to be active")
	}
	if sess.state != StateInterrupted {
		t.Fatalf("expected interrupted state, got %s", sess.state)
	}

	sess.handle(ctx, protocol.AudioDelta{ResponseID: "r1", Audio: []byte{1, 2, 3, 4}})

	time.Sleep(50 * time.Millisecond)
	written, clears, _ := output.snapshot()
	if len(written) != 0 {
		t.Fatalf("expected output device to receive zero bytes, got %d", len(written))
	}
	if clears != 1 {
		t.Fatalf("expected playback to be flushed once, got %d", clears)
	}
	if sent := conn.sent(); len(sent) != 1 {
		t.Fatalf("expected no cancel with server side interruption, got %+v", sent)
	}
}

func TestBargeInResetsOnNextResponse(t *testing.T) {
	sess, _, output := respondingSession(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.playback.run(ctx)

	sess.handle(ctx, protocol.SpeechStarted{})
	sess.handle(ctx, protocol.AudioDelta{ResponseID: "r1", Audio: []byte{9, 9}})
	sess.handle(ctx, protocol.ResponseDone{ID: "r1", Status: "cancelled"})
	if !sess.bargeInActive {
		t.Fatalf("expected barge-in to stay active until the next response")
	}

	sess.handle(ctx, protocol.ResponseCreated{ID: "r2"})
	if sess.bargeInActive {
		t.Fatalf("expected barge-in to reset on response.created")
	}

	sess.handle(ctx, protocol.AudioDelta{ResponseID: "r2", Audio: []byte{1, 2}})
	sess.handle(ctx, protocol.AudioDelta{ResponseID: "r2", Audio: []byte{3, 4}})

	deadline := time.After(2 * time.Second)
	for {
		written, _, _ := output.snapshot()
		if bytes.Equal(written, []byte{1, 2, 3, 4}) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected deltas in order, got %v", written)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBargeInCancelsWhenServerDoesNotInterrupt(t *testing.T) {
	cfg := testConfig()
	cfg.Session.TurnDetection.InterruptResponse = false
	sess, conn, _ := respondingSession(t, cfg)

	sess.handle(context.Background(), protocol.SpeechStarted{})

	sent := conn.sent()
	last, ok := sent[len(sent)-1].(protocol.CancelResponse)
	if !ok {
		t.Fatalf("expected response.cancel, got %T", sent[len(sent)-1])
	}
	if last.ResponseID != "r1" {
		t.Fatalf("expected cancel for r1, got %q", last.ResponseID)
	}
}

func TestSpeechWhileIdleIsNotABargeIn(t *testing.T) {
	sess, _, output := newTestSession(t, testConfig())
	sess.handle(context.Background(), protocol.SessionUpdated{})

	sess.handle(context.Background(), protocol.SpeechStarted{})

	if sess.bargeInActive {
		t.Fatalf("expected no barge-in while idle")
	}
	if _, clears, _ := output.snapshot(); clears != 0 {
		t.Fatalf("expected no flush while idle, got %d", clears)
	}
}

func TestAudioOutsideResponseIsDropped(t *testing.T) {
	sess, _, _ := newTestSession(t, testConfig())
	sess.handle(context.Background(), protocol.SessionUpdated{})

	sess.handle(context.Background(), protocol.AudioDelta{Audio: []byte{1}})

	sess.playback.mu.Lock()
	queued := len(sess.playback.queue)
	sess.playback.mu.Unlock()
	if queued != 0 {
		t.Fatalf("expected audio outside a response to be dropped, got %d chunks", queued)
	}
}

func TestUnknownAndErrorEventsAreNoOps(t *testing.T) {
	sess, conn, _ := respondingSession(t, testConfig())
	before := len(conn.sent())

	for _, event := range []protocol.Event{
		protocol.Unknown{Type: "rate_limits.updated"},
		protocol.Error{Message: "Cancellation failed: no active response found"},
		protocol.Error{Type: "server_error", Message: "boom"},
		protocol.SpeechStopped{},
		protocol.AudioDone{},
		protocol.TextDelta{Delta: "Ho"},
	} {
		sess.handle(context.Background(), event)
	}

	if sess.state != StateResponding || sess.currentResponseID != "r1" {
		t.Fatalf("expected state to be untouched, got %s %q", sess.state, sess.currentResponseID)
	}
	if got := len(conn.sent()); got != before {
		t.Fatalf("expected no commands, got %d new", got-before)
	}
}

func TestPumpSkipsUndecodableMessages(t *testing.T) {
	sess, conn, _ := newTestSession(t, testConfig())

	conn.push(t, `not json`)
	conn.push(t, `{"type":"something.new"}`)
	conn.push(t, `{"type":"session.updated","session":{"id":"sess_1"}}`)

	done := make(chan error, 1)
	go func() { done <- sess.pump(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for !sess.established.Load() {
		select {
		case <-deadline:
			t.Fatalf("expected session.updated to be handled after bad messages")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_ = conn.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected pump to end with the connection error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected pump to stop after close")
	}
}

func TestTranscriptsReachCallback(t *testing.T) {
	sess, _, _ := newTestSession(t, testConfig())
	var got []Transcript
	sess.callbacks.onTranscript = func(tr Transcript) { got = append(got, tr) }

	sess.handle(context.Background(), protocol.InputTranscriptCompleted{Transcript: "hola"})
	sess.handle(context.Background(), protocol.AudioTranscriptDelta{Delta: "Bue"})
	sess.handle(context.Background(), protocol.AudioTranscriptDone{Transcript: "Buenos días"})

	if len(got) != 3 {
		t.Fatalf("expected 3 transcripts, got %d", len(got))
	}
	if got[0].Speaker != SpeakerUser || !got[0].Final {
		t.Fatalf("expected final user transcript first, got %+v", got[0])
	}
	if got[1].Final || got[2].Text != "Buenos días" {
		t.Fatalf("expected partial then final assistant transcript, got %+v", got[1:])
	}

	summary := sess.recorder.Finalize()
	if len(summary.Transcripts) != 2 {
		t.Fatalf("expected only finals to be recorded, got %d", len(summary.Transcripts))
	}
}

func TestResponseEventsBeforeSessionUpdatedAreIgnored(t *testing.T) {
	sess, _, _ := newTestSession(t, testConfig())
	ctx := context.Background()

	sess.handle(ctx, protocol.SessionCreated{SessionID: "sess_1"})
	sess.handle(ctx, protocol.ResponseCreated{ID: "r0"})
	sess.handle(ctx, protocol.AudioDelta{ResponseID: "r0", Audio: []byte{1, 2}})
	sess.handle(ctx, protocol.AudioDone{ResponseID: "r0"})
	sess.handle(ctx, protocol.ResponseDone{ID: "r0"})

	if sess.state != StateConnecting || sess.currentResponseID != "" {
		t.Fatalf("expected to stay connecting, got %s %q", sess.state, sess.currentResponseID)
	}

	sess.handle(ctx, protocol.SessionUpdated{SessionID: "sess_1"})

	if !sess.established.Load() {
		t.Fatalf("expected session to be established after session.updated")
	}
	if sess.state != StateIdle {
		t.Fatalf("expected idle, got %s", sess.state)
	}
	sess.playback.mu.Lock()
	queued := len(sess.playback.queue)
	sess.playback.mu.Unlock()
	if queued != 0 {
		t.Fatalf("expected early audio to be dropped, got %d queued", queued)
	}
}

func TestEventSequencesKeepSessionConsistent(t *testing.T) {
	events := []protocol.Event{
		protocol.SessionCreated{SessionID: "sess_1"},
		protocol.SessionUpdated{SessionID: "sess_1"},
		protocol.ResponseCreated{ID: "r1"},
		protocol.ResponseCreated{ID: "r2"},
		protocol.ResponseDone{ID: "r1", Status: "completed"},
		protocol.ResponseDone{ID: "r2", Status: "cancelled"},
		protocol.SpeechStarted{},
		protocol.SpeechStopped{},
		protocol.AudioDelta{ResponseID: "r1", Audio: []byte{1}},
		protocol.AudioDelta{ResponseID: "r2", Audio: []byte{2}},
		protocol.AudioDone{ResponseID: "r1"},
		protocol.AudioTranscriptDelta{Delta: "ho"},
		protocol.FunctionCallArgsDone{CallID: "c1", Name: "get_faq_answer", Arguments: `{"question":"x"}`},
		protocol.Error{Message: "no active response"},
		protocol.Unknown{Type: "rate_limits.updated"},
	}

	for seed := uint64(1); seed <= 200; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*7919))
			sess, _, _ := newTestSession(t, testConfig())
			updated := false

			for step := 0; step < 60; step++ {
				event := events[rng.IntN(len(events))]
				sess.handle(context.Background(), event)
				if _, ok := event.(protocol.SessionUpdated); ok {
					updated = true
				}

				switch sess.state {
				case StateConnecting, StateIdle, StateResponding, StateInterrupted:
				default:
					t.Fatalf("step %d: unexpected state %s after %T", step, sess.state, event)
				}
				if sess.established.Load() != updated {
					t.Fatalf("step %d: expected established=%v, got %v", step, updated, !updated)
				}
				if !updated && sess.state != StateConnecting {
					t.Fatalf("step %d: expected connecting before session.updated, got %s", step, sess.state)
				}
				if sess.state == StateResponding && sess.bargeInActive {
					t.Fatalf("step %d: expected barge-in to be clear while responding", step)
				}
			}
			sess.dispatcher.wait()
		})
	}
}

func TestAudioDoneDrainsAfterQueuedAudio(t *testing.T) {
	sess, _, output := respondingSession(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.playback.run(ctx)

	sess.handle(ctx, protocol.AudioDelta{ResponseID: "r1", Audio: []byte{1, 2}})
	sess.handle(ctx, protocol.AudioDelta{ResponseID: "r1", Audio: []byte{3}})
	sess.handle(ctx, protocol.AudioDone{ResponseID: "r1"})

	deadline := time.After(2 * time.Second)
	for len(output.drains()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected the device to be drained")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := output.drains(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected one drain after all 3 bytes, got %v", got)
	}
}

func TestAudioDoneAfterBargeInDoesNotDrain(t *testing.T) {
	sess, _, _ := respondingSession(t, testConfig())
	ctx := context.Background()

	sess.handle(ctx, protocol.SpeechStarted{})
	sess.handle(ctx, protocol.AudioDone{ResponseID: "r1"})
	sess.handle(ctx, protocol.AudioDone{ResponseID: "stale"})

	sess.playback.mu.Lock()
	queued := len(sess.playback.queue)
	sess.playback.mu.Unlock()
	if queued != 0 {
		t.Fatalf("expected no drain for an interrupted response, got %d queued", queued)
	}
}
