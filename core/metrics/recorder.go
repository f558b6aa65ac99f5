package metrics

import (
	"sync"
	"time"
)

// Step names used by the session engine.
const (
	StepConnect  = "connect"
	StepResponse = "response"
	StepLookup   = "lookup"
)

type TranscriptKind string

const (
	TranscriptUser      TranscriptKind = "user"
	TranscriptAssistant TranscriptKind = "assistant"
	TranscriptKnowledge TranscriptKind = "knowledge"
)

type AudioDirection string

const (
	AudioIn  AudioDirection = "in"
	AudioOut AudioDirection = "out"
)

type RecorderOption func(*CallRecorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *CallRecorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithBytesPerSecond lets the recorder turn audio byte counts into seconds.
func WithBytesPerSecond(n int) RecorderOption {
	return func(r *CallRecorder) { r.bytesPerSecond = n }
}

func WithModel(model string) RecorderOption {
	return func(r *CallRecorder) { r.summary.Model = model }
}

// WithPricing estimates the call cost from token usage. Calls of a model
// missing from the table cost zero.
func WithPricing(table PriceTable) RecorderOption {
	return func(r *CallRecorder) { r.prices = table }
}

// CallRecorder accumulates the metrics of a single call. It is safe for
// concurrent use.
type CallRecorder struct {
	instruments    *Instruments
	now            func() time.Time
	bytesPerSecond int
	prices         PriceTable

	mu        sync.Mutex
	started   map[string][]time.Time
	summary   Summary
	finalized bool
}

func NewCallRecorder(callID string, instruments *Instruments, opts ...RecorderOption) *CallRecorder {
	r := &CallRecorder{
		instruments: instruments,
		now:         time.Now,
		started:     map[string][]time.Time{},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.summary.CallID = callID
	r.summary.StartedAt = r.now()
	r.summary.Steps = map[string]float64{}
	if r.instruments != nil {
		r.instruments.ActiveCalls.Inc()
	}
	return r
}

func (r *CallRecorder) StartStep(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[name] = append(r.started[name], r.now())
}

// EndStep closes the oldest open step with that name and returns its
// duration, zero if none was open.
func (r *CallRecorder) EndStep(name string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	open := r.started[name]
	if len(open) == 0 {
		logger.Warn("step ended without being started", "step", name)
		return 0
	}
	start := open[0]
	r.started[name] = open[1:]

	d := r.now().Sub(start)
	r.summary.Steps[name] += d.Seconds()
	r.instruments.observeStep(name, d)
	return d
}

func (r *CallRecorder) SetSessionID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.SessionID = id
}

func (r *CallRecorder) RecordTranscript(kind TranscriptKind, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Transcripts = append(r.summary.Transcripts, TranscriptLine{
		Kind: kind,
		Text: text,
		At:   r.now(),
	})
}

func (r *CallRecorder) RecordTokens(input, output int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Tokens.Input += input
	r.summary.Tokens.Output += output
	r.summary.Tokens.Total = r.summary.Tokens.Input + r.summary.Tokens.Output

	if r.instruments != nil {
		r.instruments.Tokens.WithLabelValues("input").Add(float64(input))
		r.instruments.Tokens.WithLabelValues("output").Add(float64(output))
	}
}

func (r *CallRecorder) RecordAudio(direction AudioDirection, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch direction {
	case AudioIn:
		r.summary.Audio.InputBytes += int64(n)
	case AudioOut:
		r.summary.Audio.OutputBytes += int64(n)
	}

	if r.instruments != nil {
		r.instruments.AudioBytes.WithLabelValues(string(direction)).Add(float64(n))
	}
}

func (r *CallRecorder) RecordLookup(found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Lookups.Used++
	if found {
		r.summary.Lookups.Found++
	}

	if r.instruments != nil {
		outcome := "not_found"
		if found {
			outcome = "found"
		}
		r.instruments.ToolLookups.WithLabelValues(outcome).Inc()
	}
}

func (r *CallRecorder) RecordBargeIn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.BargeIns++

	if r.instruments != nil {
		r.instruments.BargeIns.Inc()
	}
}

// RecordResponse counts a finished response by its final status.
func (r *CallRecorder) RecordResponse(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Responses++
	if status == "completed" {
		r.summary.CompletedResponses++
	}
}

// Finalize stamps the end of the call and returns its summary. Further
// calls return the same summary.
func (r *CallRecorder) Finalize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.finalized {
		r.finalized = true
		r.summary.EndedAt = r.now()
		r.summary.Duration = r.summary.EndedAt.Sub(r.summary.StartedAt).Seconds()
		r.summary.Success = r.summary.CompletedResponses > 0
		if r.bytesPerSecond > 0 {
			r.summary.Audio.InputSeconds = float64(r.summary.Audio.InputBytes) / float64(r.bytesPerSecond)
			r.summary.Audio.OutputSeconds = float64(r.summary.Audio.OutputBytes) / float64(r.bytesPerSecond)
		}

		if p, ok := r.prices.Lookup(r.summary.Model); ok {
			r.summary.Costs = estimateCosts(p, r.summary.Tokens)
		}

		if r.instruments != nil {
			r.instruments.CostUSD.Add(r.summary.Costs.Total)
			outcome := "failed"
			if r.summary.Success {
				outcome = "succeeded"
			}
			r.instruments.Calls.WithLabelValues(outcome).Inc()
			r.instruments.ActiveCalls.Dec()
		}
	}

	return r.summary.clone()
}
