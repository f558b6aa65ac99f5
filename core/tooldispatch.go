package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andje/ivr-realtime/core/knowledge"
	"github.com/andje/ivr-realtime/core/metrics"
	"github.com/andje/ivr-realtime/core/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// toolDispatcher answers function calls off the event pump. Every call gets
// exactly one function_call_output followed by one response.create, sent
// as a single batch, whatever happens during the lookup.
type toolDispatcher struct {
	callID    string
	cfg       Config
	retriever knowledge.Retriever
	recorder  Recorder
	send      func(cmds ...protocol.Command) error

	wg sync.WaitGroup
}

func (d *toolDispatcher) dispatch(ctx context.Context, call protocol.FunctionCallArgsDone) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, call)
	}()
}

// wait blocks until every dispatched call has been answered or abandoned.
func (d *toolDispatcher) wait() {
	d.wg.Wait()
}

func (d *toolDispatcher) run(ctx context.Context, call protocol.FunctionCallArgsDone) {
	ctx, span := tracer.Start(ctx, "dispatch tool")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.CallID),
	)

	output, err := d.answer(ctx, call)
	if err != nil {
		logger.Warn("answering tool call with fallback", "call_id", d.callID, "tool_call_id", call.CallID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if err := d.send(
		protocol.CreateFunctionCallOutput{CallID: call.CallID, Output: output},
		protocol.CreateResponse{
			Modalities:   d.cfg.ResponseModalities,
			Instructions: d.cfg.ResponseInstructions,
		},
	); err != nil {
		err = fmt.Errorf("failed to send tool result: %w", err)
		logger.Warn("tool result lost", "call_id", d.callID, "tool_call_id", call.CallID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// answer always returns a usable output, the error only explains why it is
// a fallback.
func (d *toolDispatcher) answer(ctx context.Context, call protocol.FunctionCallArgsDone) (string, error) {
	if call.Name != protocol.FAQToolName {
		return toolOutput(d.cfg.FallbackBadArgs), fmt.Errorf("%w: unknown tool %q", ErrToolArgs, call.Name)
	}

	question, err := parseToolArguments(call.Arguments)
	if err != nil {
		return toolOutput(d.cfg.FallbackBadArgs), err
	}

	d.recorder.StartStep(metrics.StepLookup)
	answers, err := d.lookup(ctx, question)
	d.recorder.EndStep(metrics.StepLookup)
	d.recorder.RecordLookup(err == nil && len(answers) > 0)

	if err != nil {
		return toolOutput(d.cfg.FallbackNotFound), err
	}
	if len(answers) == 0 {
		return toolOutput(d.cfg.FallbackNotFound), nil
	}

	d.recorder.RecordTranscript(metrics.TranscriptKnowledge, strings.Join(answers, "\n"))
	return toolOutput(answers), nil
}

type lookupResult struct {
	answers []string
	err     error
}

// lookup returns when the retriever does or when the timeout expires,
// even if the retriever ignores its context.
func (d *toolDispatcher) lookup(ctx context.Context, question string) ([]string, error) {
	if d.retriever == nil {
		return nil, fmt.Errorf("%w: no knowledge backend configured", ErrRetrieval)
	}

	if d.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.LookupTimeout)
		defer cancel()
	}

	start := time.Now()
	result := make(chan lookupResult, 1)
	go func() {
		answers, err := d.retriever.Lookup(ctx, question, d.cfg.LookupThreshold, d.cfg.LookupMaxResults)
		result <- lookupResult{answers: answers, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRetrieval, r.err)
		}
		answers := r.answers
		if d.cfg.LookupMaxResults > 0 && len(answers) > d.cfg.LookupMaxResults {
			answers = answers[:d.cfg.LookupMaxResults]
		}
		logger.Debug("knowledge lookup finished", "call_id", d.callID, "answers", len(answers), "took", time.Since(start))
		return answers, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, ctx.Err())
	}
}

func parseToolArguments(arguments string) (string, error) {
	var args protocol.FAQArguments
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("%w: %w", ErrToolArgs, err)
	}
	question := strings.TrimSpace(args.Question)
	if question == "" {
		return "", fmt.Errorf("%w: missing question", ErrToolArgs)
	}
	return question, nil
}

// toolOutput wraps an answer list or a fallback string as {"faq_answer":...}.
func toolOutput(answer any) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(map[string]any{"faq_answer": answer}); err != nil {
		return `{"faq_answer":""}`
	}
	return strings.TrimSpace(buf.String())
}
