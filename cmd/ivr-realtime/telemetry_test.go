package main

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type countingProcessor struct {
	emitted int
}

func (p *countingProcessor) OnEmit(context.Context, *sdklog.Record) error {
	p.emitted++
	return nil
}

func (p *countingProcessor) Shutdown(context.Context) error   { return nil }
func (p *countingProcessor) ForceFlush(context.Context) error { return nil }

func TestSeverityProcessorDropsBelowLevel(t *testing.T) {
	inner := &countingProcessor{}
	p := severityProcessor{Processor: inner, min: parseSeverity("warn")}

	for _, severity := range []log.Severity{log.SeverityDebug, log.SeverityInfo, log.SeverityWarn, log.SeverityError} {
		var record sdklog.Record
		record.SetSeverity(severity)
		if err := p.OnEmit(context.Background(), &record); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	if inner.emitted != 2 {
		t.Fatalf("expected 2 records to pass, got %d", inner.emitted)
	}
}

func TestParseSeverityDefaultsToInfo(t *testing.T) {
	if got := parseSeverity("verbose"); got != log.SeverityInfo {
		t.Fatalf("expected info, got %v", got)
	}
}
