package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "ivr-realtime"

// severityProcessor drops records below the configured level before they
// reach the exporter.
type severityProcessor struct {
	sdklog.Processor
	min log.Severity
}

func (p severityProcessor) OnEmit(ctx context.Context, record *sdklog.Record) error {
	if record.Severity() < p.min {
		return nil
	}
	return p.Processor.OnEmit(ctx, record)
}

func parseSeverity(level string) log.Severity {
	switch level {
	case "debug":
		return log.SeverityDebug
	case "warn":
		return log.SeverityWarn
	case "error":
		return log.SeverityError
	default:
		return log.SeverityInfo
	}
}

// setupTelemetry installs the global log provider and, when an OTLP
// endpoint is configured, the global tracer provider. The returned
// function flushes both.
func setupTelemetry(ctx context.Context, level, otlpEndpoint string) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := stdoutlog.New(stdoutlog.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(severityProcessor{
			Processor: sdklog.NewSimpleProcessor(exporter),
			min:       parseSeverity(level),
		}),
	)
	global.SetLoggerProvider(loggerProvider)
	shutdowns := []func(context.Context) error{loggerProvider.Shutdown}

	if otlpEndpoint != "" {
		traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(otlpEndpoint))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		shutdowns = append(shutdowns, tracerProvider.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}, nil
}
