package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	realtime "github.com/andje/ivr-realtime/core"
	"github.com/andje/ivr-realtime/core/audio"
	"github.com/andje/ivr-realtime/core/audio/miniaudio"
	"github.com/andje/ivr-realtime/core/audio/portaudio"
	"github.com/andje/ivr-realtime/core/knowledge"
	"github.com/andje/ivr-realtime/core/metrics"
	"github.com/andje/ivr-realtime/core/transport"
	"github.com/andje/ivr-realtime/internal/config"
	"github.com/andje/ivr-realtime/internal/console"
)

var logger = otelslog.NewLogger("github.com/andje/ivr-realtime/cmd/ivr-realtime")

func main() {
	if err := run(); err != nil {
		logger.Error("ivr client stopped", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := setupTelemetry(ctx, cfg.LogLevel, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to flush telemetry:", err)
		}
	}()

	rtCfg, err := cfg.Realtime()
	if err != nil {
		return err
	}

	gateway, closeGateway, err := openGateway(cfg.AudioBackend)
	if err != nil {
		return err
	}
	defer closeGateway()

	retriever, closeRetriever, err := openRetriever(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRetriever()

	dialer, err := transport.NewDialer(cfg.RealtimeURL, cfg.Model, cfg.APIKey,
		transport.WithHandshakeTimeout(cfg.ConnectTimeout),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", realtime.ErrFatalConfig, err)
	}

	registry := prometheus.NewRegistry()
	instruments := metrics.NewInstruments(cfg.MetricsNamespace, registry)
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, instruments.Handler())
	}

	renderer := console.New(os.Stdout, console.WithStates(cfg.LogLevel == "debug"))
	store := metrics.NewFileStore(cfg.DataDir)
	prices := cfg.PriceTable()

	supervisor := realtime.NewSupervisor(rtCfg,
		realtime.WithDialer(realtime.DialerFunc(func(ctx context.Context) (realtime.Conn, error) {
			conn, err := dialer.Dial(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		})),
		realtime.WithAudioGateway(gateway),
		realtime.WithRetriever(retriever),
		realtime.WithRecorderFactory(func(callID string) realtime.Recorder {
			return metrics.NewCallRecorder(callID, instruments,
				metrics.WithBytesPerSecond(rtCfg.Encoding.BytesPerSecond()),
				metrics.WithModel(cfg.Model),
				metrics.WithPricing(prices),
			)
		}),
		realtime.WithSummaryStore(store),
		realtime.WithOnTranscript(renderer.Transcript),
		realtime.WithOnStateChange(renderer.StateChange),
		realtime.WithOnSessionEnd(renderer.SessionEnd),
	)

	logger.Info("ivr client started",
		slog.String("endpoint", dialer.Endpoint()),
		slog.String("audio", cfg.AudioBackend),
		slog.String("knowledge", cfg.KnowledgeBackend),
		slog.String("data_dir", filepath.Clean(cfg.DataDir)),
	)
	return supervisor.Run(ctx)
}

func openGateway(backend string) (audio.Gateway, func(), error) {
	switch backend {
	case config.BackendMiniaudio:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", realtime.ErrAudioDevice, err)
		}
		return client, client.Close, nil
	default:
		client, err := portaudio.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", realtime.ErrAudioDevice, err)
		}
		return client, client.Close, nil
	}
}

func openRetriever(ctx context.Context, cfg config.Config) (knowledge.Retriever, func(), error) {
	switch cfg.KnowledgeBackend {
	case config.KnowledgeHTTP:
		return knowledge.NewHTTPRetriever(cfg.KnowledgeURL), func() {}, nil

	case config.KnowledgePostgres:
		retriever, err := knowledge.NewPostgresRetriever(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", realtime.ErrRetrieval, err)
		}
		closeRetriever := func() {
			if err := retriever.Close(); err != nil {
				logger.Warn("failed to close postgres retriever", "error", err)
			}
		}
		if cfg.FAQImport {
			index, err := knowledge.LoadFAQIndex(cfg.FAQPath)
			if err != nil {
				closeRetriever()
				return nil, nil, fmt.Errorf("%w: %w", realtime.ErrFatalConfig, err)
			}
			if err := retriever.Import(ctx, index.Entries()); err != nil {
				closeRetriever()
				return nil, nil, fmt.Errorf("%w: %w", realtime.ErrRetrieval, err)
			}
		}
		return retriever, closeRetriever, nil

	default:
		index, err := knowledge.LoadFAQIndex(cfg.FAQPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", realtime.ErrFatalConfig, err)
		}
		return index, func() {}, nil
	}
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server failed", "error", err)
	}
}
