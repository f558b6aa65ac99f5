package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andje/ivr-realtime/core/audio"
	"github.com/andje/ivr-realtime/core/knowledge"
	"github.com/andje/ivr-realtime/core/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// SessionSummary describes how a session ended.
type SessionSummary struct {
	CallID      string
	Attempt     int
	Established bool
	Graceful    bool
	Err         error
	Metrics     metrics.Summary
}

// Supervisor connects, runs one session at a time and reconnects after
// every unexpected disconnect until its context is cancelled.
type Supervisor struct {
	cfg         Config
	dialer      Dialer
	gateway     audio.Gateway
	retriever   knowledge.Retriever
	newRecorder RecorderFactory
	store       SummaryStore
	newBackOff  func() backoff.BackOff
	callbacks   callbacks

	sessions   metric.Int64Counter
	reconnects metric.Int64Counter
}

func NewSupervisor(cfg Config, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		cfg:         cfg,
		newRecorder: newDefaultRecorder,
	}
	s.newBackOff = s.defaultBackOff
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.sessions, err = meter.Int64Counter("realtime.sessions",
		metric.WithDescription("Realtime sessions started, by outcome of the connection attempt."),
	); err != nil {
		logger.Warn("failed to create sessions counter", "error", err)
	}
	if s.reconnects, err = meter.Int64Counter("realtime.reconnects",
		metric.WithDescription("Reconnect attempts after an unexpected disconnect."),
	); err != nil {
		logger.Warn("failed to create reconnects counter", "error", err)
	}

	return s
}

func (s *Supervisor) defaultBackOff() backoff.BackOff {
	if s.cfg.ReconnectMaxDelay > s.cfg.ReconnectDelay && s.cfg.ReconnectDelay > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.cfg.ReconnectDelay
		b.MaxInterval = s.cfg.ReconnectMaxDelay
		b.Multiplier = 2
		b.RandomizationFactor = 0.2
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(s.cfg.ReconnectDelay)
}

// Run blocks until ctx is cancelled, which is a graceful shutdown and
// returns nil, or until the configuration turns out to be unusable, which
// returns an error wrapping ErrFatalConfig. Every other failure is retried.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	policy := s.newBackOff()
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		established, err := s.runSession(ctx, attempt)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrFatalConfig):
			return err
		case ctx.Err() != nil:
			return nil
		}

		if established {
			policy.Reset()
		}
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			delay = s.cfg.ReconnectDelay
		}

		logger.Warn("realtime session ended, reconnecting", "attempt", attempt, "delay", delay.String(), "error", err)
		if s.reconnects != nil {
			s.reconnects.Add(ctx, 1)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Supervisor) validate() error {
	if s.dialer == nil {
		return fmt.Errorf("%w: no realtime dialer configured", ErrFatalConfig)
	}
	if s.gateway == nil {
		return fmt.Errorf("%w: no audio gateway configured", ErrFatalConfig)
	}
	return s.cfg.validate()
}

// sessionConfig gives every session its own copy so nothing a session does
// leaks into the next one.
func (s *Supervisor) sessionConfig() (Config, error) {
	var cfg Config
	if err := copier.CopyWithOption(&cfg, &s.cfg, copier.Option{DeepCopy: true}); err != nil {
		return Config{}, fmt.Errorf("failed to copy session config: %w", err)
	}
	return cfg, nil
}

// runSession returns nil only for a graceful shutdown. Pipelines are always
// stopped and their devices released before it returns.
func (s *Supervisor) runSession(ctx context.Context, attempt int) (established bool, err error) {
	callID := "call_" + uuid.NewString()
	ctx, span := tracer.Start(ctx, "realtime session")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", callID), attribute.Int("attempt", attempt))
	defer func() {
		if err != nil && !errors.Is(err, ErrFatalConfig) && ctx.Err() == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	cfg, err := s.sessionConfig()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrFatalConfig, err)
	}

	conn, err := s.dial(ctx, cfg)
	if err != nil {
		s.countSession(ctx, "dial_failed")
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	s.countSession(ctx, "connected")

	input, err := s.gateway.OpenInput(cfg.Encoding)
	if err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("%w: failed to open input: %w", ErrAudioDevice, err)
	}
	output, err := s.gateway.OpenOutput(cfg.Encoding)
	if err != nil {
		_ = input.Close()
		_ = conn.Close()
		return false, fmt.Errorf("%w: failed to open output: %w", ErrAudioDevice, err)
	}

	recorder := s.newRecorder(callID)
	recorder.StartStep(metrics.StepConnect)

	sess := newSession(callID, cfg, conn, recorder, newPlayback(output), s.callbacks)
	sess.dispatcher = &toolDispatcher{
		callID:    callID,
		cfg:       cfg,
		retriever: s.retriever,
		recorder:  recorder,
		send:      sess.send,
	}
	logger.Info("realtime connection open", "call_id", callID, "attempt", attempt)

	pipelineCtx, stopPipelines := context.WithCancel(ctx)
	defer stopPipelines()

	var pipelines errgroup.Group
	pipelines.Go(func() error { return sess.capture(pipelineCtx, input) })
	pipelines.Go(func() error { return sess.playback.run(pipelineCtx) })

	pumpDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sess.gracefulRequested.Store(true)
			_ = conn.Close()
		case <-pumpDone:
		}
	}()

	pumpErr := sess.pump(pipelineCtx)
	close(pumpDone)

	sess.setState(StateClosing)
	_ = conn.Close()
	stopPipelines()
	sess.dispatcher.wait()
	sess.playback.stop()
	if err := pipelines.Wait(); err != nil {
		logger.Warn("audio pipeline failed", "call_id", callID, "error", err)
	}
	sess.setState(StateClosed)

	established = sess.established.Load()
	graceful := sess.gracefulRequested.Load()
	if !graceful {
		err = fmt.Errorf("%w: %w", ErrConnection, pumpErr)
	}
	s.finish(ctx, sess, attempt, established, graceful, err)
	return established, err
}

func (s *Supervisor) dial(ctx context.Context, cfg Config) (Conn, error) {
	ctx, span := tracer.Start(ctx, "connect")
	defer span.End()

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		err = fmt.Errorf("failed to connect: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return conn, nil
}

func (s *Supervisor) finish(ctx context.Context, sess *session, attempt int, established, graceful bool, err error) {
	summary := sess.recorder.Finalize()

	if s.store != nil && established {
		if saveErr := s.store.Save(summary); saveErr != nil {
			logger.Warn("failed to save call metrics", "call_id", sess.callID, "error", saveErr)
		}
	}

	logger.Info("realtime session closed",
		"call_id", sess.callID,
		"graceful", graceful,
		"established", established,
		"duration", summary.Duration,
	)

	if s.callbacks.onSessionEnd != nil {
		s.callbacks.onSessionEnd(SessionSummary{
			CallID:      sess.callID,
			Attempt:     attempt,
			Established: established,
			Graceful:    graceful,
			Err:         err,
			Metrics:     summary,
		})
	}
}

func (s *Supervisor) countSession(ctx context.Context, outcome string) {
	if s.sessions == nil {
		return
	}
	s.sessions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
