package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/eventbus"
	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Engine is what the worker drives.
type Engine interface {
	DueExecutions(ctx context.Context, limit int) ([]string, error)
	Advance(ctx context.Context, executionID string) (engine.AdvanceResult, error)
	RecoverStalled(ctx context.Context, stallTimeout time.Duration, limit int) (int, error)
	TriggerEvent(
		ctx context.Context,
		triggerType models.TriggerType,
		entityType models.EntityType,
		entityID string,
		input map[string]any,
	) ([]engine.TriggerResult, error)
}

type WorkerOptions struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	StallTimeout time.Duration
}

type Worker struct {
	id      string
	engine  Engine
	bus     eventbus.EventSubscriber
	logger  *slog.Logger
	options WorkerOptions
	cron    *cron.Cron
}

func NewWorker(id string, engine Engine, bus eventbus.EventSubscriber, logger *slog.Logger, options WorkerOptions) *Worker {
	logger = logger.With("module", "followup-worker", "worker_id", id)

	return &Worker{
		id:      id,
		engine:  engine,
		bus:     bus,
		logger:  logger,
		options: options,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
	}
}

// Start subscribes to trigger requests and schedules the due poller. It does not block.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker",
		"poll_interval", w.options.PollInterval,
		"batch_size", w.options.BatchSize,
		"concurrency", w.options.Concurrency)

	if w.options.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval %s: must be positive", w.options.PollInterval)
	}

	if w.bus != nil {
		err := w.bus.Handle(events.TriggerRequestedEvent, w.handleTriggerRequested)
		if err != nil {
			return err
		}

		err = w.bus.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to event bus: %w", err)
		}
	}

	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.options.PollInterval), func() {
		_, err := w.Poll(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Poll failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid poll interval %s: %w", w.options.PollInterval, err)
	}

	w.cron.Start()

	return nil
}

// Stop waits for a running poll to finish.
func (w *Worker) Stop(ctx context.Context) {
	w.logger.InfoContext(ctx, "Stopping worker")

	<-w.cron.Stop().Done()
}

// Poll recovers stalled executions, then advances up to BatchSize due executions in parallel.
// It returns how many advances ran to completion without error.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	if w.options.StallTimeout > 0 {
		recovered, err := w.engine.RecoverStalled(ctx, w.options.StallTimeout, w.options.BatchSize)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to recover stalled executions", "error", err)
		} else if recovered > 0 {
			w.logger.WarnContext(ctx, "Recovered stalled executions", "count", recovered)
		}
	}

	due, err := w.engine.DueExecutions(ctx, w.options.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due executions: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}

	var (
		g        errgroup.Group
		advanced atomic.Int64
	)

	g.SetLimit(max(w.options.Concurrency, 1))

	for _, executionID := range due {
		g.Go(func() error {
			if w.advance(ctx, executionID) {
				advanced.Add(1)
			}

			return nil
		})
	}

	err = g.Wait()

	w.logger.DebugContext(ctx, "Poll finished", "due", len(due), "advanced", advanced.Load())

	return int(advanced.Load()), err
}

func (w *Worker) advance(ctx context.Context, executionID string) bool {
	logger := w.logger.With("execution_id", executionID)

	result, err := w.engine.Advance(ctx, executionID)

	switch {
	case err == nil:
		logger.InfoContext(ctx, "Advanced execution",
			"status", result.Status,
			"action_index", result.CurrentActionIndex,
			"success", result.Success)

		return true
	case errors.Is(err, engine.ErrNotRunnable),
		errors.Is(err, engine.ErrNotDue),
		persistence.IsConcurrentUpdate(err):
		logger.DebugContext(ctx, "Execution taken by another worker", "error", err)
	default:
		logger.ErrorContext(ctx, "Failed to advance execution", "error", err)
	}

	return false
}

func (w *Worker) handleTriggerRequested(ctx context.Context, event any) error {
	request, ok := event.(*events.TriggerRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerRequested")

		return nil
	}

	return w.TriggerRequested(ctx, *request)
}

// TriggerRequested runs TriggerEvent for a request from the event bus or the Redis queue.
func (w *Worker) TriggerRequested(ctx context.Context, request events.TriggerRequested) error {
	logger := w.logger.With(
		"event_id", request.ID,
		"trigger_type", request.TriggerType,
		"entity_type", request.EntityType,
		"entity_id", request.EntityID,
	)

	results, err := w.engine.TriggerEvent(ctx, request.TriggerType, request.EntityType, request.EntityID, request.InputData)

	for _, result := range results {
		if result.Accepted {
			logger.InfoContext(ctx, "Execution created", "workflow_id", result.WorkflowID, "execution_id", result.ExecutionID)
		} else {
			logger.InfoContext(ctx, "Trigger rejected", "workflow_id", result.WorkflowID, "reason", result.Reason)
		}
	}

	if err != nil {
		logger.ErrorContext(ctx, "Trigger request failed", "error", err)
	}

	return err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
