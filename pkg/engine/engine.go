// Package engine runs follow-up workflow executions: it admits triggers, advances executions
// through their compiled programs one checkpoint at a time, and handles cancellation and recovery.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/followup/pkg/actions"
	"github.com/dukex/followup/pkg/eventbus"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/workflow"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultProgramCacheSize = 128

// ActionExecutor runs a single action.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.Action, in actions.Input) (actions.Result, error)
}

type Option func(*Engine)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithDefaultRetryPolicy applies to workflows that do not declare their own retry policy.
func WithDefaultRetryPolicy(policy models.RetryPolicy) Option {
	return func(e *Engine) { e.defaultRetry = policy }
}

func WithProgramCacheSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.cacheSize = size
		}
	}
}

// Engine holds the collaborators shared by every trigger and advance call.
type Engine struct {
	workflows    persistence.WorkflowRepository
	executions   persistence.ExecutionRepository
	contexts     *ContextBuilder
	executor     ActionExecutor
	publisher    eventbus.EventPublisher
	clock        clockwork.Clock
	tracer       trace.Tracer
	logger       *slog.Logger
	defaultRetry models.RetryPolicy
	cacheSize    int
	programs     *lru.Cache
}

func New(
	store persistence.Persistence,
	executor ActionExecutor,
	logger *slog.Logger,
	opts ...Option,
) (*Engine, error) {
	e := &Engine{
		workflows:  store.WorkflowRepository(),
		executions: store.ExecutionRepository(),
		executor:   executor,
		publisher:  eventbus.NopPublisher{},
		clock:      clockwork.NewRealClock(),
		tracer:     otel.Tracer("followup/engine"),
		logger:     logger.With("module", "engine"),
		defaultRetry: models.RetryPolicy{
			MaxRetries:        3,
			RetryDelayMinutes: 5,
			Strategy:          models.BackoffExponential,
		},
		cacheSize: defaultProgramCacheSize,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.contexts = NewContextBuilder(store.EntityRepository(), e.clock)

	programs, err := lru.New(e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	e.programs = programs

	return e, nil
}

// program returns the compiled program for a workflow revision.
func (e *Engine) program(wf *models.WorkflowDefinition) (*workflow.Program, error) {
	key := fmt.Sprintf("%s@%d", wf.ID, wf.Version)

	if cached, ok := e.programs.Get(key); ok {
		if program, ok := cached.(*workflow.Program); ok {
			return program, nil
		}
	}

	program, err := workflow.Compile(wf)
	if err != nil {
		return nil, err
	}

	e.programs.Add(key, program)

	return program, nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// publish keys lifecycle events by execution id so a partitioned bus keeps them ordered.
func (e *Engine) publish(ctx context.Context, executionID string, event eventbus.Event) {
	err := e.publisher.Publish(ctx, executionID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
