// Package actions executes single workflow actions against an execution context.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/followup/pkg/condition"
	"github.com/dukex/followup/pkg/config"
	"github.com/dukex/followup/pkg/log"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	defaultActionTimeout  = 30 * time.Second
)

// Input is what one action sees of its execution.
type Input struct {
	ExecutionID    string
	EntityType     models.EntityType
	EntityID       string
	ProgramCounter int
	Context        map[string]any
}

// IdempotencyKey is stable across retries of the same instruction.
func (in Input) IdempotencyKey() string {
	return fmt.Sprintf("%s-%d", in.ExecutionID, in.ProgramCounter)
}

// Mutation is an entity field write the engine mirrors into the execution context.
type Mutation struct {
	EntityType models.EntityType
	EntityID   string
	Field      string
	Value      any
}

// Result is the outcome of a successful action.
type Result struct {
	Output map[string]any

	// Delayed is set by DELAY actions; ResumeAt is when the execution may continue.
	Delayed  bool
	ResumeAt time.Time

	// ConditionsMet is set by CONDITION actions.
	ConditionsMet bool

	Mutation *Mutation
}

type Option func(*Executor)

func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.httpClient = client }
}

func WithWebhookTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.webhookTimeout = timeout
		}
	}
}

func WithActionTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.actionTimeout = timeout
		}
	}
}

func WithTemplates(templates map[string]config.MessageTemplate) Option {
	return func(e *Executor) { e.templates = templates }
}

// Executor runs one action at a time. It is safe for concurrent use.
type Executor struct {
	senders        protocol.Senders
	entities       persistence.EntityRepository
	templates      map[string]config.MessageTemplate
	clock          clockwork.Clock
	logger         *slog.Logger
	httpClient     *http.Client
	webhookTimeout time.Duration
	actionTimeout  time.Duration
}

func NewExecutor(
	senders protocol.Senders,
	entities persistence.EntityRepository,
	clock clockwork.Clock,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		senders:        senders,
		entities:       entities,
		templates:      map[string]config.MessageTemplate{},
		clock:          clock,
		logger:         logger.With("module", "action_executor"),
		httpClient:     &http.Client{},
		webhookTimeout: defaultWebhookTimeout,
		actionTimeout:  defaultActionTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs action. Failures are returned as *Error; a panic inside a handler is converted into one.
func (e *Executor) Execute(ctx context.Context, action models.Action, in Input) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.FromContext(ctx, e.logger).ErrorContext(ctx, "action panicked", "action_id", action.ID, "panic", r)

			result = Result{}
			err = newError(KindActionPanicked, action.ID, fmt.Sprint(r), nil)
		}
	}()

	switch spec := action.Spec.(type) {
	case models.Delay:
		return e.delay(spec), nil
	case models.Branch:
		return e.branch(action.ID, spec, in)
	case models.SendEmail:
		return e.sendEmail(ctx, action.ID, spec, in)
	case models.SendChatMessage:
		return e.sendChatMessage(ctx, action.ID, spec, in)
	case models.SendNotification:
		return e.sendNotification(ctx, action.ID, spec, in)
	case models.UpdateStatus:
		return e.updateStatus(ctx, action.ID, spec, in)
	case models.Webhook:
		return e.webhook(ctx, action.ID, spec, in)
	default:
		return Result{}, newError(KindUnknownActionType, action.ID, fmt.Sprintf("unsupported action type %q", action.Type()), nil)
	}
}

func (e *Executor) delay(spec models.Delay) Result {
	resumeAt := e.clock.Now().Add(spec.Duration())

	return Result{
		Delayed:  true,
		ResumeAt: resumeAt,
		Output: map[string]any{
			"delayed":   true,
			"resume_at": resumeAt.UTC().Format(time.RFC3339),
		},
	}
}

func (e *Executor) branch(actionID string, spec models.Branch, in Input) (Result, error) {
	met, err := condition.Evaluate(spec.Conditions, spec.Logic, in.Context)
	if err != nil {
		return Result{}, newError(KindInvalidCondition, actionID, "", err)
	}

	return Result{
		ConditionsMet: met,
		Output:        map[string]any{"conditions_met": met},
	}, nil
}

func (e *Executor) withActionTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.actionTimeout)
}
