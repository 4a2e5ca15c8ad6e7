package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/followup/pkg/condition"
	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/otelhelper"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// TriggerRequest asks for a new execution of one workflow for one entity.
type TriggerRequest struct {
	// WorkflowRef is a workflow id or key.
	WorkflowRef string
	EntityType  models.EntityType
	EntityID    string
	InputData   map[string]any
	// ScheduledAt delays the first advance; zero means now.
	ScheduledAt time.Time
}

// TriggerResult reports whether a trigger created an execution.
type TriggerResult struct {
	Accepted    bool   `json:"accepted"`
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Reason      Reason `json:"reason,omitempty"`
	// NextEligibleAt is set when the pair is in cooldown.
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
	// Advance is set when the new execution was due and advanced synchronously.
	Advance *AdvanceResult `json:"advance,omitempty"`
}

// Trigger runs the admission gates in order and creates a PENDING execution when all pass.
// A due execution is advanced before Trigger returns.
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.trigger",
		attribute.String(otelhelper.EntityTypeKey, string(req.EntityType)),
		attribute.String(otelhelper.EntityIDKey, req.EntityID),
	)
	defer span.End()

	result, err := e.trigger(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.WorkflowIDKey, result.WorkflowID),
		attribute.Bool("followup.trigger.accepted", result.Accepted),
		attribute.String("followup.trigger.reason", string(result.Reason)),
	)

	return result, nil
}

func (e *Engine) trigger(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	wf, err := e.resolveWorkflow(ctx, req.WorkflowRef)
	if err != nil {
		return TriggerResult{}, err
	}

	result := TriggerResult{WorkflowID: wf.ID}

	if req.EntityType != "" && req.EntityType != wf.EntityType {
		return result, fmt.Errorf("%w: workflow %s handles %s, got %s", ErrEntityTypeMismatch, wf.Key, wf.EntityType, req.EntityType)
	}

	logger := e.logger.With("workflow_id", wf.ID, "entity_id", req.EntityID)

	inflight, err := e.executions.FindInflight(ctx, wf.ID, req.EntityID)
	if err != nil {
		return result, err
	}

	if inflight != nil {
		result.Reason = ReasonDuplicatePending
		result.ExecutionID = inflight.ID

		return result, nil
	}

	now := e.now()

	reason, nextEligibleAt, err := e.checkEligibility(ctx, wf, req.EntityID, now)
	if err != nil {
		return result, err
	}

	if reason != "" {
		logger.DebugContext(ctx, "trigger rejected", "reason", reason)

		result.Reason = reason
		result.NextEligibleAt = nextEligibleAt

		return result, nil
	}

	data, err := e.contexts.Build(ctx, wf.EntityType, req.EntityID, req.InputData)
	if err != nil {
		return result, err
	}

	met, err := condition.Evaluate(wf.EntryConditions, wf.EntryConditionLogic, data)
	if err != nil {
		return result, fmt.Errorf("workflow %s entry conditions: %w", wf.Key, err)
	}

	if !met {
		result.Reason = ReasonEntryConditionsNotMet

		return result, nil
	}

	execution := e.newExecution(wf, req, data, now)

	err = e.executions.Create(ctx, execution)
	if err != nil {
		if persistence.IsDuplicateExecution(err) {
			result.Reason = ReasonDuplicatePending

			existing, findErr := e.executions.FindInflight(ctx, wf.ID, req.EntityID)
			if findErr == nil && existing != nil {
				result.ExecutionID = existing.ID
			}

			return result, nil
		}

		return result, err
	}

	logger.InfoContext(ctx, "execution created", "execution_id", execution.ID, "scheduled_at", execution.ScheduledAt)

	e.publish(ctx, execution.ID, events.ExecutionCreated{
		ExecutionEvent: events.NewExecutionEvent(events.ExecutionCreatedEvent, execution),
		TriggerType:    execution.TriggerType,
		ScheduledAt:    execution.ScheduledAt,
	})

	result.Accepted = true
	result.ExecutionID = execution.ID

	if execution.IsDue(now) {
		advance, err := e.Advance(ctx, execution.ID)
		if err != nil {
			logger.WarnContext(ctx, "synchronous advance failed", "execution_id", execution.ID, "error", err)
		}

		result.Advance = &advance
	}

	return result, nil
}

// TriggerEvent triggers every active workflow that reacts to triggerType for the entity type.
// Workflows are triggered independently; one failing does not stop the others.
func (e *Engine) TriggerEvent(
	ctx context.Context,
	triggerType models.TriggerType,
	entityType models.EntityType,
	entityID string,
	input map[string]any,
) ([]TriggerResult, error) {
	workflows, err := e.workflows.List(ctx, persistence.ListWorkflowsOptions{
		Status:      models.WorkflowStatusActive,
		TriggerType: triggerType,
		EntityType:  entityType,
	})
	if err != nil {
		return nil, err
	}

	results := make([]TriggerResult, 0, len(workflows))

	var errs []error

	for _, wf := range workflows {
		result, err := e.Trigger(ctx, TriggerRequest{
			WorkflowRef: wf.ID,
			EntityType:  entityType,
			EntityID:    entityID,
			InputData:   input,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.Key, err))

			continue
		}

		results = append(results, result)
	}

	return results, errors.Join(errs...)
}

func (e *Engine) resolveWorkflow(ctx context.Context, ref string) (*models.WorkflowDefinition, error) {
	wf, err := e.workflows.GetByID(ctx, ref)
	if persistence.IsWorkflowNotFound(err) {
		wf, err = e.workflows.GetByKey(ctx, ref)
	}

	if err != nil {
		return nil, err
	}

	if !wf.IsActive() {
		return nil, persistence.NewWorkflowError("Trigger", ref,
			fmt.Errorf("%w: %w (status %s)", persistence.ErrWorkflowNotFound, ErrWorkflowInactive, wf.Status))
	}

	return wf, nil
}

// checkEligibility applies the cooldown, re-entry and max-executions settings.
func (e *Engine) checkEligibility(
	ctx context.Context,
	wf *models.WorkflowDefinition,
	entityID string,
	now time.Time,
) (Reason, *time.Time, error) {
	latest, err := e.executions.LatestTerminal(ctx, wf.ID, entityID)
	if err != nil {
		return "", nil, err
	}

	if latest != nil && latest.CompletedAt != nil {
		cooldown := wf.Settings.Cooldown()
		if cooldown > 0 {
			nextEligibleAt := latest.CompletedAt.Add(cooldown)
			if now.Before(nextEligibleAt) {
				return ReasonCooldown, &nextEligibleAt, nil
			}
		}
	}

	if latest != nil && !wf.Settings.AllowReEntry {
		return ReasonReEntryNotAllowed, nil, nil
	}

	if wf.Settings.MaxExecutionsPerEntity > 0 {
		count, err := e.executions.Count(ctx, wf.ID, entityID)
		if err != nil {
			return "", nil, err
		}

		if count >= wf.Settings.MaxExecutionsPerEntity {
			return ReasonMaxExecutionsReached, nil, nil
		}
	}

	return "", nil, nil
}

func (e *Engine) newExecution(
	wf *models.WorkflowDefinition,
	req TriggerRequest,
	data map[string]any,
	now time.Time,
) *models.Execution {
	scheduledAt := now
	if req.ScheduledAt.After(now) {
		scheduledAt = req.ScheduledAt.UTC()
	}

	policy := e.defaultRetry
	if wf.RetryPolicy != nil {
		policy = *wf.RetryPolicy
	}

	return &models.Execution{
		ID:              uuid.New().String(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		EntityType:      wf.EntityType,
		EntityID:        req.EntityID,
		TriggerType:     wf.TriggerType,
		InputData:       req.InputData,
		Context:         data,
		Status:          models.ExecutionStatusPending,
		ActionResults:   []models.ActionResult{},
		RetryConfig:     models.NewRetryConfig(policy),
		ScheduledAt:     scheduledAt,
		NextScheduledAt: scheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
