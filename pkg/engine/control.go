package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
)

const cancelAttempts = 3

// Cancel marks a non-terminal execution CANCELLED. A running Advance stops at its next instruction boundary.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	for attempt := 1; ; attempt++ {
		execution, err := e.executions.GetByID(ctx, executionID)
		if err != nil {
			return nil, err
		}

		if execution.Status.IsTerminal() {
			return execution, fmt.Errorf("%w: status %s", ErrAlreadyTerminal, execution.Status)
		}

		err = newLifecycle(execution).fire(ctx, triggerCancel)
		if err != nil {
			return execution, err
		}

		now := e.now()
		execution.CompletedAt = &now
		execution.UpdatedAt = now

		if reason != "" {
			execution.LastError = "cancelled: " + reason
		}

		err = e.executions.Save(ctx, execution)
		if persistence.IsConcurrentUpdate(err) && attempt < cancelAttempts {
			continue
		}

		if err != nil {
			return nil, err
		}

		e.logger.InfoContext(ctx, "execution cancelled", "execution_id", execution.ID, "reason", reason)

		e.publish(ctx, execution.ID, events.ExecutionCancelled{
			ExecutionEvent: events.NewExecutionEvent(events.ExecutionCancelledEvent, execution),
			Reason:         reason,
		})

		return execution, nil
	}
}

// StatusReport is the externally visible state of an execution.
type StatusReport struct {
	ExecutionID        string                 `json:"execution_id"`
	WorkflowID         string                 `json:"workflow_id"`
	EntityType         models.EntityType      `json:"entity_type"`
	EntityID           string                 `json:"entity_id"`
	Status             models.ExecutionStatus `json:"status"`
	CurrentActionIndex int                    `json:"current_action_index"`
	RetryCount         int                    `json:"retry_count"`
	LastError          string                 `json:"last_error,omitempty"`
	NextScheduledAt    *time.Time             `json:"next_scheduled_at,omitempty"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
	ActionResults      []models.ActionResult  `json:"action_results"`
}

// Status returns the current state of an execution.
func (e *Engine) Status(ctx context.Context, executionID string) (StatusReport, error) {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		ExecutionID:        execution.ID,
		WorkflowID:         execution.WorkflowID,
		EntityType:         execution.EntityType,
		EntityID:           execution.EntityID,
		Status:             execution.Status,
		CurrentActionIndex: execution.CurrentActionIndex,
		RetryCount:         execution.RetryConfig.RetryCount,
		LastError:          execution.LastError,
		StartedAt:          execution.StartedAt,
		CompletedAt:        execution.CompletedAt,
		ActionResults:      execution.ActionResults,
	}

	if execution.Status == models.ExecutionStatusPending || execution.Status == models.ExecutionStatusRetrying {
		next := execution.NextScheduledAt
		report.NextScheduledAt = &next
	}

	return report, nil
}

// DueExecutions returns the ids of executions a poller should advance now.
func (e *Engine) DueExecutions(ctx context.Context, limit int) ([]string, error) {
	due, err := e.executions.Due(ctx, e.now(), limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(due))
	for _, execution := range due {
		ids = append(ids, execution.ID)
	}

	return ids, nil
}

// RecoverStalled resets RUNNING executions not updated for stallTimeout back to PENDING, due now.
// The next Advance resumes them from their checkpoint. It returns how many were reset.
func (e *Engine) RecoverStalled(ctx context.Context, stallTimeout time.Duration, limit int) (int, error) {
	now := e.now()

	stalled, err := e.executions.Stalled(ctx, now.Add(-stallTimeout), limit)
	if err != nil {
		return 0, err
	}

	recovered := 0

	for _, execution := range stalled {
		err := newLifecycle(execution).fire(ctx, triggerRecover)
		if err != nil {
			continue
		}

		execution.NextScheduledAt = now
		execution.UpdatedAt = now

		err = e.executions.Save(ctx, execution)
		if err != nil {
			if persistence.IsConcurrentUpdate(err) {
				continue
			}

			return recovered, err
		}

		e.logger.WarnContext(ctx, "recovered stalled execution",
			"execution_id", execution.ID,
			"current_action_index", execution.CurrentActionIndex,
		)

		recovered++
	}

	return recovered, nil
}
