package engine

import (
	"context"
	"fmt"

	"github.com/dukex/followup/pkg/models"
	"github.com/qmuntal/stateless"
)

type lifecycleTrigger string

const (
	triggerClaim    lifecycleTrigger = "claim"
	triggerSchedule lifecycleTrigger = "schedule"
	triggerRetry    lifecycleTrigger = "retry"
	triggerComplete lifecycleTrigger = "complete"
	triggerFail     lifecycleTrigger = "fail"
	triggerCancel   lifecycleTrigger = "cancel"
	triggerRecover  lifecycleTrigger = "recover"
)

// lifecycle binds the execution status state machine to one execution value.
type lifecycle struct {
	execution *models.Execution
	fsm       *stateless.StateMachine
}

func newLifecycle(execution *models.Execution) *lifecycle {
	l := &lifecycle{execution: execution}

	l.fsm = stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return l.execution.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			l.execution.Status = state.(models.ExecutionStatus)

			return nil
		},
		stateless.FiringImmediate,
	)

	l.fsm.Configure(models.ExecutionStatusPending).
		Permit(triggerClaim, models.ExecutionStatusRunning).
		Permit(triggerCancel, models.ExecutionStatusCancelled)

	l.fsm.Configure(models.ExecutionStatusRetrying).
		Permit(triggerClaim, models.ExecutionStatusRunning).
		Permit(triggerCancel, models.ExecutionStatusCancelled)

	l.fsm.Configure(models.ExecutionStatusRunning).
		Permit(triggerSchedule, models.ExecutionStatusPending).
		Permit(triggerRetry, models.ExecutionStatusRetrying).
		Permit(triggerComplete, models.ExecutionStatusCompleted).
		Permit(triggerFail, models.ExecutionStatusFailed).
		Permit(triggerCancel, models.ExecutionStatusCancelled).
		Permit(triggerRecover, models.ExecutionStatusPending)

	l.fsm.Configure(models.ExecutionStatusCompleted)
	l.fsm.Configure(models.ExecutionStatusFailed)
	l.fsm.Configure(models.ExecutionStatusCancelled)

	return l
}

func (l *lifecycle) can(trigger lifecycleTrigger) bool {
	ok, err := l.fsm.CanFire(trigger)

	return err == nil && ok
}

func (l *lifecycle) fire(ctx context.Context, trigger lifecycleTrigger) error {
	from := l.execution.Status

	if !l.can(trigger) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
	}

	err := l.fsm.FireCtx(ctx, trigger)
	if err != nil {
		return fmt.Errorf("%w: %s from %s: %w", ErrInvalidTransition, trigger, from, err)
	}

	return nil
}
