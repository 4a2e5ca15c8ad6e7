package engine

import "errors"

var (
	// ErrInvalidTransition is returned when a lifecycle trigger is not permitted from the current status.
	ErrInvalidTransition = errors.New("invalid execution status transition")
	// ErrNotRunnable is returned by Advance for executions that are not PENDING or RETRYING.
	ErrNotRunnable = errors.New("execution is not runnable")
	// ErrNotDue is returned by Advance before the execution's resume time.
	ErrNotDue = errors.New("execution is not due yet")
	// ErrAlreadyTerminal is returned when cancelling a finished execution.
	ErrAlreadyTerminal = errors.New("execution already finished")
	// ErrWorkflowInactive is returned when triggering a workflow that is not ACTIVE.
	ErrWorkflowInactive = errors.New("workflow is not active")
	// ErrEntityTypeMismatch is returned when the trigger targets an entity type the workflow does not handle.
	ErrEntityTypeMismatch = errors.New("entity type does not match workflow")
	// ErrWorkflowVersionChanged is recorded when an execution's workflow was edited after it was created.
	ErrWorkflowVersionChanged = errors.New("workflow version changed")
	// ErrAdvancePanicked is returned when Advance recovers from a panic outside an action.
	ErrAdvancePanicked = errors.New("advance panicked")
)

// Reason explains why a trigger was not accepted.
type Reason string

const (
	ReasonDuplicatePending      Reason = "duplicate_pending"
	ReasonCooldown              Reason = "cooldown"
	ReasonReEntryNotAllowed     Reason = "reentry_not_allowed"
	ReasonMaxExecutionsReached  Reason = "max_executions_reached"
	ReasonEntryConditionsNotMet Reason = "entry_conditions_not_met"
)
