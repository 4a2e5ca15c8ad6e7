package models

import "time"

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusRetrying  ExecutionStatus = "retrying"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// InflightStatuses are the statuses that block a new execution for the same workflow and entity.
func InflightStatuses() []ExecutionStatus {
	return []ExecutionStatus{ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusRetrying}
}

// TerminalStatuses are the statuses considered by cooldown and re-entry checks.
func TerminalStatuses() []ExecutionStatus {
	return []ExecutionStatus{ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled}
}

// ActionResultStatus is the outcome of one program instruction.
type ActionResultStatus string

const (
	ActionResultCompleted ActionResultStatus = "completed"
	ActionResultFailed    ActionResultStatus = "failed"
	ActionResultSkipped   ActionResultStatus = "skipped"
	ActionResultScheduled ActionResultStatus = "scheduled"
)

// ActionResult records what happened at one program counter.
type ActionResult struct {
	Index      int                `json:"index"`
	ActionID   string             `json:"action_id"`
	Type       ActionType         `json:"type"`
	Status     ActionResultStatus `json:"status"`
	Attempt    int                `json:"attempt"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Output     map[string]any     `json:"output,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Execution is one run of a workflow against one entity instance.
type Execution struct {
	ID                 string          `json:"id"`
	WorkflowID         string          `json:"workflow_id"`
	WorkflowVersion    int             `json:"workflow_version"`
	EntityType         EntityType      `json:"entity_type"`
	EntityID           string          `json:"entity_id"`
	TriggerType        TriggerType     `json:"trigger_type"`
	InputData          map[string]any  `json:"input_data,omitempty"`
	Context            map[string]any  `json:"context,omitempty"`
	Status             ExecutionStatus `json:"status"`
	CurrentActionIndex int             `json:"current_action_index"`
	ActionResults      []ActionResult  `json:"action_results"`
	RetryConfig        RetryConfig     `json:"retry_config"`
	LastError          string          `json:"last_error,omitempty"`
	ScheduledAt        time.Time       `json:"scheduled_at"`
	NextScheduledAt    time.Time       `json:"next_scheduled_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	// Version is bumped on every save and used for optimistic concurrency.
	Version int64 `json:"version"`
}

// IsInflight reports whether the execution blocks new triggers for its pair.
func (e *Execution) IsInflight() bool {
	return !e.Status.IsTerminal()
}

// IsDue reports whether a poller may advance the execution at now.
func (e *Execution) IsDue(now time.Time) bool {
	if e.Status != ExecutionStatusPending && e.Status != ExecutionStatusRetrying {
		return false
	}

	return !e.NextScheduledAt.After(now)
}

// InflightKey identifies the (workflow, entity) pair while the execution is in flight, "" otherwise.
// Stores use it to enforce at most one in-flight execution per pair.
func (e *Execution) InflightKey() string {
	if !e.IsInflight() {
		return ""
	}

	return PairKey(e.WorkflowID, e.EntityID)
}

// PairKey joins a workflow id and an entity id.
func PairKey(workflowID, entityID string) string {
	return workflowID + "/" + entityID
}

// RecordResult appends a result for the instruction at result.Index.
func (e *Execution) RecordResult(result ActionResult) {
	e.ActionResults = append(e.ActionResults, result)
}

// ResultAt returns the last result recorded for a program counter.
func (e *Execution) ResultAt(index int) (ActionResult, bool) {
	for i := len(e.ActionResults) - 1; i >= 0; i-- {
		if e.ActionResults[i].Index == index {
			return e.ActionResults[i], true
		}
	}

	return ActionResult{}, false
}
