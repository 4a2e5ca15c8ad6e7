// Package web provides HTTP request and response types for the follow-up API.
package web

import (
	"time"

	"github.com/dukex/followup/pkg/models"
)

// TriggerRequest is the body of POST /triggers. Workflow accepts an id or a key.
type TriggerRequest struct {
	Workflow    string         `json:"workflow"               validate:"required"`
	EntityType  string         `json:"entity_type"            validate:"required"`
	EntityID    string         `json:"entity_id"              validate:"required"`
	InputData   map[string]any `json:"input_data,omitempty"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
}

// EventRequest is the body of POST /events.
type EventRequest struct {
	TriggerType string         `json:"trigger_type"         validate:"required"`
	EntityType  string         `json:"entity_type"          validate:"required"`
	EntityID    string         `json:"entity_id"            validate:"required"`
	InputData   map[string]any `json:"input_data,omitempty"`
}

// CancelRequest is the optional body of POST /executions/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// WorkflowList is the response of GET /workflows.
type WorkflowList struct {
	Workflows  []*models.WorkflowDefinition `json:"workflows"`
	TotalCount int                          `json:"total_count"`
}
