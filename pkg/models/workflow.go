// Package models defines the core domain models for follow-up workflow automation
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "active"   // Accepts triggers
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Editable, rejects triggers
	WorkflowStatusArchived WorkflowStatus = "archived" // Soft deleted, kept for executions
)

// TriggerType identifies the domain event that creates candidate executions.
type TriggerType string

const (
	TriggerTypeEntityIncomplete TriggerType = "entity_incomplete"
	TriggerTypeEntityInactive   TriggerType = "entity_inactive"
	TriggerTypeStatusChanged    TriggerType = "status_changed"
	TriggerTypeNoActivityWindow TriggerType = "no_activity_window"
)

// TriggerTypes lists every trigger type accepted by the authoring schema.
func TriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerTypeEntityIncomplete,
		TriggerTypeEntityInactive,
		TriggerTypeStatusChanged,
		TriggerTypeNoActivityWindow,
	}
}

// IsValid reports whether t is a known trigger type.
func (t TriggerType) IsValid() bool {
	for _, known := range TriggerTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// WorkflowSettings governs re-trigger eligibility for a (workflow, entity) pair.
type WorkflowSettings struct {
	MaxExecutionsPerEntity int  `json:"max_executions_per_entity" validate:"min=0"`
	CooldownHours          int  `json:"cooldown_hours"            validate:"min=0"`
	AllowReEntry           bool `json:"allow_re_entry"`
}

// Cooldown returns the cooldown window as a duration.
func (s WorkflowSettings) Cooldown() time.Duration {
	return time.Duration(s.CooldownHours) * time.Hour
}

// WorkflowDefinition is the admin-authored configuration of a follow-up workflow.
// Its actions are immutable while the workflow is active.
type WorkflowDefinition struct {
	ID                  string           `json:"id"`
	Key                 string           `json:"key"                   validate:"required,min=3"`
	Name                string           `json:"name"                  validate:"required,min=3"`
	Description         string           `json:"description"`
	TriggerType         TriggerType      `json:"trigger_type"          validate:"required"`
	EntityType          EntityType       `json:"entity_type"           validate:"required"`
	EntryConditions     []Condition      `json:"entry_conditions"      validate:"dive"`
	EntryConditionLogic Logic            `json:"entry_condition_logic"`
	Actions             []Action         `json:"actions"               validate:"required,min=1"`
	Settings            WorkflowSettings `json:"settings"`
	RetryPolicy         *RetryPolicy     `json:"retry_policy,omitempty"`
	Status              WorkflowStatus   `json:"status"`
	Version             int              `json:"version"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	ActivatedAt         *time.Time       `json:"activated_at,omitempty"`
	ArchivedAt          *time.Time       `json:"archived_at,omitempty"`
}

// IsActive reports whether the workflow accepts new triggers.
func (w *WorkflowDefinition) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// Matches reports whether the workflow reacts to the given trigger and entity type.
func (w *WorkflowDefinition) Matches(triggerType TriggerType, entityType EntityType) bool {
	return w.TriggerType == triggerType && w.EntityType == entityType
}
