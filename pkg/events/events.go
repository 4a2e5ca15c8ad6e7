// Package events defines the lifecycle events published by the follow-up engine.
package events

import (
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "followup.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionCreatedEvent   EventType = "execution.created"
	ExecutionScheduledEvent EventType = "execution.scheduled"
	ExecutionRetryingEvent  EventType = "execution.retrying"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Ingress and channel events.
	TriggerRequestedEvent    EventType = "trigger.requested"
	NotificationCreatedEvent EventType = "notification.created"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// ExecutionEvent is shared by every execution lifecycle event.
type ExecutionEvent struct {
	BaseEvent

	ExecutionID        string                 `json:"execution_id"`
	EntityType         models.EntityType      `json:"entity_type"`
	EntityID           string                 `json:"entity_id"`
	Status             models.ExecutionStatus `json:"status"`
	CurrentActionIndex int                    `json:"current_action_index"`
}

// NewExecutionEvent fills the shared fields from an execution.
func NewExecutionEvent(eventType EventType, execution *models.Execution) ExecutionEvent {
	return ExecutionEvent{
		BaseEvent:          NewBaseEvent(eventType, execution.WorkflowID),
		ExecutionID:        execution.ID,
		EntityType:         execution.EntityType,
		EntityID:           execution.EntityID,
		Status:             execution.Status,
		CurrentActionIndex: execution.CurrentActionIndex,
	}
}

type ExecutionCreated struct {
	ExecutionEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	ScheduledAt time.Time          `json:"scheduled_at"`
}

func (e ExecutionCreated) GetType() EventType {
	return ExecutionCreatedEvent
}

type ExecutionScheduled struct {
	ExecutionEvent

	ResumeAt time.Time `json:"resume_at"`
}

func (e ExecutionScheduled) GetType() EventType {
	return ExecutionScheduledEvent
}

type ExecutionRetrying struct {
	ExecutionEvent

	RetryCount  int       `json:"retry_count"`
	NextRetryAt time.Time `json:"next_retry_at"`
	Error       string    `json:"error"`
}

func (e ExecutionRetrying) GetType() EventType {
	return ExecutionRetryingEvent
}

type ExecutionCompleted struct {
	ExecutionEvent

	Duration time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	ExecutionEvent

	Error string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	ExecutionEvent

	Reason string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// TriggerRequested asks the worker to run TriggerEvent for an entity.
type TriggerRequested struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	EntityType  models.EntityType  `json:"entity_type"`
	EntityID    string             `json:"entity_id"`
	InputData   map[string]any     `json:"input_data,omitempty"`
}

func (e TriggerRequested) GetType() EventType {
	return TriggerRequestedEvent
}

// NotificationCreated is emitted by the in-app notification channel for the notification store to persist.
type NotificationCreated struct {
	BaseEvent

	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}

func (e NotificationCreated) GetType() EventType {
	return NotificationCreatedEvent
}
