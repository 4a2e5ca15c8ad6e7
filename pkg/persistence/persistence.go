// Package persistence provides the storage abstraction for workflow definitions, executions and entities.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/followup/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	EntityRepository() EntityRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters workflow listings. Zero values do not filter.
type ListWorkflowsOptions struct {
	Status      models.WorkflowStatus
	TriggerType models.TriggerType
	EntityType  models.EntityType
}

// Match reports whether workflow passes the filter.
func (o ListWorkflowsOptions) Match(workflow *models.WorkflowDefinition) bool {
	if o.Status != "" && workflow.Status != o.Status {
		return false
	}

	if o.TriggerType != "" && workflow.TriggerType != o.TriggerType {
		return false
	}

	if o.EntityType != "" && workflow.EntityType != o.EntityType {
		return false
	}

	return true
}

type WorkflowRepository interface {
	// Save inserts or replaces a definition. Keys are unique across workflows.
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetByKey(ctx context.Context, key string) (*models.WorkflowDefinition, error)
	// List returns matching workflows ordered by creation time.
	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.WorkflowDefinition, error)
}

// ListExecutionsOptions filters execution listings. Zero values do not filter.
type ListExecutionsOptions struct {
	WorkflowID string
	EntityID   string
	Status     models.ExecutionStatus
	Limit      int
}

// Match reports whether execution passes the filter, ignoring Limit.
func (o ListExecutionsOptions) Match(execution *models.Execution) bool {
	if o.WorkflowID != "" && execution.WorkflowID != o.WorkflowID {
		return false
	}

	if o.EntityID != "" && execution.EntityID != o.EntityID {
		return false
	}

	if o.Status != "" && execution.Status != o.Status {
		return false
	}

	return true
}

type ExecutionRepository interface {
	// Create inserts a new execution unless another in-flight execution exists for the same
	// workflow and entity, in which case it returns ErrDuplicateExecution. The check and the
	// insert are atomic. On success execution.Version is 1.
	Create(ctx context.Context, execution *models.Execution) error
	// Save replaces a stored execution when its stored version equals execution.Version and
	// bumps the version; otherwise it returns ErrConcurrentUpdate.
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// FindInflight returns the pending, running or retrying execution for the pair, or nil.
	FindInflight(ctx context.Context, workflowID, entityID string) (*models.Execution, error)
	// LatestTerminal returns the terminal execution with the most recent completion, or nil.
	LatestTerminal(ctx context.Context, workflowID, entityID string) (*models.Execution, error)
	// Count returns how many executions the pair has, whatever their status.
	Count(ctx context.Context, workflowID, entityID string) (int, error)
	// Due returns pending or retrying executions with nextScheduledAt <= now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error)
	// Stalled returns running executions last updated before the given time.
	Stalled(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Execution, error)
	List(ctx context.Context, opts ListExecutionsOptions) ([]*models.Execution, error)
}

type EntityRepository interface {
	Get(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error)
	Save(ctx context.Context, entity *models.Entity) error
}
