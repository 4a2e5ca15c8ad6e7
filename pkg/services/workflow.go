package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dukex/followup/pkg/definition"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/workflow"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

type Workflow struct {
	persistence persistence.Persistence
	parser      *definition.Parser
	clock       clockwork.Clock
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, parser *definition.Parser, clock clockwork.Clock) *Workflow {
	return &Workflow{
		persistence: persistence,
		parser:      parser,
		clock:       clock,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest filters workflow listings. Empty fields do not filter.
type ListWorkflowsRequest struct {
	Status      models.WorkflowStatus
	TriggerType models.TriggerType
	EntityType  models.EntityType
}

// ListWorkflows returns workflows matching req, oldest first.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) ([]*models.WorkflowDefinition, error) {
	if req.Status != "" {
		allowed := []models.WorkflowStatus{
			models.WorkflowStatusActive,
			models.WorkflowStatusPaused,
			models.WorkflowStatusArchived,
		}

		if !slices.Contains(allowed, req.Status) {
			return nil, NewValidationError("ListWorkflows", "INVALID_STATUS",
				fmt.Sprintf("invalid status '%s'", req.Status), ErrInvalidStatus)
		}
	}

	if req.TriggerType != "" && !req.TriggerType.IsValid() {
		return nil, NewValidationError("ListWorkflows", "INVALID_TRIGGER_TYPE",
			fmt.Sprintf("invalid trigger type '%s'", req.TriggerType), ErrInvalidRequest)
	}

	if req.EntityType != "" && !req.EntityType.IsValid() {
		return nil, NewValidationError("ListWorkflows", "INVALID_ENTITY_TYPE",
			fmt.Sprintf("invalid entity type '%s'", req.EntityType), ErrInvalidRequest)
	}

	workflows, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		Status:      req.Status,
		TriggerType: req.TriggerType,
		EntityType:  req.EntityType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow by id, falling back to its key.
func (w *Workflow) FetchByID(ctx context.Context, ref string) (*models.WorkflowDefinition, error) {
	repo := w.persistence.WorkflowRepository()

	wf, err := repo.GetByID(ctx, ref)
	if persistence.IsWorkflowNotFound(err) {
		wf, err = repo.GetByKey(ctx, ref)
	}

	if err != nil {
		return nil, err
	}

	return wf, nil
}

// CreateFromDocument parses an authored JSON or YAML document and creates the workflow.
func (w *Workflow) CreateFromDocument(ctx context.Context, data []byte, format definition.Format) (*models.WorkflowDefinition, error) {
	wf, err := w.parser.Parse(data, format)
	if err != nil {
		return nil, err
	}

	return w.create(ctx, wf)
}

// Create validates a workflow against the authoring schema, compiles it and stores it PAUSED.
func (w *Workflow) Create(ctx context.Context, wf *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	err := w.validate(wf)
	if err != nil {
		return nil, err
	}

	return w.create(ctx, wf)
}

func (w *Workflow) create(ctx context.Context, wf *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	_, err := workflow.Compile(wf)
	if err != nil {
		return nil, err
	}

	now := w.clock.Now().UTC()

	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}

	wf.Status = models.WorkflowStatusPaused
	wf.Version = 1
	wf.CreatedAt = now
	wf.UpdatedAt = now
	wf.ActivatedAt = nil
	wf.ArchivedAt = nil

	err = w.persistence.WorkflowRepository().Save(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return wf, nil
}

// UpdateFromDocument parses an authored document and replaces the content of a PAUSED workflow.
func (w *Workflow) UpdateFromDocument(
	ctx context.Context,
	workflowID string,
	data []byte,
	format definition.Format,
) (*models.WorkflowDefinition, error) {
	wf, err := w.parser.Parse(data, format)
	if err != nil {
		return nil, err
	}

	return w.Update(ctx, workflowID, wf)
}

// Update replaces the authored content of a PAUSED workflow and bumps its version.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	wf *models.WorkflowDefinition,
) (*models.WorkflowDefinition, error) {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	switch existing.Status {
	case models.WorkflowStatusActive:
		return nil, ErrCannotModifyActive
	case models.WorkflowStatusArchived:
		return nil, ErrWorkflowArchived
	}

	err = w.ensureNoInflight(ctx, existing.ID)
	if err != nil {
		return nil, err
	}

	wf.ID = existing.ID
	wf.Status = existing.Status
	wf.ActivatedAt = existing.ActivatedAt

	err = w.validate(wf)
	if err != nil {
		return nil, err
	}

	_, err = workflow.Compile(wf)
	if err != nil {
		return nil, err
	}

	wf.Version = existing.Version + 1
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = w.clock.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return wf, nil
}

// ensureNoInflight rejects edits while executions still hold a checkpoint into the current version.
func (w *Workflow) ensureNoInflight(ctx context.Context, workflowID string) error {
	for _, status := range models.InflightStatuses() {
		executions, err := w.persistence.ExecutionRepository().List(ctx, persistence.ListExecutionsOptions{
			WorkflowID: workflowID,
			Status:     status,
			Limit:      1,
		})
		if err != nil {
			return fmt.Errorf("failed to check in-flight executions: %w", err)
		}

		if len(executions) > 0 {
			return fmt.Errorf("%w: execution %s is %s", ErrWorkflowInflight, executions[0].ID, status)
		}
	}

	return nil
}

// validate round-trips a typed workflow through the authoring schema.
func (w *Workflow) validate(wf *models.WorkflowDefinition) error {
	if wf == nil {
		return ErrWorkflowNil
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	_, err = w.parser.Parse(data, definition.FormatJSON)

	return err
}
