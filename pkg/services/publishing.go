package services

import (
	"context"
	"fmt"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/workflow"
)

// Activate compiles the workflow and lets it accept triggers.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	return w.transition(ctx, workflowID, func(wf *models.WorkflowDefinition) error {
		if wf.Status == models.WorkflowStatusArchived {
			return ErrWorkflowArchived
		}

		_, err := workflow.Compile(wf)
		if err != nil {
			return err
		}

		now := w.clock.Now().UTC()
		wf.Status = models.WorkflowStatusActive
		wf.ActivatedAt = &now

		return nil
	})
}

// Pause stops new triggers. In-flight executions keep running, and the workflow cannot be edited
// until they finish.
func (w *Workflow) Pause(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	return w.transition(ctx, workflowID, func(wf *models.WorkflowDefinition) error {
		if wf.Status == models.WorkflowStatusArchived {
			return ErrWorkflowArchived
		}

		wf.Status = models.WorkflowStatusPaused

		return nil
	})
}

// Archive soft-deletes the workflow. Archived workflows are kept so their executions stay readable.
func (w *Workflow) Archive(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	return w.transition(ctx, workflowID, func(wf *models.WorkflowDefinition) error {
		if wf.Status == models.WorkflowStatusArchived {
			return nil
		}

		now := w.clock.Now().UTC()
		wf.Status = models.WorkflowStatusArchived
		wf.ArchivedAt = &now

		return nil
	})
}

func (w *Workflow) transition(
	ctx context.Context,
	workflowID string,
	apply func(*models.WorkflowDefinition) error,
) (*models.WorkflowDefinition, error) {
	wf, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	err = apply(wf)
	if err != nil {
		return nil, err
	}

	wf.UpdatedAt = w.clock.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}

	return wf, nil
}

// SeedResult reports what Seed did for one predefined workflow.
type SeedResult struct {
	Key     string `json:"key"`
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Seed installs the predefined workflows that are not stored yet, optionally activating them.
// Existing workflows with the same key are left untouched.
func (w *Workflow) Seed(ctx context.Context, activate bool) ([]SeedResult, error) {
	predefined := workflow.PredefinedWorkflows(w.clock.Now().UTC())
	results := make([]SeedResult, 0, len(predefined))

	for _, wf := range predefined {
		existing, err := w.persistence.WorkflowRepository().GetByKey(ctx, wf.Key)
		if err == nil {
			results = append(results, SeedResult{Key: existing.Key, ID: existing.ID})

			continue
		}

		if !persistence.IsWorkflowNotFound(err) {
			return results, err
		}

		created, err := w.Create(ctx, wf)
		if err != nil {
			return results, fmt.Errorf("failed to seed %s: %w", wf.Key, err)
		}

		if activate {
			created, err = w.Activate(ctx, created.ID)
			if err != nil {
				return results, fmt.Errorf("failed to activate %s: %w", wf.Key, err)
			}
		}

		results = append(results, SeedResult{Key: created.Key, ID: created.ID, Created: true})
	}

	return results, nil
}
