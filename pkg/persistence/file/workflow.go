package file

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/sasha-s/go-deadlock"
)

const workflowsDir = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *documents
	mu    *deadlock.RWMutex
}

func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	all, err := wr.all()
	if err != nil {
		return err
	}

	for _, existing := range all {
		if existing.Key == workflow.Key && existing.ID != workflow.ID {
			return persistence.NewWorkflowError("Save", workflow.Key, persistence.ErrWorkflowKeyConflict)
		}
	}

	return wr.store.write(workflowsDir, workflow.ID, workflow)
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	var workflow models.WorkflowDefinition

	found, err := wr.store.read(workflowsDir, id, &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) GetByKey(_ context.Context, key string) (*models.WorkflowDefinition, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	all, err := wr.all()
	if err != nil {
		return nil, err
	}

	for _, workflow := range all {
		if workflow.Key == key {
			return workflow, nil
		}
	}

	return nil, persistence.NewWorkflowError("GetByKey", key, persistence.ErrWorkflowNotFound)
}

func (wr *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	all, err := wr.all()
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(all))

	for _, workflow := range all {
		if opts.Match(workflow) {
			workflows = append(workflows, workflow)
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (wr *WorkflowRepository) all() ([]*models.WorkflowDefinition, error) {
	ids, err := wr.store.ids(workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		var workflow models.WorkflowDefinition

		found, err := wr.store.read(workflowsDir, id, &workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		if found {
			workflows = append(workflows, &workflow)
		}
	}

	return workflows, nil
}
