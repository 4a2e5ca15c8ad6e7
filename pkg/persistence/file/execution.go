package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/sasha-s/go-deadlock"
)

const executionsDir = "executions"

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	store *documents
	mu    *deadlock.RWMutex
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	existing, err := er.inflight(execution.WorkflowID, execution.EntityID)
	if err != nil {
		return err
	}

	if existing != nil {
		return persistence.NewExecutionError("Create", existing.ID, persistence.ErrDuplicateExecution)
	}

	execution.Version = 1

	return er.store.write(executionsDir, execution.ID, execution)
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	var stored models.Execution

	found, err := er.store.read(executionsDir, execution.ID, &stored)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	if !found {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionNotFound)
	}

	if stored.Version != execution.Version {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrConcurrentUpdate)
	}

	execution.Version++

	err = er.store.write(executionsDir, execution.ID, execution)
	if err != nil {
		execution.Version--

		return err
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	var execution models.Execution

	found, err := er.store.read(executionsDir, id, &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (er *ExecutionRepository) FindInflight(_ context.Context, workflowID, entityID string) (*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.inflight(workflowID, entityID)
}

func (er *ExecutionRepository) LatestTerminal(_ context.Context, workflowID, entityID string) (*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return nil, err
	}

	var latest *models.Execution

	for _, execution := range all {
		if execution.WorkflowID != workflowID || execution.EntityID != entityID {
			continue
		}

		if !execution.Status.IsTerminal() || execution.CompletedAt == nil {
			continue
		}

		if latest == nil || execution.CompletedAt.After(*latest.CompletedAt) {
			latest = execution
		}
	}

	return latest, nil
}

func (er *ExecutionRepository) Count(_ context.Context, workflowID, entityID string) (int, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return 0, err
	}

	count := 0

	for _, execution := range all {
		if execution.WorkflowID == workflowID && execution.EntityID == entityID {
			count++
		}
	}

	return count, nil
}

func (er *ExecutionRepository) Due(_ context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	return er.filter(func(e *models.Execution) bool { return e.IsDue(now) }, func(a, b *models.Execution) bool {
		return a.NextScheduledAt.Before(b.NextScheduledAt)
	}, limit)
}

func (er *ExecutionRepository) Stalled(_ context.Context, updatedBefore time.Time, limit int) ([]*models.Execution, error) {
	return er.filter(func(e *models.Execution) bool {
		return e.Status == models.ExecutionStatusRunning && e.UpdatedAt.Before(updatedBefore)
	}, func(a, b *models.Execution) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}, limit)
}

func (er *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	return er.filter(opts.Match, func(a, b *models.Execution) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}, opts.Limit)
}

func (er *ExecutionRepository) filter(keep func(*models.Execution) bool, less func(a, b *models.Execution) bool, limit int) ([]*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0)

	for _, execution := range all {
		if keep(execution) {
			matched = append(matched, execution)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func (er *ExecutionRepository) inflight(workflowID, entityID string) (*models.Execution, error) {
	all, err := er.all()
	if err != nil {
		return nil, err
	}

	for _, execution := range all {
		if execution.WorkflowID == workflowID && execution.EntityID == entityID && execution.IsInflight() {
			return execution, nil
		}
	}

	return nil, nil
}

func (er *ExecutionRepository) all() ([]*models.Execution, error) {
	ids, err := er.store.ids(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		var execution models.Execution

		found, err := er.store.read(executionsDir, id, &execution)
		if err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
		}

		if found {
			executions = append(executions, &execution)
		}
	}

	return executions, nil
}
