// Package persistencetest holds behaviour tests shared by every persistence implementation.
package persistencetest

import (
	"sync"
	"testing"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// NewWorkflow builds a minimal valid definition.
func NewWorkflow(key string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          uuid.NewString(),
		Key:         key,
		Name:        "Workflow " + key,
		TriggerType: models.TriggerTypeEntityIncomplete,
		EntityType:  models.EntityTypeApplication,
		Actions: []models.Action{
			{ID: "wait", Spec: models.Delay{Hours: 24}},
			{ID: "mail", Spec: models.SendEmail{Message: models.Message{
				SubjectTemplate: "Finish {{job.title}}",
				BodyTemplate:    "<p>Hi</p>",
				RecipientPath:   "user.email",
			}}},
		},
		Settings:  models.WorkflowSettings{CooldownHours: 24, AllowReEntry: true},
		Status:    models.WorkflowStatusActive,
		Version:   1,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

// NewExecution builds a pending execution for the pair.
func NewExecution(workflowID, entityID string) *models.Execution {
	return &models.Execution{
		ID:              uuid.NewString(),
		WorkflowID:      workflowID,
		EntityType:      models.EntityTypeApplication,
		EntityID:        entityID,
		TriggerType:     models.TriggerTypeEntityIncomplete,
		Context:         map[string]any{"application": map[string]any{"status": "started"}},
		Status:          models.ExecutionStatusPending,
		ScheduledAt:     epoch,
		NextScheduledAt: epoch,
		RetryConfig:     models.RetryConfig{MaxRetries: 3, RetryDelayMinutes: 5},
		CreatedAt:       epoch,
		UpdatedAt:       epoch,
	}
}

// Run exercises p against the repository contracts. The store must start empty.
func Run(t *testing.T, p persistence.Persistence) {
	t.Helper()

	t.Run("workflows", func(t *testing.T) { testWorkflows(t, p.WorkflowRepository()) })
	t.Run("executions", func(t *testing.T) { testExecutions(t, p.ExecutionRepository()) })
	t.Run("scheduling queries", func(t *testing.T) { testSchedulingQueries(t, p.ExecutionRepository()) })
	t.Run("concurrent create", func(t *testing.T) { testConcurrentCreate(t, p.ExecutionRepository()) })
	t.Run("entities", func(t *testing.T) { testEntities(t, p.EntityRepository()) })
	t.Run("health", func(t *testing.T) { require.NoError(t, p.HealthCheck(t.Context())) })
}

func testWorkflows(t *testing.T, repo persistence.WorkflowRepository) {
	ctx := t.Context()

	workflow := NewWorkflow("suite-application-incomplete")
	require.NoError(t, repo.Save(ctx, workflow))

	byID, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Key, byID.Key)
	require.Len(t, byID.Actions, 2)
	assert.Equal(t, models.Delay{Hours: 24}, byID.Actions[0].Spec)

	byKey, err := repo.GetByKey(ctx, workflow.Key)
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, byKey.ID)

	_, err = repo.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	_, err = repo.GetByKey(ctx, "missing-key")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	conflict := NewWorkflow(workflow.Key)
	require.ErrorIs(t, repo.Save(ctx, conflict), persistence.ErrWorkflowKeyConflict)

	paused := NewWorkflow("suite-referrer-inactive")
	paused.Status = models.WorkflowStatusPaused
	paused.TriggerType = models.TriggerTypeEntityInactive
	paused.EntityType = models.EntityTypeReferral
	paused.CreatedAt = epoch.Add(time.Hour)
	require.NoError(t, repo.Save(ctx, paused))

	workflow.Name = "Renamed"
	require.NoError(t, repo.Save(ctx, workflow))

	all, err := repo.List(ctx, persistence.ListWorkflowsOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Renamed", all[0].Name)

	active, err := repo.List(ctx, persistence.ListWorkflowsOptions{
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerTypeEntityIncomplete,
		EntityType:  models.EntityTypeApplication,
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, workflow.ID, active[0].ID)
}

func testExecutions(t *testing.T, repo persistence.ExecutionRepository) {
	ctx := t.Context()
	workflowID := uuid.NewString()

	first := NewExecution(workflowID, "application-42")
	require.NoError(t, repo.Create(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	duplicate := NewExecution(workflowID, "application-42")
	require.ErrorIs(t, repo.Create(ctx, duplicate), persistence.ErrDuplicateExecution)

	other := NewExecution(workflowID, "application-43")
	require.NoError(t, repo.Create(ctx, other))

	found, err := repo.FindInflight(ctx, workflowID, "application-42")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, "started", found.Context["application"].(map[string]any)["status"])

	stale, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)

	first.Status = models.ExecutionStatusRunning
	first.CurrentActionIndex = 1
	first.ActionResults = append(first.ActionResults, models.ActionResult{
		Index: 0, ActionID: "wait", Type: models.ActionTypeDelay, Status: models.ActionResultScheduled,
		StartedAt: epoch, FinishedAt: epoch,
	})
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	stale.Status = models.ExecutionStatusCancelled
	require.ErrorIs(t, repo.Save(ctx, stale), persistence.ErrConcurrentUpdate)

	loaded, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)
	assert.Equal(t, 1, loaded.CurrentActionIndex)
	require.Len(t, loaded.ActionResults, 1)
	assert.Equal(t, models.ActionResultScheduled, loaded.ActionResults[0].Status)

	completedAt := epoch.Add(48 * time.Hour)
	loaded.Status = models.ExecutionStatusCompleted
	loaded.CompletedAt = &completedAt
	require.NoError(t, repo.Save(ctx, loaded))

	none, err := repo.FindInflight(ctx, workflowID, "application-42")
	require.NoError(t, err)
	assert.Nil(t, none)

	again := NewExecution(workflowID, "application-42")
	require.NoError(t, repo.Create(ctx, again))

	latest, err := repo.LatestTerminal(ctx, workflowID, "application-42")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, first.ID, latest.ID)
	assert.True(t, completedAt.Equal(*latest.CompletedAt))

	noneTerminal, err := repo.LatestTerminal(ctx, workflowID, "application-43")
	require.NoError(t, err)
	assert.Nil(t, noneTerminal)

	count, err := repo.Count(ctx, workflowID, "application-42")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	listed, err := repo.List(ctx, persistence.ListExecutionsOptions{WorkflowID: workflowID, EntityID: "application-42"})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = repo.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func testSchedulingQueries(t *testing.T, repo persistence.ExecutionRepository) {
	ctx := t.Context()
	workflowID := uuid.NewString()
	now := epoch.Add(10 * 24 * time.Hour)

	dueEarly := NewExecution(workflowID, "due-early")
	dueEarly.NextScheduledAt = now.Add(-2 * time.Hour)
	require.NoError(t, repo.Create(ctx, dueEarly))

	dueLate := NewExecution(workflowID, "due-late")
	dueLate.Status = models.ExecutionStatusRetrying
	dueLate.NextScheduledAt = now.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, dueLate))

	future := NewExecution(workflowID, "future")
	future.NextScheduledAt = now.Add(time.Hour)
	require.NoError(t, repo.Create(ctx, future))

	running := NewExecution(workflowID, "running")
	running.Status = models.ExecutionStatusRunning
	running.NextScheduledAt = now.Add(-3 * time.Hour)
	running.UpdatedAt = now.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, running))

	due, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, execution := range due {
		if execution.WorkflowID == workflowID {
			ids = append(ids, execution.ID)
		}
	}

	assert.Equal(t, []string{dueEarly.ID, dueLate.ID}, ids)

	limited, err := repo.Due(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stalled, err := repo.Stalled(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)

	var stalledIDs []string
	for _, execution := range stalled {
		stalledIDs = append(stalledIDs, execution.ID)
	}

	assert.Contains(t, stalledIDs, running.ID)

	notYet, err := repo.Stalled(ctx, now.Add(-2*time.Hour), 10)
	require.NoError(t, err)

	for _, execution := range notYet {
		assert.NotEqual(t, running.ID, execution.ID)
	}
}

func testConcurrentCreate(t *testing.T, repo persistence.ExecutionRepository) {
	ctx := t.Context()
	workflowID := uuid.NewString()

	const attempts = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)

	for range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repo.Create(ctx, NewExecution(workflowID, "application-race"))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				accepted++
			case persistence.IsDuplicateExecution(err):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, attempts-1, rejected)
}

func testEntities(t *testing.T, repo persistence.EntityRepository) {
	ctx := t.Context()

	entity := &models.Entity{
		Type:      models.EntityTypeApplication,
		ID:        "application-" + uuid.NewString(),
		Fields:    map[string]any{"status": "started", "userId": "user-1"},
		UpdatedAt: epoch,
	}
	require.NoError(t, repo.Save(ctx, entity))

	loaded, err := repo.Get(ctx, models.EntityTypeApplication, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "started", loaded.Fields["status"])
	assert.Equal(t, "user-1", loaded.Ref("userId"))

	loaded.Fields["status"] = "abandoned"
	require.NoError(t, repo.Save(ctx, loaded))

	reloaded, err := repo.Get(ctx, models.EntityTypeApplication, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "abandoned", reloaded.Fields["status"])

	_, err = repo.Get(ctx, models.EntityTypeJob, entity.ID)
	require.ErrorIs(t, err, persistence.ErrEntityNotFound)
}
