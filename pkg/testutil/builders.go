// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"context"
	"testing"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/stretchr/testify/require"
)

const (
	ApplicationID = "application-42"
	UserID        = "user-7"
	UserEmail     = "ana@example.com"
)

// CreateTestWorkflow creates an active application workflow that waits one hour and then emails the candidate.
func CreateTestWorkflow(key string, overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	wf := &models.WorkflowDefinition{
		ID:          "wf-" + key,
		Key:         key,
		Name:        "Test workflow " + key,
		TriggerType: models.TriggerTypeEntityIncomplete,
		EntityType:  models.EntityTypeApplication,
		Status:      models.WorkflowStatusActive,
		Version:     1,
		Settings:    models.WorkflowSettings{AllowReEntry: true},
		Actions: []models.Action{
			DelayAction("wait", 1),
			SendEmailAction("email", "Finish your application"),
		},
	}

	for _, override := range overrides {
		override(wf)
	}

	return wf
}

// WithActions replaces the workflow actions.
func WithActions(actions ...models.Action) func(*models.WorkflowDefinition) {
	return func(wf *models.WorkflowDefinition) {
		wf.Actions = actions
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.WorkflowDefinition) {
	return func(wf *models.WorkflowDefinition) {
		wf.Status = status
	}
}

func DelayAction(id string, hours int) models.Action {
	return models.Action{ID: id, Spec: models.Delay{Hours: hours}}
}

// SendEmailAction emails the candidate resolved through user.email.
func SendEmailAction(id, subject string) models.Action {
	return models.Action{ID: id, Spec: models.SendEmail{Message: models.Message{
		SubjectTemplate: subject,
		BodyTemplate:    "<p>Hi {{user.name}}</p>",
		RecipientPath:   "user.email",
	}}}
}

// SeedCandidate stores application-42 owned by user-7.
func SeedCandidate(t *testing.T, repo persistence.EntityRepository) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &models.Entity{
		Type: models.EntityTypeApplication, ID: ApplicationID,
		Fields: map[string]any{"status": "started", "userId": UserID},
	}))
	require.NoError(t, repo.Save(ctx, &models.Entity{
		Type: models.EntityTypeUser, ID: UserID,
		Fields: map[string]any{"name": "Ana", "email": UserEmail},
	}))
}
