package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/followup/pkg/actions"
	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/mocks"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence/memory"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine       *engine.Engine
	store        *memory.Persistence
	clock        *clockwork.FakeClock
	email        *mocks.MockEmailSender
	chat         *mocks.MockChatSender
	notification *mocks.MockNotificationSender
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()

	store, err := memory.NewPersistence()
	require.NoError(t, err)

	f := &fixture{
		store:        store,
		clock:        clockwork.NewFakeClockAt(epoch),
		email:        &mocks.MockEmailSender{},
		chat:         &mocks.MockChatSender{},
		notification: &mocks.MockNotificationSender{},
	}

	executor := actions.NewExecutor(
		protocol.Senders{Email: f.email, Chat: f.chat, Notification: f.notification},
		store.EntityRepository(),
		f.clock,
		slog.Default(),
	)

	opts = append([]engine.Option{engine.WithClock(f.clock)}, opts...)

	f.engine, err = engine.New(store, executor, slog.Default(), opts...)
	require.NoError(t, err)

	f.seedEntities(t)

	return f
}

func (f *fixture) seedEntities(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	entities := []*models.Entity{
		{Type: models.EntityTypeApplication, ID: "application-42", Fields: map[string]any{
			"status": "started", "userId": "user-7", "jobId": "job-1",
		}},
		{Type: models.EntityTypeJob, ID: "job-1", Fields: map[string]any{
			"title": "Backend Engineer", "companyId": "company-3",
		}},
		{Type: models.EntityTypeUser, ID: "user-7", Fields: map[string]any{
			"name": "Ana", "email": "ana@example.com", "phone": "+5511999999999", "role": "candidate",
		}},
		{Type: models.EntityTypeCompany, ID: "company-3", Fields: map[string]any{"name": "Acme"}},
	}

	for _, entity := range entities {
		require.NoError(t, f.store.EntityRepository().Save(ctx, entity))
	}
}

func (f *fixture) setApplicationStatus(t *testing.T, status string) {
	t.Helper()

	ctx := context.Background()

	application, err := f.store.EntityRepository().Get(ctx, models.EntityTypeApplication, "application-42")
	require.NoError(t, err)

	application.Fields["status"] = status
	require.NoError(t, f.store.EntityRepository().Save(ctx, application))
}

func (f *fixture) activate(t *testing.T, wf *models.WorkflowDefinition) *models.WorkflowDefinition {
	t.Helper()

	if wf.ID == "" {
		wf.ID = "wf-" + wf.Key
	}

	if wf.EntityType == "" {
		wf.EntityType = models.EntityTypeApplication
	}

	if wf.TriggerType == "" {
		wf.TriggerType = models.TriggerTypeEntityIncomplete
	}

	wf.Status = models.WorkflowStatusActive
	wf.Version = 1
	wf.CreatedAt = f.clock.Now()
	wf.UpdatedAt = f.clock.Now()

	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), wf))

	return wf
}

func (f *fixture) execution(t *testing.T, id string) *models.Execution {
	t.Helper()

	execution, err := f.store.ExecutionRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func (f *fixture) trigger(t *testing.T, workflowRef string) engine.TriggerResult {
	t.Helper()

	result, err := f.engine.Trigger(context.Background(), engine.TriggerRequest{
		WorkflowRef: workflowRef,
		EntityType:  models.EntityTypeApplication,
		EntityID:    "application-42",
	})
	require.NoError(t, err)

	return result
}

func emailTo(subject string) any {
	return mock.MatchedBy(func(email protocol.Email) bool {
		return email.To == "ana@example.com" && email.Subject == subject
	})
}

func sendEmail(id, subject string) models.Action {
	return models.Action{ID: id, Spec: models.SendEmail{Message: models.Message{
		SubjectTemplate: subject,
		BodyTemplate:    "<p>Hi {{user.name}}</p>",
		RecipientPath:   "user.email",
	}}}
}

func statusEquals(value string) []models.Condition {
	return []models.Condition{{
		Field:     "application.status",
		Operator:  models.OperatorEquals,
		Value:     value,
		ValueType: models.ValueTypeString,
	}}
}

func resultStatuses(execution *models.Execution) map[string]models.ActionResultStatus {
	out := map[string]models.ActionResultStatus{}
	for _, result := range execution.ActionResults {
		out[result.ActionID] = result.Status
	}

	return out
}

var errProvider = errors.New("provider unavailable")
