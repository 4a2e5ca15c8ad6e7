package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/mocks"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func waitThenEmail(key string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Key:      key,
		Name:     "Wait then email",
		Settings: models.WorkflowSettings{AllowReEntry: true},
		Actions: []models.Action{
			{ID: "wait", Spec: models.Delay{Hours: 1}},
			sendEmail("email", "Reminder"),
		},
	}
}

func TestTrigger_SecondTriggerIsDuplicatePending(t *testing.T) {
	f := newFixture(t)
	wf := f.activate(t, waitThenEmail("wait-then-email"))

	first := f.trigger(t, wf.ID)
	require.True(t, first.Accepted)
	require.NotNil(t, first.Advance)
	assert.Equal(t, models.ExecutionStatusPending, first.Advance.Status)

	second := f.trigger(t, wf.ID)

	assert.False(t, second.Accepted)
	assert.Equal(t, engine.ReasonDuplicatePending, second.Reason)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)

	executions, err := f.store.ExecutionRepository().List(context.Background(), persistence.ListExecutionsOptions{
		WorkflowID: wf.ID,
	})
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestTrigger_ResolvesWorkflowByKey(t *testing.T) {
	f := newFixture(t)
	wf := f.activate(t, waitThenEmail("by-key"))

	result := f.trigger(t, "by-key")

	assert.True(t, result.Accepted)
	assert.Equal(t, wf.ID, result.WorkflowID)
}

func TestTrigger_RejectsUnknownAndInactiveWorkflows(t *testing.T) {
	f := newFixture(t)

	wf := waitThenEmail("paused-workflow")
	wf.ID = "wf-paused"
	wf.EntityType = models.EntityTypeApplication
	wf.Status = models.WorkflowStatusPaused
	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), wf))

	for _, ref := range []string{"missing", "wf-paused"} {
		_, err := f.engine.Trigger(context.Background(), engine.TriggerRequest{
			WorkflowRef: ref,
			EntityType:  models.EntityTypeApplication,
			EntityID:    "application-42",
		})

		assert.True(t, persistence.IsWorkflowNotFound(err), ref)
	}
}

func TestTrigger_RejectsEntityTypeMismatch(t *testing.T) {
	f := newFixture(t)
	wf := f.activate(t, waitThenEmail("mismatch"))

	_, err := f.engine.Trigger(context.Background(), engine.TriggerRequest{
		WorkflowRef: wf.ID,
		EntityType:  models.EntityTypeUser,
		EntityID:    "user-7",
	})

	assert.ErrorIs(t, err, engine.ErrEntityTypeMismatch)
}

func TestTrigger_CooldownReportsNextEligibleAt(t *testing.T) {
	f := newFixture(t)
	wf := f.activate(t, &models.WorkflowDefinition{
		Key:      "cooldown",
		Settings: models.WorkflowSettings{CooldownHours: 24, AllowReEntry: true},
		Actions:  []models.Action{sendEmail("email", "Hello")},
	})

	f.email.On("SendEmail", mock.Anything, emailTo("Hello")).Return(protocol.Receipt{MessageID: "m-1"}, nil)

	first := f.trigger(t, wf.ID)
	require.True(t, first.Accepted)
	require.Equal(t, models.ExecutionStatusCompleted, first.Advance.Status)

	completedAt := *f.execution(t, first.ExecutionID).CompletedAt

	f.clock.Advance(2 * time.Hour)

	second := f.trigger(t, wf.ID)

	assert.False(t, second.Accepted)
	assert.Equal(t, engine.ReasonCooldown, second.Reason)
	require.NotNil(t, second.NextEligibleAt)
	assert.True(t, completedAt.Add(24*time.Hour).Equal(*second.NextEligibleAt))

	f.clock.Advance(22 * time.Hour)

	third := f.trigger(t, wf.ID)

	assert.True(t, third.Accepted)
}

func TestTrigger_ReEntryAndMaxExecutions(t *testing.T) {
	tests := []struct {
		name     string
		settings models.WorkflowSettings
		reason   engine.Reason
	}{
		{
			name:     "re-entry not allowed",
			settings: models.WorkflowSettings{AllowReEntry: false},
			reason:   engine.ReasonReEntryNotAllowed,
		},
		{
			name:     "max executions reached",
			settings: models.WorkflowSettings{AllowReEntry: true, MaxExecutionsPerEntity: 1},
			reason:   engine.ReasonMaxExecutionsReached,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			wf := f.activate(t, &models.WorkflowDefinition{
				Key:      "guarded",
				Settings: tt.settings,
				Actions:  []models.Action{sendEmail("email", "Hello")},
			})

			f.email.On("SendEmail", mock.Anything, mock.Anything).Return(protocol.Receipt{}, nil)

			first := f.trigger(t, wf.ID)
			require.True(t, first.Accepted)

			second := f.trigger(t, wf.ID)

			assert.False(t, second.Accepted)
			assert.Equal(t, tt.reason, second.Reason)
		})
	}
}

func TestTrigger_EntryConditionsNotMet(t *testing.T) {
	f := newFixture(t)
	wf := waitThenEmail("entry-gated")
	wf.EntryConditions = statusEquals("submitted")
	f.activate(t, wf)

	result := f.trigger(t, wf.ID)

	assert.False(t, result.Accepted)
	assert.Equal(t, engine.ReasonEntryConditionsNotMet, result.Reason)
	assert.Empty(t, result.ExecutionID)
}

func TestTrigger_FutureScheduleIsNotAdvanced(t *testing.T) {
	f := newFixture(t)
	wf := f.activate(t, &models.WorkflowDefinition{
		Key:     "scheduled",
		Actions: []models.Action{sendEmail("email", "Later")},
	})

	result, err := f.engine.Trigger(context.Background(), engine.TriggerRequest{
		WorkflowRef: wf.ID,
		EntityType:  models.EntityTypeApplication,
		EntityID:    "application-42",
		ScheduledAt: epoch.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	assert.Nil(t, result.Advance)

	execution := f.execution(t, result.ExecutionID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.True(t, epoch.Add(time.Hour).Equal(execution.NextScheduledAt))
	f.email.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestTriggerEvent_FansOutToEveryMatchingWorkflow(t *testing.T) {
	f := newFixture(t)
	f.activate(t, waitThenEmail("first-workflow"))
	f.activate(t, waitThenEmail("second-workflow"))

	other := waitThenEmail("other-trigger")
	other.TriggerType = models.TriggerTypeStatusChanged
	f.activate(t, other)

	results, err := f.engine.TriggerEvent(context.Background(),
		models.TriggerTypeEntityIncomplete, models.EntityTypeApplication, "application-42", nil)
	require.NoError(t, err)

	require.Len(t, results, 2)

	for _, result := range results {
		assert.True(t, result.Accepted)
		assert.NotEqual(t, "wf-other-trigger", result.WorkflowID)
	}
}

func TestTrigger_PublishesLifecycleEvents(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f := newFixture(t, engine.WithPublisher(bus))
	wf := f.activate(t, waitThenEmail("published"))

	result := f.trigger(t, wf.ID)
	require.True(t, result.Accepted)

	var published []events.EventType
	for _, call := range bus.Calls {
		assert.Equal(t, result.ExecutionID, call.Arguments.String(1))

		published = append(published, call.Arguments.Get(2).(interface{ GetType() events.EventType }).GetType())
	}

	assert.Equal(t, []events.EventType{events.ExecutionCreatedEvent, events.ExecutionScheduledEvent}, published)
}
