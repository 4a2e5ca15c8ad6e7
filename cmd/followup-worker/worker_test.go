package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/followup/pkg/actions"
	"github.com/dukex/followup/pkg/channels/gochannel"
	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/eventbus"
	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/mocks"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/persistence/memory"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/dukex/followup/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine *engine.Engine
	store  *memory.Persistence
	clock  *clockwork.FakeClock
	email  *mocks.MockEmailSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := memory.NewPersistence()
	require.NoError(t, err)

	f := &fixture{
		store: store,
		clock: clockwork.NewFakeClockAt(epoch),
		email: &mocks.MockEmailSender{},
	}

	executor := actions.NewExecutor(protocol.Senders{Email: f.email}, store.EntityRepository(), f.clock, slog.Default())

	f.engine, err = engine.New(store, executor, slog.Default(), engine.WithClock(f.clock))
	require.NoError(t, err)

	testutil.SeedCandidate(t, store.EntityRepository())
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), testutil.CreateTestWorkflow("reminder")))

	return f
}

func (f *fixture) executions(t *testing.T) []*models.Execution {
	t.Helper()

	executions, err := f.store.ExecutionRepository().List(context.Background(), persistence.ListExecutionsOptions{
		WorkflowID: "wf-reminder",
	})
	require.NoError(t, err)

	return executions
}

func newTestWorker(f *fixture, bus eventbus.EventSubscriber) *Worker {
	return NewWorker("worker-test", f.engine, bus, slog.Default(), WorkerOptions{
		PollInterval: time.Hour,
		BatchSize:    10,
		Concurrency:  4,
		StallTimeout: 15 * time.Minute,
	})
}

func TestWorker_TriggerRequestedThenPollAdvancesDueExecution(t *testing.T) {
	f := newFixture(t)
	worker := newTestWorker(f, nil)
	ctx := context.Background()

	err := worker.TriggerRequested(ctx, events.TriggerRequested{
		TriggerType: models.TriggerTypeEntityIncomplete,
		EntityType:  models.EntityTypeApplication,
		EntityID:    testutil.ApplicationID,
	})
	require.NoError(t, err)

	executions := f.executions(t)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusPending, executions[0].Status)

	advanced, err := worker.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, advanced)

	f.clock.Advance(time.Hour)
	f.email.On("SendEmail", mock.Anything, mock.Anything).Return(protocol.Receipt{MessageID: "m-1"}, nil)

	advanced, err = worker.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	executions = f.executions(t)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)
	f.email.AssertNumberOfCalls(t, "SendEmail", 1)

	advanced, err = worker.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, advanced)
}

func TestWorker_HandleTriggerRequestedIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	worker := newTestWorker(f, nil)

	err := worker.handleTriggerRequested(context.Background(), &events.ExecutionCreated{})

	require.NoError(t, err)
	assert.Empty(t, f.executions(t))
}

func TestWorker_ConsumesTriggerRequestsFromEventBus(t *testing.T) {
	f := newFixture(t)

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())

	t.Cleanup(func() {
		assert.NoError(t, bus.Close())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := newTestWorker(f, bus)
	require.NoError(t, worker.Start(ctx))

	t.Cleanup(func() {
		worker.Stop(context.Background())
	})

	err = bus.Publish(ctx, testutil.ApplicationID, events.TriggerRequested{
		BaseEvent:   events.NewBaseEvent(events.TriggerRequestedEvent, ""),
		TriggerType: models.TriggerTypeEntityIncomplete,
		EntityType:  models.EntityTypeApplication,
		EntityID:    testutil.ApplicationID,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(f.executions(t)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_StartRejectsInvalidPollInterval(t *testing.T) {
	f := newFixture(t)
	worker := NewWorker("worker-test", f.engine, nil, slog.Default(), WorkerOptions{PollInterval: 0, BatchSize: 1})

	err := worker.Start(context.Background())

	assert.ErrorContains(t, err, "invalid poll interval")
}
