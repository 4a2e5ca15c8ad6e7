package eventbus_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/followup/pkg/channels/gochannel"
	"github.com/dukex/followup/pkg/eventbus"
	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	bus := newBus(t)

	received := make(chan *events.TriggerRequested, 1)

	require.NoError(t, bus.Handle(events.TriggerRequestedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.TriggerRequested)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	err := bus.Publish(t.Context(), "application-42", events.TriggerRequested{
		BaseEvent:   events.NewBaseEvent(events.TriggerRequestedEvent, ""),
		TriggerType: models.TriggerTypeEntityIncomplete,
		EntityType:  models.EntityTypeApplication,
		EntityID:    "application-42",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "application-42", event.EntityID)
		assert.Equal(t, models.TriggerTypeEntityIncomplete, event.TriggerType)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	bus := newBus(t)

	received := make(chan events.EventType, 2)

	require.NoError(t, bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionCompleted).GetType()

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	execution := &models.Execution{ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusCompleted}

	require.NoError(t, bus.Publish(t.Context(), "wf-1", events.ExecutionFailed{
		ExecutionEvent: events.NewExecutionEvent(events.ExecutionFailedEvent, execution),
	}))
	require.NoError(t, bus.Publish(t.Context(), "wf-1", events.ExecutionCompleted{
		ExecutionEvent: events.NewExecutionEvent(events.ExecutionCompletedEvent, execution),
	}))

	select {
	case eventType := <-received:
		assert.Equal(t, events.ExecutionCompletedEvent, eventType)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}
