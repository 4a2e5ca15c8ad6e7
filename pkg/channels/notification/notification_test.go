package notification

import (
	"errors"
	"testing"

	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/mocks"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSender_SendNotification(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "user-7", mock.MatchedBy(func(event events.NotificationCreated) bool {
		return event.UserID == "user-7" && event.Title == "Reminder" && event.Kind == "follow_up"
	})).Return(nil)

	receipt, err := NewSender(bus).SendNotification(t.Context(), protocol.Notification{
		UserID:  "user-7",
		Type:    "follow_up",
		Title:   "Reminder",
		Message: "Your application is waiting",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.MessageID)
	bus.AssertExpectations(t)
}

func TestSender_SendNotificationPublishError(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "user-7", mock.Anything).Return(errors.New("bus closed"))

	_, err := NewSender(bus).SendNotification(t.Context(), protocol.Notification{UserID: "user-7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus closed")
}
