// Package notification delivers SEND_NOTIFICATION actions as notification.created events for the notification store.
package notification

import (
	"context"
	"fmt"

	"github.com/dukex/followup/pkg/eventbus"
	"github.com/dukex/followup/pkg/events"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/google/uuid"
)

type Sender struct {
	publisher eventbus.EventPublisher
}

func NewSender(publisher eventbus.EventPublisher) *Sender {
	return &Sender{publisher: publisher}
}

func (s *Sender) SendNotification(ctx context.Context, notification protocol.Notification) (protocol.Receipt, error) {
	id := uuid.New().String()

	event := events.NotificationCreated{
		BaseEvent:      events.NewBaseEvent(events.NotificationCreatedEvent, ""),
		NotificationID: id,
		UserID:         notification.UserID,
		Kind:           notification.Type,
		Title:          notification.Title,
		Message:        notification.Message,
	}

	err := s.publisher.Publish(ctx, notification.UserID, event)
	if err != nil {
		return protocol.Receipt{}, fmt.Errorf("failed to publish notification for user %s: %w", notification.UserID, err)
	}

	return protocol.Receipt{MessageID: id}, nil
}
