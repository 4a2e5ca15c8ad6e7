package mocks

import (
	"context"

	"github.com/dukex/followup/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockEmailSender is a mock implementation of protocol.EmailSender.
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendEmail(ctx context.Context, email protocol.Email) (protocol.Receipt, error) {
	args := m.Called(ctx, email)

	return args.Get(0).(protocol.Receipt), args.Error(1)
}

// MockChatSender is a mock implementation of protocol.ChatSender.
type MockChatSender struct {
	mock.Mock
}

func (m *MockChatSender) SendChatMessage(ctx context.Context, message protocol.ChatMessage) (protocol.Receipt, error) {
	args := m.Called(ctx, message)

	return args.Get(0).(protocol.Receipt), args.Error(1)
}

// MockNotificationSender is a mock implementation of protocol.NotificationSender.
type MockNotificationSender struct {
	mock.Mock
}

func (m *MockNotificationSender) SendNotification(ctx context.Context, notification protocol.Notification) (protocol.Receipt, error) {
	args := m.Called(ctx, notification)

	return args.Get(0).(protocol.Receipt), args.Error(1)
}
