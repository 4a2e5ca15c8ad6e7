// Package protocol defines the contracts between the engine and its outbound channel providers.
package protocol

import "context"

// Email is a rendered HTML email.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// ChatMessage is a provider-approved chat template with positional parameters.
type ChatMessage struct {
	To           string
	TemplateName string
	Language     string
	Parameters   []string
}

// Notification is an in-app notification for one user.
type Notification struct {
	UserID  string
	Type    string
	Title   string
	Message string
}

// Receipt identifies a delivered message on the provider side.
type Receipt struct {
	MessageID string
}

type EmailSender interface {
	SendEmail(ctx context.Context, email Email) (Receipt, error)
}

type ChatSender interface {
	SendChatMessage(ctx context.Context, message ChatMessage) (Receipt, error)
}

type NotificationSender interface {
	SendNotification(ctx context.Context, notification Notification) (Receipt, error)
}

// Senders groups the channel providers handed to the action executor. A nil sender disables its channel.
type Senders struct {
	Email        EmailSender
	Chat         ChatSender
	Notification NotificationSender
}
