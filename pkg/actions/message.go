package actions

import (
	"context"
	"strings"

	"github.com/dukex/followup/pkg/config"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/dukex/followup/pkg/template"
	"github.com/spf13/cast"
)

type renderedMessage struct {
	recipient string
	subject   string
	body      string
}

func (e *Executor) resolveRecipient(actionID string, msg models.Message, data map[string]any) (string, error) {
	if msg.RecipientPath == "" {
		return "", newError(KindMissingRecipient, actionID, "recipient path is empty", nil)
	}

	value, found := models.Lookup(data, msg.RecipientPath)
	if !found || value == nil {
		return "", newError(KindMissingRecipient, actionID, "no value at "+msg.RecipientPath, nil)
	}

	recipient, err := cast.ToStringE(value)
	if err != nil || strings.TrimSpace(recipient) == "" {
		return "", newError(KindMissingRecipient, actionID, "no value at "+msg.RecipientPath, err)
	}

	return recipient, nil
}

// render resolves the recipient and renders subject and body. Inline templates override the catalog entry.
func (e *Executor) render(actionID string, msg models.Message, data map[string]any) (renderedMessage, error) {
	recipient, err := e.resolveRecipient(actionID, msg, data)
	if err != nil {
		return renderedMessage{}, err
	}

	var entry config.MessageTemplate

	if msg.TemplateRef != "" {
		found, ok := e.templates[msg.TemplateRef]
		if !ok && msg.BodyTemplate == "" {
			return renderedMessage{}, newError(KindTemplateNotFound, actionID, "template "+msg.TemplateRef+" is not in the catalog", nil)
		}

		entry = found
	}

	subject := firstNonEmpty(msg.SubjectTemplate, entry.Subject, entry.Title)
	body := firstNonEmpty(msg.BodyTemplate, entry.Body)

	if body == "" {
		return renderedMessage{}, newError(KindTemplateNotFound, actionID, "no body template", nil)
	}

	return renderedMessage{
		recipient: recipient,
		subject:   template.Render(subject, data),
		body:      template.Render(body, data),
	}, nil
}

func (e *Executor) sendEmail(ctx context.Context, actionID string, spec models.SendEmail, in Input) (Result, error) {
	if e.senders.Email == nil {
		return Result{}, newError(KindChannelNotConfigured, actionID, "email channel is not configured", nil)
	}

	rendered, err := e.render(actionID, spec.Message, in.Context)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := e.withActionTimeout(ctx)
	defer cancel()

	receipt, err := e.senders.Email.SendEmail(ctx, protocol.Email{
		To:      rendered.recipient,
		Subject: rendered.subject,
		HTML:    rendered.body,
	})
	if err != nil {
		return Result{}, newError(KindChannelSendFailed, actionID, "email", err)
	}

	return delivered(receipt, rendered.recipient, map[string]any{"subject": rendered.subject}), nil
}

func (e *Executor) sendChatMessage(ctx context.Context, actionID string, spec models.SendChatMessage, in Input) (Result, error) {
	if e.senders.Chat == nil {
		return Result{}, newError(KindChannelNotConfigured, actionID, "chat channel is not configured", nil)
	}

	recipient, err := e.resolveRecipient(actionID, spec.Message, in.Context)
	if err != nil {
		return Result{}, err
	}

	if spec.TemplateRef == "" {
		return Result{}, newError(KindTemplateNotFound, actionID, "chat messages require a provider template", nil)
	}

	parameters := make([]string, len(spec.Parameters))
	for i, p := range spec.Parameters {
		parameters[i] = template.Render(p, in.Context)
	}

	ctx, cancel := e.withActionTimeout(ctx)
	defer cancel()

	receipt, err := e.senders.Chat.SendChatMessage(ctx, protocol.ChatMessage{
		To:           recipient,
		TemplateName: spec.TemplateRef,
		Language:     spec.Language,
		Parameters:   parameters,
	})
	if err != nil {
		return Result{}, newError(KindChannelSendFailed, actionID, "chat", err)
	}

	return delivered(receipt, recipient, map[string]any{"template": spec.TemplateRef}), nil
}

func (e *Executor) sendNotification(ctx context.Context, actionID string, spec models.SendNotification, in Input) (Result, error) {
	if e.senders.Notification == nil {
		return Result{}, newError(KindChannelNotConfigured, actionID, "notification channel is not configured", nil)
	}

	rendered, err := e.render(actionID, spec.Message, in.Context)
	if err != nil {
		return Result{}, err
	}

	kind := spec.NotificationType
	if kind == "" {
		kind = "follow_up"
	}

	ctx, cancel := e.withActionTimeout(ctx)
	defer cancel()

	receipt, err := e.senders.Notification.SendNotification(ctx, protocol.Notification{
		UserID:  rendered.recipient,
		Type:    kind,
		Title:   rendered.subject,
		Message: rendered.body,
	})
	if err != nil {
		return Result{}, newError(KindChannelSendFailed, actionID, "notification", err)
	}

	return delivered(receipt, rendered.recipient, map[string]any{"notification_type": kind}), nil
}

func delivered(receipt protocol.Receipt, recipient string, extra map[string]any) Result {
	output := map[string]any{
		"delivered":           true,
		"provider_message_id": receipt.MessageID,
		"recipient":           recipient,
	}

	for k, v := range extra {
		output[k] = v
	}

	return Result{Output: output}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
