package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType names one kind of workflow step.
type ActionType string

const (
	ActionTypeDelay            ActionType = "delay"
	ActionTypeCondition        ActionType = "condition"
	ActionTypeSendEmail        ActionType = "send_email"
	ActionTypeSendChatMessage  ActionType = "send_chat_message"
	ActionTypeSendNotification ActionType = "send_notification"
	ActionTypeUpdateStatus     ActionType = "update_status"
	ActionTypeWebhook          ActionType = "webhook"
)

// ActionTypes lists every action type accepted by the authoring schema.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionTypeDelay,
		ActionTypeCondition,
		ActionTypeSendEmail,
		ActionTypeSendChatMessage,
		ActionTypeSendNotification,
		ActionTypeUpdateStatus,
		ActionTypeWebhook,
	}
}

// ActionSpec is the closed set of action payloads. Only types in this package implement it.
type ActionSpec interface {
	Type() ActionType
	isActionSpec()
}

// Delay postpones the rest of the workflow without holding a worker.
type Delay struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

func (Delay) Type() ActionType { return ActionTypeDelay }
func (Delay) isActionSpec()    {}

// Duration returns the total delay.
func (d Delay) Duration() time.Duration {
	return time.Duration(d.Hours)*time.Hour + time.Duration(d.Minutes)*time.Minute
}

// Branch evaluates conditions and runs exactly one of its nested sequences.
type Branch struct {
	Conditions   []Condition `json:"conditions"`
	Logic        Logic       `json:"logic"`
	TrueActions  []Action    `json:"true_actions"`
	FalseActions []Action    `json:"false_actions"`
}

func (Branch) Type() ActionType { return ActionTypeCondition }
func (Branch) isActionSpec()    {}

// Message holds the fields shared by every send action.
type Message struct {
	TemplateRef     string `json:"template_ref,omitempty"`
	SubjectTemplate string `json:"subject_template,omitempty"`
	BodyTemplate    string `json:"body_template,omitempty"`
	RecipientPath   string `json:"recipient_path"`
}

// SendEmail delivers an HTML email through the email channel.
type SendEmail struct {
	Message
}

func (SendEmail) Type() ActionType { return ActionTypeSendEmail }
func (SendEmail) isActionSpec()    {}

// SendChatMessage delivers a pre-approved chat template through the chat channel.
// TemplateRef is the provider-side template name.
type SendChatMessage struct {
	Message

	Language   string   `json:"language,omitempty"`
	Parameters []string `json:"parameters,omitempty"`
}

func (SendChatMessage) Type() ActionType { return ActionTypeSendChatMessage }
func (SendChatMessage) isActionSpec()    {}

// SendNotification creates an in-app notification for the resolved user.
type SendNotification struct {
	Message

	NotificationType string `json:"notification_type,omitempty"`
}

func (SendNotification) Type() ActionType { return ActionTypeSendNotification }
func (SendNotification) isActionSpec()    {}

// UpdateStatus writes StatusValue into StatusField of the execution's entity of EntityType.
type UpdateStatus struct {
	EntityType  EntityType `json:"entity_type"`
	StatusField string     `json:"status_field"`
	StatusValue string     `json:"status_value"`
}

func (UpdateStatus) Type() ActionType { return ActionTypeUpdateStatus }
func (UpdateStatus) isActionSpec()    {}

// Webhook calls an external HTTP endpoint.
type Webhook struct {
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`
}

func (Webhook) Type() ActionType { return ActionTypeWebhook }
func (Webhook) isActionSpec()    {}

// Action is one step of a workflow sequence.
type Action struct {
	ID            string
	Name          string
	Enabled       *bool
	StopOnFailure *bool
	Spec          ActionSpec
}

// IsEnabled defaults to true when unset.
func (a Action) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// StopsOnFailure defaults to true when unset.
func (a Action) StopsOnFailure() bool {
	return a.StopOnFailure == nil || *a.StopOnFailure
}

// Type returns the action type, or "" when the action carries no spec.
func (a Action) Type() ActionType {
	if a.Spec == nil {
		return ""
	}

	return a.Spec.Type()
}

type actionEnvelope struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Type          ActionType      `json:"type"`
	Enabled       *bool           `json:"enabled,omitempty"`
	StopOnFailure *bool           `json:"stop_on_failure,omitempty"`
	Config        json.RawMessage `json:"config"`
}

// MarshalJSON encodes the action as {id, type, enabled, stop_on_failure, config}.
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Spec == nil {
		return nil, fmt.Errorf("action %s has no spec", a.ID)
	}

	config, err := json.Marshal(a.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action %s config: %w", a.ID, err)
	}

	return json.Marshal(actionEnvelope{
		ID:            a.ID,
		Name:          a.Name,
		Type:          a.Spec.Type(),
		Enabled:       a.Enabled,
		StopOnFailure: a.StopOnFailure,
		Config:        config,
	})
}

// UnmarshalJSON decodes the envelope and its type-specific config.
func (a *Action) UnmarshalJSON(data []byte) error {
	var envelope actionEnvelope

	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return err
	}

	spec, err := newActionSpec(envelope.Type)
	if err != nil {
		return fmt.Errorf("action %s: %w", envelope.ID, err)
	}

	if len(envelope.Config) > 0 && string(envelope.Config) != "null" {
		err = json.Unmarshal(envelope.Config, spec)
		if err != nil {
			return fmt.Errorf("failed to decode action %s config: %w", envelope.ID, err)
		}
	}

	a.ID = envelope.ID
	a.Name = envelope.Name
	a.Enabled = envelope.Enabled
	a.StopOnFailure = envelope.StopOnFailure
	a.Spec = derefSpec(spec)

	return nil
}

// ErrUnknownActionType is returned when decoding an action whose type is not in the vocabulary.
type ErrUnknownActionType struct {
	Type ActionType
}

func (e *ErrUnknownActionType) Error() string {
	return fmt.Sprintf("unknown action type %q", e.Type)
}

func newActionSpec(actionType ActionType) (any, error) {
	switch actionType {
	case ActionTypeDelay:
		return &Delay{}, nil
	case ActionTypeCondition:
		return &Branch{}, nil
	case ActionTypeSendEmail:
		return &SendEmail{}, nil
	case ActionTypeSendChatMessage:
		return &SendChatMessage{}, nil
	case ActionTypeSendNotification:
		return &SendNotification{}, nil
	case ActionTypeUpdateStatus:
		return &UpdateStatus{}, nil
	case ActionTypeWebhook:
		return &Webhook{}, nil
	default:
		return nil, &ErrUnknownActionType{Type: actionType}
	}
}

func derefSpec(spec any) ActionSpec {
	switch s := spec.(type) {
	case *Delay:
		return *s
	case *Branch:
		return *s
	case *SendEmail:
		return *s
	case *SendChatMessage:
		return *s
	case *SendNotification:
		return *s
	case *UpdateStatus:
		return *s
	case *Webhook:
		return *s
	default:
		return nil
	}
}
