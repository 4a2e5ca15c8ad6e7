package actions

import (
	"errors"
	"fmt"
)

// ErrorKind names one failure of the action taxonomy.
type ErrorKind string

const (
	KindMissingRecipient     ErrorKind = "MissingRecipient"
	KindTemplateNotFound     ErrorKind = "TemplateNotFound"
	KindRenderError          ErrorKind = "RenderError"
	KindChannelSendFailed    ErrorKind = "ChannelSendFailed"
	KindChannelNotConfigured ErrorKind = "ChannelNotConfigured"
	KindStoreFailed          ErrorKind = "StoreFailed"
	KindEntityNotFound       ErrorKind = "EntityNotFound"
	KindWebhookTimeout       ErrorKind = "WebhookTimeout"
	KindWebhookNon2xx        ErrorKind = "WebhookNon2xx"
	KindUnknownActionType    ErrorKind = "UnknownActionType"
	KindInvalidCondition     ErrorKind = "InvalidCondition"
	KindActionPanicked       ErrorKind = "ActionPanicked"
)

// Class decides how the engine reacts to a failure.
type Class string

const (
	// ClassConfiguration failures are fatal and never retried.
	ClassConfiguration Class = "configuration"
	// ClassTransient failures are retried at the execution level.
	ClassTransient Class = "transient"
	// ClassEntity failures are fatal for the execution only.
	ClassEntity Class = "entity"
)

// Class returns the class of k.
func (k ErrorKind) Class() Class {
	switch k {
	case KindChannelSendFailed, KindStoreFailed, KindWebhookTimeout, KindWebhookNon2xx:
		return ClassTransient
	case KindMissingRecipient, KindEntityNotFound:
		return ClassEntity
	default:
		return ClassConfiguration
	}
}

// Error is an action failure.
type Error struct {
	Kind     ErrorKind
	ActionID string
	Message  string
	Err      error

	// StatusCode and Body are set for webhook responses.
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: action %s", e.Kind, e.ActionID)
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the engine may retry the failed action.
func (e *Error) Retryable() bool {
	return e.Kind.Class() == ClassTransient
}

func newError(kind ErrorKind, actionID, message string, err error) *Error {
	return &Error{Kind: kind, ActionID: actionID, Message: message, Err: err}
}

// AsError extracts an *Error from err. Foreign errors are reported as ChannelSendFailed.
func AsError(err error) *Error {
	var actionErr *Error
	if errors.As(err, &actionErr) {
		return actionErr
	}

	return &Error{Kind: KindChannelSendFailed, Err: err}
}

// IsKind reports whether err is an action failure of kind.
func IsKind(err error, kind ErrorKind) bool {
	var actionErr *Error

	return errors.As(err, &actionErr) && actionErr.Kind == kind
}
