package actions_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/followup/pkg/actions"
	"github.com/dukex/followup/pkg/config"
	"github.com/dukex/followup/pkg/mocks"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/persistence/memory"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type fixture struct {
	executor     *actions.Executor
	store        *memory.Persistence
	clock        *clockwork.FakeClock
	email        *mocks.MockEmailSender
	chat         *mocks.MockChatSender
	notification *mocks.MockNotificationSender
}

func newFixture(t *testing.T, opts ...actions.Option) *fixture {
	t.Helper()

	store, err := memory.NewPersistence()
	require.NoError(t, err)

	f := &fixture{
		store:        store,
		clock:        clockwork.NewFakeClockAt(epoch),
		email:        &mocks.MockEmailSender{},
		chat:         &mocks.MockChatSender{},
		notification: &mocks.MockNotificationSender{},
	}

	opts = append([]actions.Option{actions.WithTemplates(map[string]config.MessageTemplate{
		"application_reminder": {
			Subject: "Finish your application for {{job.title}}",
			Body:    "<p>Hi {{user.name}}, {{company.name}} is waiting.</p>",
		},
	})}, opts...)

	f.executor = actions.NewExecutor(
		protocol.Senders{Email: f.email, Chat: f.chat, Notification: f.notification},
		store.EntityRepository(),
		f.clock,
		slog.Default(),
		opts...,
	)

	return f
}

func input() actions.Input {
	return actions.Input{
		ExecutionID:    "exec-1",
		EntityType:     models.EntityTypeApplication,
		EntityID:       "application-42",
		ProgramCounter: 2,
		Context: map[string]any{
			"application": map[string]any{"id": "application-42", "status": "started"},
			"job":         map[string]any{"id": "job-1", "title": "Backend Engineer"},
			"user":        map[string]any{"id": "user-7", "name": "Ana", "email": "ana@example.com", "phone": "+5511999999999"},
			"company":     map[string]any{"id": "company-3", "name": "Acme"},
		},
	}
}

func action(id string, spec models.ActionSpec) models.Action {
	return models.Action{ID: id, Spec: spec}
}

func TestExecute_Delay(t *testing.T) {
	f := newFixture(t)

	result, err := f.executor.Execute(t.Context(), action("wait", models.Delay{Hours: 24, Minutes: 30}), input())
	require.NoError(t, err)

	assert.True(t, result.Delayed)
	assert.Equal(t, epoch.Add(24*time.Hour+30*time.Minute), result.ResumeAt)
}

func TestExecute_Branch(t *testing.T) {
	f := newFixture(t)

	spec := models.Branch{
		Conditions: []models.Condition{{Field: "application.status", Operator: models.OperatorEquals, Value: "started"}},
	}

	result, err := f.executor.Execute(t.Context(), action("check", spec), input())
	require.NoError(t, err)
	assert.True(t, result.ConditionsMet)

	spec.Conditions[0].Value = "submitted"

	result, err = f.executor.Execute(t.Context(), action("check", spec), input())
	require.NoError(t, err)
	assert.False(t, result.ConditionsMet)
}

func TestExecute_BranchInvalidOperator(t *testing.T) {
	f := newFixture(t)

	spec := models.Branch{Conditions: []models.Condition{{Field: "a", Operator: "resembles", Value: 1}}}

	_, err := f.executor.Execute(t.Context(), action("check", spec), input())
	require.Error(t, err)
	assert.True(t, actions.IsKind(err, actions.KindInvalidCondition))
	assert.Equal(t, actions.ClassConfiguration, actions.AsError(err).Kind.Class())
}

func TestExecute_SendEmailFromCatalog(t *testing.T) {
	f := newFixture(t)

	f.email.On("SendEmail", mock.Anything, protocol.Email{
		To:      "ana@example.com",
		Subject: "Finish your application for Backend Engineer",
		HTML:    "<p>Hi Ana, Acme is waiting.</p>",
	}).Return(protocol.Receipt{MessageID: "msg-1"}, nil)

	spec := models.SendEmail{Message: models.Message{TemplateRef: "application_reminder", RecipientPath: "user.email"}}

	result, err := f.executor.Execute(t.Context(), action("email", spec), input())
	require.NoError(t, err)

	assert.Equal(t, "msg-1", result.Output["provider_message_id"])
	assert.Equal(t, true, result.Output["delivered"])
	f.email.AssertExpectations(t)
}

func TestExecute_SendEmailInlineOverridesCatalog(t *testing.T) {
	f := newFixture(t)

	f.email.On("SendEmail", mock.Anything, mock.MatchedBy(func(email protocol.Email) bool {
		return email.Subject == "Still interested in Backend Engineer?" && email.HTML == "<p>Hi Ana, Acme is waiting.</p>"
	})).Return(protocol.Receipt{MessageID: "msg-2"}, nil)

	spec := models.SendEmail{Message: models.Message{
		TemplateRef:     "application_reminder",
		SubjectTemplate: "Still interested in {{job.title}}?",
		RecipientPath:   "user.email",
	}}

	_, err := f.executor.Execute(t.Context(), action("email", spec), input())
	require.NoError(t, err)
	f.email.AssertExpectations(t)
}

func TestExecute_SendEmailFailures(t *testing.T) {
	tests := []struct {
		name string
		spec models.SendEmail
		kind actions.ErrorKind
	}{
		{
			name: "missing recipient",
			spec: models.SendEmail{Message: models.Message{TemplateRef: "application_reminder", RecipientPath: "referrer.email"}},
			kind: actions.KindMissingRecipient,
		},
		{
			name: "empty recipient path",
			spec: models.SendEmail{Message: models.Message{TemplateRef: "application_reminder"}},
			kind: actions.KindMissingRecipient,
		},
		{
			name: "unknown template",
			spec: models.SendEmail{Message: models.Message{TemplateRef: "nope", RecipientPath: "user.email"}},
			kind: actions.KindTemplateNotFound,
		},
		{
			name: "no body",
			spec: models.SendEmail{Message: models.Message{SubjectTemplate: "hi", RecipientPath: "user.email"}},
			kind: actions.KindTemplateNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.executor.Execute(t.Context(), action("email", tt.spec), input())
			require.Error(t, err)
			assert.True(t, actions.IsKind(err, tt.kind), err.Error())
			f.email.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
		})
	}
}

func TestExecute_SendEmailProviderFailureIsTransient(t *testing.T) {
	f := newFixture(t)

	f.email.On("SendEmail", mock.Anything, mock.Anything).Return(protocol.Receipt{}, errors.New("smtp 421"))

	spec := models.SendEmail{Message: models.Message{TemplateRef: "application_reminder", RecipientPath: "user.email"}}

	_, err := f.executor.Execute(t.Context(), action("email", spec), input())
	require.Error(t, err)

	actionErr := actions.AsError(err)
	assert.Equal(t, actions.KindChannelSendFailed, actionErr.Kind)
	assert.True(t, actionErr.Retryable())
	assert.Contains(t, err.Error(), "smtp 421")
}

func TestExecute_ChannelNotConfigured(t *testing.T) {
	store, err := memory.NewPersistence()
	require.NoError(t, err)

	executor := actions.NewExecutor(protocol.Senders{}, store.EntityRepository(), clockwork.NewFakeClock(), slog.Default())

	spec := models.SendEmail{Message: models.Message{BodyTemplate: "hi", RecipientPath: "user.email"}}

	_, err = executor.Execute(t.Context(), action("email", spec), input())
	assert.True(t, actions.IsKind(err, actions.KindChannelNotConfigured))
}

func TestExecute_SendChatMessage(t *testing.T) {
	f := newFixture(t)

	f.chat.On("SendChatMessage", mock.Anything, protocol.ChatMessage{
		To:           "+5511999999999",
		TemplateName: "application_reminder",
		Language:     "pt_BR",
		Parameters:   []string{"Ana", "Backend Engineer"},
	}).Return(protocol.Receipt{MessageID: "wamid.1"}, nil)

	spec := models.SendChatMessage{
		Message:    models.Message{TemplateRef: "application_reminder", RecipientPath: "user.phone"},
		Language:   "pt_BR",
		Parameters: []string{"{{user.name}}", "{{job.title}}"},
	}

	result, err := f.executor.Execute(t.Context(), action("chat", spec), input())
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", result.Output["provider_message_id"])
	f.chat.AssertExpectations(t)
}

func TestExecute_SendNotification(t *testing.T) {
	f := newFixture(t)

	f.notification.On("SendNotification", mock.Anything, protocol.Notification{
		UserID:  "user-7",
		Type:    "follow_up",
		Title:   "Backend Engineer",
		Message: "Your application is waiting",
	}).Return(protocol.Receipt{MessageID: "n-1"}, nil)

	spec := models.SendNotification{Message: models.Message{
		SubjectTemplate: "{{job.title}}",
		BodyTemplate:    "Your application is waiting",
		RecipientPath:   "user.id",
	}}

	_, err := f.executor.Execute(t.Context(), action("notify", spec), input())
	require.NoError(t, err)
	f.notification.AssertExpectations(t)
}

func TestExecute_UpdateStatus(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.EntityRepository().Save(t.Context(), &models.Entity{
		Type:   models.EntityTypeApplication,
		ID:     "application-42",
		Fields: map[string]any{"status": "started"},
	}))

	spec := models.UpdateStatus{EntityType: models.EntityTypeApplication, StatusField: "status", StatusValue: "abandoned"}

	result, err := f.executor.Execute(t.Context(), action("abandon", spec), input())
	require.NoError(t, err)

	require.NotNil(t, result.Mutation)
	assert.Equal(t, "abandoned", result.Mutation.Value)

	entity, err := f.store.EntityRepository().Get(t.Context(), models.EntityTypeApplication, "application-42")
	require.NoError(t, err)
	assert.Equal(t, "abandoned", entity.Fields["status"])
	assert.True(t, epoch.Equal(entity.UpdatedAt))
}

func TestExecute_UpdateStatusRelatedEntity(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.EntityRepository().Save(t.Context(), &models.Entity{
		Type:   models.EntityTypeJob,
		ID:     "job-1",
		Fields: map[string]any{"status": "open"},
	}))

	spec := models.UpdateStatus{EntityType: models.EntityTypeJob, StatusField: "status", StatusValue: "stale"}

	_, err := f.executor.Execute(t.Context(), action("stale", spec), input())
	require.NoError(t, err)

	entity, err := f.store.EntityRepository().Get(t.Context(), models.EntityTypeJob, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "stale", entity.Fields["status"])
}

func TestExecute_UpdateStatusEntityNotFound(t *testing.T) {
	f := newFixture(t)

	spec := models.UpdateStatus{EntityType: models.EntityTypeApplication, StatusField: "status", StatusValue: "abandoned"}

	_, err := f.executor.Execute(t.Context(), action("abandon", spec), input())
	require.Error(t, err)
	assert.True(t, actions.IsKind(err, actions.KindEntityNotFound))
	assert.Equal(t, actions.ClassEntity, actions.AsError(err).Kind.Class())
}

type failingEntities struct {
	persistence.EntityRepository

	err error
}

func (f failingEntities) Save(context.Context, *models.Entity) error {
	return f.err
}

func TestExecute_UpdateStatusStoreFailure(t *testing.T) {
	store, err := memory.NewPersistence()
	require.NoError(t, err)

	require.NoError(t, store.EntityRepository().Save(t.Context(), &models.Entity{
		Type:   models.EntityTypeApplication,
		ID:     "application-42",
		Fields: map[string]any{"status": "started"},
	}))

	cause := errors.New("connection reset")
	executor := actions.NewExecutor(
		protocol.Senders{},
		failingEntities{EntityRepository: store.EntityRepository(), err: cause},
		clockwork.NewFakeClockAt(epoch),
		slog.Default(),
	)

	spec := models.UpdateStatus{EntityType: models.EntityTypeApplication, StatusField: "status", StatusValue: "abandoned"}

	_, err = executor.Execute(t.Context(), action("abandon", spec), input())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	actionErr := actions.AsError(err)
	assert.Equal(t, actions.KindStoreFailed, actionErr.Kind)
	assert.True(t, actionErr.Retryable())
}

func TestExecute_Webhook(t *testing.T) {
	var (
		gotKey  string
		gotBody string
		gotAuth string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(actions.IdempotencyHeader)
		gotAuth = r.Header.Get("Authorization")

		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	f := newFixture(t)

	spec := models.Webhook{
		URL:          server.URL + "/hooks/{{application.id}}",
		Headers:      map[string]string{"Authorization": "Bearer {{company.id}}"},
		BodyTemplate: `{"status":"{{application.status}}","key":"{{action.idempotencyKey}}"}`,
	}

	result, err := f.executor.Execute(t.Context(), action("hook", spec), input())
	require.NoError(t, err)

	assert.Equal(t, "exec-1-2", gotKey)
	assert.Equal(t, "Bearer company-3", gotAuth)
	assert.JSONEq(t, `{"status":"started","key":"exec-1-2"}`, gotBody)
	assert.Equal(t, http.StatusOK, result.Output["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, result.Output["body"])
}

func TestExecute_WebhookEscapesJSONBody(t *testing.T) {
	var (
		gotBody        []byte
		gotContentType string
	)

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	f := newFixture(t)

	in := input()
	in.Context["user"].(map[string]any)["name"] = `Ana "The Closer" \ Silva`

	spec := models.Webhook{
		URL:          server.URL,
		BodyTemplate: `{"name":"{{user.name}}","application":{{application}}}`,
	}

	_, err := f.executor.Execute(t.Context(), action("hook", spec), in)
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	require.True(t, json.Valid(gotBody), string(gotBody))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, `Ana "The Closer" \ Silva`, payload["name"])
	assert.Equal(t, map[string]any{"id": "application-42", "status": "started"}, payload["application"])
}

func TestExecute_WebhookPlainBody(t *testing.T) {
	var gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer server.Close()

	f := newFixture(t)

	_, err := f.executor.Execute(t.Context(), action("hook", models.Webhook{
		URL:          server.URL,
		BodyTemplate: "status={{application.status}}",
	}), input())
	require.NoError(t, err)

	assert.Equal(t, "text/plain; charset=utf-8", gotContentType)
}

func TestExecute_WebhookNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	f := newFixture(t)

	_, err := f.executor.Execute(t.Context(), action("hook", models.Webhook{URL: server.URL}), input())
	require.Error(t, err)

	actionErr := actions.AsError(err)
	assert.Equal(t, actions.KindWebhookNon2xx, actionErr.Kind)
	assert.Equal(t, http.StatusBadGateway, actionErr.StatusCode)
	assert.Equal(t, "upstream down", actionErr.Body)
	assert.True(t, actionErr.Retryable())
}

func TestExecute_WebhookTimeout(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := newFixture(t, actions.WithWebhookTimeout(50*time.Millisecond))

	_, err := f.executor.Execute(t.Context(), action("hook", models.Webhook{URL: server.URL, Method: "get"}), input())
	require.Error(t, err)
	assert.True(t, actions.IsKind(err, actions.KindWebhookTimeout), err.Error())
}

func TestExecute_WebhookInvalidURL(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.Execute(t.Context(), action("hook", models.Webhook{URL: "{{missing.url}}"}), input())
	require.Error(t, err)
	assert.True(t, actions.IsKind(err, actions.KindRenderError))
}

func TestExecute_UnknownActionType(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.Execute(t.Context(), models.Action{ID: "broken"}, input())
	require.Error(t, err)
	assert.True(t, actions.IsKind(err, actions.KindUnknownActionType))
	assert.False(t, actions.AsError(err).Retryable())
}

func TestExecute_RecoversPanics(t *testing.T) {
	f := newFixture(t)

	f.email.On("SendEmail", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(protocol.Receipt{}, nil)

	spec := models.SendEmail{Message: models.Message{BodyTemplate: "hi", RecipientPath: "user.email"}}

	_, err := f.executor.Execute(t.Context(), action("email", spec), input())
	require.Error(t, err)
	assert.True(t, actions.IsKind(err, actions.KindActionPanicked))
}
