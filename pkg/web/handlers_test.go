package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/followup/pkg/actions"
	"github.com/dukex/followup/pkg/definition"
	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/mocks"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence/memory"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/dukex/followup/pkg/services"
	"github.com/dukex/followup/pkg/testutil"
	"github.com/dukex/followup/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

const reminderYAML = `
key: application-reminder
name: Application reminder
trigger_type: entity_incomplete
entity_type: application
actions:
  - id: wait
    type: delay
    config:
      hours: 24
  - id: email
    type: send_email
    config:
      recipient_path: user.email
      subject_template: Finish your application
      body_template: "Hi {{user.name}}"
settings:
  allow_re_entry: true
`

type testServer struct {
	app     *fiber.App
	store   *memory.Persistence
	service *services.Workflow
	auth    *web.Auth
	clock   *clockwork.FakeClock
	email   *mocks.MockEmailSender
}

func setupTestApp(t *testing.T, secret string) *testServer {
	t.Helper()

	store, err := memory.NewPersistence()
	require.NoError(t, err)

	parser, err := definition.NewParser()
	require.NoError(t, err)

	s := &testServer{
		store: store,
		auth:  web.NewAuth(secret),
		clock: clockwork.NewFakeClockAt(epoch),
		email: &mocks.MockEmailSender{},
	}

	s.service = services.NewWorkflow(store, parser, s.clock)

	executor := actions.NewExecutor(
		protocol.Senders{Email: s.email},
		store.EntityRepository(),
		s.clock,
		slog.Default(),
	)

	eng, err := engine.New(store, executor, slog.Default(), engine.WithClock(s.clock))
	require.NoError(t, err)

	handlers := web.NewAPIHandlers(s.service, eng, validator.New(validator.WithRequiredStructEnabled()))

	s.app = fiber.New()
	web.Mount(s.app, handlers, s.auth)

	testutil.SeedCandidate(t, store.EntityRepository())

	return s
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body []byte, token string) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (s *testServer) postJSON(t *testing.T, path string, body any, token string) (int, []byte) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	return s.do(t, http.MethodPost, path, "application/json", data, token)
}

func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()

	token, err := s.auth.GenerateToken("ops@example.com", web.RoleAdmin, time.Now())
	require.NoError(t, err)

	return token
}

func (s *testServer) createActiveWorkflow(t *testing.T) *models.WorkflowDefinition {
	t.Helper()

	token := s.adminToken(t)

	status, body := s.do(t, http.MethodPost, "/workflows", "application/yaml", []byte(reminderYAML), token)
	require.Equal(t, http.StatusCreated, status, string(body))

	var created models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &created))

	status, body = s.do(t, http.MethodPost, "/workflows/"+created.ID+"/activate", "", nil, token)
	require.Equal(t, http.StatusOK, status, string(body))

	var activated models.WorkflowDefinition
	require.NoError(t, json.Unmarshal(body, &activated))

	return &activated
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	s := setupTestApp(t, "")

	status, body := s.do(t, http.MethodGet, "/health", "", nil, "")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestAPIHandlers_GetWorkflowSchema(t *testing.T) {
	s := setupTestApp(t, "")

	status, body := s.do(t, http.MethodGet, "/schema/workflow", "", nil, "")
	require.Equal(t, http.StatusOK, status)

	var vocabulary definition.Vocabulary
	require.NoError(t, json.Unmarshal(body, &vocabulary))

	assert.Contains(t, vocabulary.ActionTypes, models.ActionTypeWebhook)
	assert.Contains(t, vocabulary.TriggerTypes, models.TriggerTypeEntityIncomplete)
	assert.NotEmpty(t, vocabulary.Schema)
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		contentType    string
		body           string
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "yaml document",
			contentType:    "application/yaml",
			body:           reminderYAML,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "empty body",
			contentType:    "application/json",
			body:           "",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown action type",
			contentType:    "application/json",
			body:           `{"key":"bad","name":"Bad","trigger_type":"entity_incomplete","entity_type":"application","actions":[{"id":"a","type":"teleport","config":{}}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestApp(t, "")

			status, body := s.do(t, http.MethodPost, "/workflows", tt.contentType, []byte(tt.body), "")

			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedType != "" {
				assert.Contains(t, string(body), tt.expectedType)

				return
			}

			var created models.WorkflowDefinition
			require.NoError(t, json.Unmarshal(body, &created))
			assert.NotEmpty(t, created.ID)
			assert.Equal(t, models.WorkflowStatusPaused, created.Status)
			assert.Equal(t, 1, created.Version)
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	s := setupTestApp(t, testSecret)
	wf := s.createActiveWorkflow(t)

	assert.Equal(t, models.WorkflowStatusActive, wf.Status)

	status, body := s.do(t, http.MethodPut, "/workflows/"+wf.ID, "application/yaml", []byte(reminderYAML), s.adminToken(t))
	assert.Equal(t, http.StatusConflict, status, string(body))

	status, body = s.do(t, http.MethodGet, "/workflows?status=active", "", nil, "")
	require.Equal(t, http.StatusOK, status)

	var list web.WorkflowList
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.TotalCount)

	status, _ = s.do(t, http.MethodGet, "/workflows/application-reminder", "", nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodGet, "/workflows?status=deleted", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	status, _ = s.do(t, http.MethodGet, "/workflows/missing", "", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_AdminAuth(t *testing.T) {
	s := setupTestApp(t, testSecret)

	status, body := s.do(t, http.MethodPost, "/workflows", "application/yaml", []byte(reminderYAML), "")
	assert.Equal(t, http.StatusUnauthorized, status, string(body))

	status, _ = s.do(t, http.MethodPost, "/workflows", "application/yaml", []byte(reminderYAML), "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, status)

	viewer, err := s.auth.GenerateToken("viewer@example.com", "viewer", time.Now())
	require.NoError(t, err)

	status, _ = s.do(t, http.MethodPost, "/workflows", "application/yaml", []byte(reminderYAML), viewer)
	assert.Equal(t, http.StatusForbidden, status)

	forged, err := web.NewAuth("other-secret").GenerateToken("ops@example.com", web.RoleAdmin, time.Now())
	require.NoError(t, err)

	status, _ = s.do(t, http.MethodPost, "/workflows", "application/yaml", []byte(reminderYAML), forged)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/workflows", "application/yaml", []byte(reminderYAML), s.adminToken(t))
	assert.Equal(t, http.StatusCreated, status)
}

func TestAPIHandlers_TriggerAndExecutionFlow(t *testing.T) {
	s := setupTestApp(t, testSecret)
	wf := s.createActiveWorkflow(t)

	status, body := s.postJSON(t, "/triggers", web.TriggerRequest{
		Workflow:   wf.Key,
		EntityType: "application",
		EntityID:   "application-42",
	}, "")
	require.Equal(t, http.StatusCreated, status, string(body))

	var result engine.TriggerResult
	require.NoError(t, json.Unmarshal(body, &result))
	require.True(t, result.Accepted)
	require.NotNil(t, result.Advance)
	assert.Equal(t, models.ExecutionStatusPending, result.Advance.Status)

	status, body = s.postJSON(t, "/triggers", web.TriggerRequest{
		Workflow:   wf.ID,
		EntityType: "application",
		EntityID:   "application-42",
	}, "")
	require.Equal(t, http.StatusOK, status, string(body))

	var duplicate engine.TriggerResult
	require.NoError(t, json.Unmarshal(body, &duplicate))
	assert.False(t, duplicate.Accepted)
	assert.Equal(t, engine.ReasonDuplicatePending, duplicate.Reason)

	status, body = s.postJSON(t, "/executions/"+result.ExecutionID+"/advance", nil, "")
	assert.Equal(t, http.StatusConflict, status, string(body))

	s.clock.Advance(24 * time.Hour)
	s.email.On("SendEmail", mock.Anything, mock.Anything).Return(protocol.Receipt{MessageID: "m-1"}, nil)

	status, body = s.postJSON(t, "/executions/"+result.ExecutionID+"/advance", nil, "")
	require.Equal(t, http.StatusOK, status, string(body))

	var advanced engine.AdvanceResult
	require.NoError(t, json.Unmarshal(body, &advanced))
	assert.True(t, advanced.Success)
	assert.Equal(t, models.ExecutionStatusCompleted, advanced.Status)

	status, body = s.do(t, http.MethodGet, "/executions/"+result.ExecutionID, "", nil, "")
	require.Equal(t, http.StatusOK, status)

	var report engine.StatusReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, models.ExecutionStatusCompleted, report.Status)
	assert.Len(t, report.ActionResults, 2)

	status, _ = s.postJSON(t, "/executions/"+result.ExecutionID+"/cancel", web.CancelRequest{Reason: "late"}, s.adminToken(t))
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodGet, "/executions/missing", "", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_CancelExecution(t *testing.T) {
	s := setupTestApp(t, testSecret)
	wf := s.createActiveWorkflow(t)

	_, body := s.postJSON(t, "/triggers", web.TriggerRequest{
		Workflow:   wf.ID,
		EntityType: "application",
		EntityID:   "application-42",
	}, "")

	var result engine.TriggerResult
	require.NoError(t, json.Unmarshal(body, &result))

	status, _ := s.postJSON(t, "/executions/"+result.ExecutionID+"/cancel", web.CancelRequest{Reason: "user withdrew"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = s.postJSON(t, "/executions/"+result.ExecutionID+"/cancel",
		web.CancelRequest{Reason: "user withdrew"}, s.adminToken(t))
	require.Equal(t, http.StatusOK, status, string(body))

	var report engine.StatusReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, models.ExecutionStatusCancelled, report.Status)
	assert.Equal(t, "cancelled: user withdrew", report.LastError)
}

func TestAPIHandlers_TriggerValidation(t *testing.T) {
	s := setupTestApp(t, "")
	wf := s.createActiveWorkflow(t)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{
			name:           "missing entity id",
			body:           web.TriggerRequest{Workflow: wf.ID, EntityType: "application"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown entity type",
			body:           web.TriggerRequest{Workflow: wf.ID, EntityType: "invoice", EntityID: "i-1"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "entity type mismatch",
			body:           web.TriggerRequest{Workflow: wf.ID, EntityType: "user", EntityID: "user-7"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown workflow",
			body:           web.TriggerRequest{Workflow: "missing", EntityType: "application", EntityID: "application-42"},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "unknown entity",
			body:           web.TriggerRequest{Workflow: wf.ID, EntityType: "application", EntityID: "application-404"},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.postJSON(t, "/triggers", tt.body, "")

			assert.Equal(t, tt.expectedStatus, status, string(body))
		})
	}

	status, _ := s.do(t, http.MethodPost, "/triggers", "application/json", []byte("{"), "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_TriggerEvent(t *testing.T) {
	s := setupTestApp(t, "")
	s.createActiveWorkflow(t)

	status, body := s.postJSON(t, "/events", web.EventRequest{
		TriggerType: "entity_incomplete",
		EntityType:  "application",
		EntityID:    "application-42",
	}, "")
	require.Equal(t, http.StatusOK, status, string(body))

	var response struct {
		Results []engine.TriggerResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &response))
	require.Len(t, response.Results, 1)
	assert.True(t, response.Results[0].Accepted)

	status, _ = s.postJSON(t, "/events", web.EventRequest{
		TriggerType: "signed_up",
		EntityType:  "application",
		EntityID:    "application-42",
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)
}
