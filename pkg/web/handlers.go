// Package web provides HTTP handlers and REST API endpoints for workflows and executions.
package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/followup/pkg/definition"
	"github.com/dukex/followup/pkg/engine"
	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Engine is the part of the workflow engine exposed over HTTP.
type Engine interface {
	Trigger(ctx context.Context, req engine.TriggerRequest) (engine.TriggerResult, error)
	TriggerEvent(
		ctx context.Context,
		triggerType models.TriggerType,
		entityType models.EntityType,
		entityID string,
		input map[string]any,
	) ([]engine.TriggerResult, error)
	Advance(ctx context.Context, executionID string) (engine.AdvanceResult, error)
	Cancel(ctx context.Context, executionID, reason string) (*models.Execution, error)
	Status(ctx context.Context, executionID string) (engine.StatusReport, error)
}

type APIHandlers struct {
	workflowService *services.Workflow
	engine          Engine
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	engine Engine,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		engine:          engine,
		validator:       validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{
		Status:      models.WorkflowStatus(c.Query("status")),
		TriggerType: models.TriggerType(c.Query("trigger_type")),
		EntityType:  models.EntityType(c.Query("entity_type")),
	}

	workflows, err := h.workflowService.ListWorkflows(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WorkflowList{
		Workflows:  workflows,
		TotalCount: len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// CreateWorkflow accepts an authored document as JSON, or YAML when the content type says so.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Workflow document is required")
	}

	created, err := h.workflowService.CreateFromDocument(c.Context(), body, documentFormat(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Workflow document is required")
	}

	updated, err := h.workflowService.UpdateFromDocument(c.Context(), id, body, documentFormat(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.transitionWorkflow(c, h.workflowService.Activate)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	return h.transitionWorkflow(c, h.workflowService.Pause)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	return h.transitionWorkflow(c, h.workflowService.Archive)
}

func (h *APIHandlers) transitionWorkflow(
	c fiber.Ctx,
	transition func(context.Context, string) (*models.WorkflowDefinition, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := transition(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// Trigger answers 201 when an execution was created and 200 with the rejection reason otherwise.
func (h *APIHandlers) Trigger(c fiber.Ctx) error {
	var req TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	entityType := models.EntityType(req.EntityType)
	if !entityType.IsValid() {
		return badRequest(c, "Unknown entity type: "+req.EntityType)
	}

	triggerReq := engine.TriggerRequest{
		WorkflowRef: req.Workflow,
		EntityType:  entityType,
		EntityID:    req.EntityID,
		InputData:   req.InputData,
	}

	if req.ScheduledAt != nil {
		triggerReq.ScheduledAt = *req.ScheduledAt
	}

	result, err := h.engine.Trigger(c.Context(), triggerReq)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !result.Accepted {
		return c.JSON(result)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// TriggerEvent fans an event out to every active workflow listening for it.
func (h *APIHandlers) TriggerEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	triggerType := models.TriggerType(req.TriggerType)
	if !triggerType.IsValid() {
		return badRequest(c, "Unknown trigger type: "+req.TriggerType)
	}

	entityType := models.EntityType(req.EntityType)
	if !entityType.IsValid() {
		return badRequest(c, "Unknown entity type: "+req.EntityType)
	}

	results, err := h.engine.TriggerEvent(c.Context(), triggerType, entityType, req.EntityID, req.InputData)
	if err != nil && len(results) == 0 {
		return handleServiceError(c, err)
	}

	response := fiber.Map{"results": results}
	if err != nil {
		response["errors"] = err.Error()
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	report, err := h.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) AdvanceExecution(c fiber.Ctx) error {
	result, err := h.engine.Advance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req CancelRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	execution, err := h.engine.Cancel(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	report, err := h.engine.Status(c.Context(), execution.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) GetWorkflowSchema(c fiber.Ctx) error {
	return c.JSON(definition.NewVocabulary())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Follow-up API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Follow-up API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func documentFormat(c fiber.Ctx) definition.Format {
	if strings.Contains(c.Get(fiber.HeaderContentType), "yaml") {
		return definition.FormatYAML
	}

	return definition.FormatJSON
}
