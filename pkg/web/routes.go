package web

import "github.com/gofiber/fiber/v3"

// Mount registers every API route on router. Mutations go through auth.RequireAdmin.
func Mount(router fiber.Router, h *APIHandlers, auth *Auth) {
	router.Get("/health", h.HealthCheck)
	router.Get("/schema/workflow", h.GetWorkflowSchema)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Get("/:id", h.GetWorkflow)
	w.Post("/", auth.RequireAdmin, h.CreateWorkflow)
	w.Put("/:id", auth.RequireAdmin, h.UpdateWorkflow)
	w.Post("/:id/activate", auth.RequireAdmin, h.ActivateWorkflow)
	w.Post("/:id/pause", auth.RequireAdmin, h.PauseWorkflow)
	w.Post("/:id/archive", auth.RequireAdmin, h.ArchiveWorkflow)

	router.Post("/triggers", h.Trigger)
	router.Post("/events", h.TriggerEvent)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/advance", h.AdvanceExecution)
	e.Post("/:id/cancel", auth.RequireAdmin, h.CancelExecution)
}
