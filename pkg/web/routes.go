package web

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
)

// Register mounts the API on app. metrics, when set, is served at /metrics.
func Register(app *fiber.App, h *APIHandlers, metrics http.Handler) {
	w := app.Group("/workflows")
	w.Post("/validate", h.ValidateWorkflow)
	w.Put("/:id", h.PutWorkflow)
	w.Get("/:id", h.GetWorkflow)

	w.Post("/:id/executions", h.StartExecution)
	w.Get("/:id/executions", h.ListExecutions)
	w.Get("/:id/executions/:execID", h.GetExecution)
	w.Post("/:id/executions/:execID/cancel", h.CancelExecution)
	w.Post("/:id/executions/:execID/resume", h.ResumeExecution)

	app.Post("/events/:eventType", h.PostEvent)
	app.Get("/health", h.HealthCheck)

	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
}
