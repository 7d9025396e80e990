package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowengine/pkg/definition"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
	"github.com/dukex/flowengine/pkg/scheduler"
	"github.com/dukex/flowengine/pkg/waitresume"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type APIHandlers struct {
	definitions *definition.Store
	scheduler   *scheduler.Scheduler
	notifier    *waitresume.Notifier
	validator   *validator.Validate
	checks      map[string]HealthCheck
	logger      *slog.Logger
}

func NewAPIHandlers(
	definitions *definition.Store,
	sched *scheduler.Scheduler,
	notifier *waitresume.Notifier,
	validator *validator.Validate,
	checks map[string]HealthCheck,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		scheduler:   sched,
		notifier:    notifier,
		validator:   validator,
		checks:      checks,
		logger:      logger.With("module", "web"),
	}
}

func (h *APIHandlers) PutWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	id := c.Params("id")
	if workflow.ID == "" {
		workflow.ID = id
	}

	if workflow.ID != id {
		return badRequest(c, "Workflow ID in body does not match the URL")
	}

	if err := h.definitions.Save(c.Context(), &workflow); err != nil {
		return handleError(c, err)
	}

	saved, err := h.definitions.Get(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(saved)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.definitions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result := h.definitions.Validate(&workflow)

	violations := result.Violations
	if violations == nil {
		violations = []models.Violation{}
	}

	return c.JSON(ValidationResponse{Valid: result.Valid, Violations: violations})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	workflowID := c.Params("id")

	// Dry runs finish inline so the caller sees every node result.
	if req.DryRun {
		result, err := h.scheduler.DryRun(c.Context(), workflowID, req.TriggerData, nil)
		if err != nil {
			return handleError(c, err)
		}

		return c.JSON(StartExecutionResponse{
			ExecutionID: result.ExecutionID,
			Status:      result.Status,
			NodeResults: result.NodeResults,
			Context:     result.Context,
			Error:       result.Error,
			ErrorNodeID: result.ErrorNodeID,
		})
	}

	execution, err := h.scheduler.Start(c.Context(), workflowID, req.TriggerData, false)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID: execution.ID,
		Status:      execution.Status,
	})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	workflowID := c.Params("id")

	if _, err := h.definitions.Get(c.Context(), workflowID); err != nil {
		return handleError(c, err)
	}

	status := models.ExecutionStatus(c.Query("status"))

	executions, err := h.scheduler.List(c.Context(), workflowID, status)
	if err != nil {
		return handleError(c, err)
	}

	summaries := make([]models.ExecutionSummary, 0, len(executions))
	for _, execution := range executions {
		summaries = append(summaries, execution.Summary())
	}

	return c.JSON(ListExecutionsResponse{Executions: summaries, TotalCount: len(summaries)})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, steps, err := h.lookup(c)
	if err != nil {
		return handleError(c, err)
	}

	if steps == nil {
		steps = []*models.ExecutionStep{}
	}

	return c.JSON(ExecutionResponse{Execution: execution, Steps: steps})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	if _, _, err := h.lookup(c); err != nil {
		return handleError(c, err)
	}

	execution, err := h.scheduler.Cancel(c.Context(), c.Params("execID"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	var req ResumeExecutionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	current, _, err := h.lookup(c)
	if err != nil {
		return handleError(c, err)
	}

	eventType := req.EventType
	if eventType == "" {
		eventType = current.WaitEventType
	}

	execution, err := h.scheduler.Resume(c.Context(), current.ID, eventType, req.EventPayload)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	var req EventRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	eventType := c.Params("eventType")

	resumed, err := h.notifier.Notify(c.Context(), eventType, req.CorrelationKey, req.Payload)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "event delivery incomplete", "event_type", eventType, "error", err)

		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventResponse{EventType: eventType, Resumed: resumed})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	checkers := fiber.Map{}
	healthy := true

	for name, check := range h.checks {
		if err := check(c.Context()); err != nil {
			healthy = false
			checkers[name] = err.Error()

			continue
		}

		checkers[name] = "ok"
	}

	status := "unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if healthy {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"checkers":  checkers,
		"timestamp": time.Now().UTC(),
	})
}

// lookup loads the execution named in the URL. Executions of other workflows are not found.
func (h *APIHandlers) lookup(c fiber.Ctx) (*models.Execution, []*models.ExecutionStep, error) {
	executionID := c.Params("execID")

	execution, steps, err := h.scheduler.Get(c.Context(), executionID)
	if err != nil {
		return nil, nil, err
	}

	if execution.WorkflowID != c.Params("id") {
		return nil, nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
	}

	return execution, steps, nil
}

// StoreHealth adapts a persistence backend to a HealthCheck.
func StoreHealth(store persistence.Persistence) HealthCheck {
	return store.HealthCheck
}
