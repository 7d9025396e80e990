// Package web provides HTTP request and response types for the execution API.
package web

import (
	"github.com/dukex/flowengine/pkg/models"
)

// StartExecutionRequest is the body of POST /workflows/{id}/executions.
type StartExecutionRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
	DryRun      bool           `json:"dry_run"`
}

// StartExecutionResponse answers a start. Dry runs complete inline and carry their node results.
type StartExecutionResponse struct {
	ExecutionID string                  `json:"execution_id"`
	Status      models.ExecutionStatus  `json:"status"`
	NodeResults []*models.ExecutionStep `json:"node_results,omitempty"`
	Context     map[string]any          `json:"context,omitempty"`
	Error       string                  `json:"error,omitempty"`
	ErrorNodeID string                  `json:"error_node_id,omitempty"`
}

// ResumeExecutionRequest is the body of POST .../resume. An empty event type means the
// type the execution is waiting for.
type ResumeExecutionRequest struct {
	EventType    string         `json:"event_type"    validate:"omitempty,max=128"`
	EventPayload map[string]any `json:"event_payload"`
}

// EventRequest is the body of POST /events/{event_type}.
type EventRequest struct {
	CorrelationKey string         `json:"correlation_key" validate:"omitempty,max=256"`
	Payload        map[string]any `json:"payload"`
}

// EventResponse lists the executions an event resumed.
type EventResponse struct {
	EventType string   `json:"event_type"`
	Resumed   []string `json:"resumed"`
}

// ExecutionResponse is a full execution with its ordered step trail.
type ExecutionResponse struct {
	*models.Execution

	Steps []*models.ExecutionStep `json:"steps"`
}

// ListExecutionsResponse is the listing of a workflow's executions.
type ListExecutionsResponse struct {
	Executions []models.ExecutionSummary `json:"executions"`
	TotalCount int                       `json:"total_count"`
}

// ValidationResponse reports a definition check without storing anything.
type ValidationResponse struct {
	Valid      bool               `json:"valid"`
	Violations []models.Violation `json:"violations"`
}
