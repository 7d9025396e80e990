// Package persistence provides the data storage abstraction layer for workflows, executions and steps.
package persistence

import (
	"context"

	"github.com/dukex/flowengine/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	StepRepository() StepRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions keyed by id.
type WorkflowRepository interface {
	// GetByID returns ErrWorkflowNotFound when no definition exists.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	List(ctx context.Context) ([]*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records. Save is an upsert.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error

	// GetByID returns ErrExecutionNotFound when no record exists.
	GetByID(ctx context.Context, id string) (*models.Execution, error)

	// ListByWorkflow returns the executions of a workflow, newest first. An empty status matches all.
	ListByWorkflow(ctx context.Context, workflowID string, status models.ExecutionStatus) ([]*models.Execution, error)

	// ListByStatus returns every execution in one of statuses, oldest first.
	ListByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error)

	// ListWaiting returns the paused executions waiting for eventType.
	ListWaiting(ctx context.Context, eventType string) ([]*models.Execution, error)
}

// StepRepository is the append-only journal of node visits.
type StepRepository interface {
	Append(ctx context.Context, step *models.ExecutionStep) error

	// ListByExecution returns the steps of an execution ordered by executed_at.
	ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionStep, error)

	// Last returns the most recent step of an execution, or nil when none was recorded.
	Last(ctx context.Context, executionID string) (*models.ExecutionStep, error)
}
