package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
)

// ExecutionRepository stores one JSON document per execution.
type ExecutionRepository struct {
	root  string
	locks keyedLocks
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	unlock := er.locks.lock(execution.ID)
	defer unlock()

	if err := writeJSON(filepath.Join(er.dir(), execution.ID+".json"), execution); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var execution models.Execution

	err := readJSON(filepath.Join(er.dir(), id+".json"), &execution)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, status models.ExecutionStatus) ([]*models.Execution, error) {
	all, err := listJSON[models.Execution](er.dir())
	if err != nil {
		return nil, err
	}

	filtered := slices.DeleteFunc(all, func(e *models.Execution) bool {
		return e.WorkflowID != workflowID || (status != "" && e.Status != status)
	})

	slices.SortFunc(filtered, func(a, b *models.Execution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return filtered, nil
}

func (er *ExecutionRepository) ListByStatus(_ context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	all, err := listJSON[models.Execution](er.dir())
	if err != nil {
		return nil, err
	}

	filtered := slices.DeleteFunc(all, func(e *models.Execution) bool {
		return !slices.Contains(statuses, e.Status)
	})

	slices.SortFunc(filtered, func(a, b *models.Execution) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return filtered, nil
}

func (er *ExecutionRepository) ListWaiting(ctx context.Context, eventType string) ([]*models.Execution, error) {
	paused, err := er.ListByStatus(ctx, models.ExecutionStatusPaused)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(paused, func(e *models.Execution) bool {
		return e.WaitEventType != eventType
	}), nil
}
