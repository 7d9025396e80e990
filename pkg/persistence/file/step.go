package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
)

// StepRepository keeps one JSON-lines journal per execution. Each append is synced
// before it returns.
type StepRepository struct {
	root  string
	locks keyedLocks
}

// NewStepRepository creates a new step repository.
func NewStepRepository(root string) *StepRepository {
	return &StepRepository{root: root}
}

func (sr *StepRepository) path(executionID string) string {
	return filepath.Join(sr.root, "steps", executionID+".jsonl")
}

func (sr *StepRepository) Append(_ context.Context, step *models.ExecutionStep) error {
	if err := validateID(step.ExecutionID); err != nil {
		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	line, err := json.Marshal(step)
	if err != nil {
		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	unlock := sr.locks.lock(step.ExecutionID)
	defer unlock()

	err = os.MkdirAll(filepath.Join(sr.root, "steps"), 0750)
	if err != nil {
		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	f, err := os.OpenFile(sr.path(step.ExecutionID), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	record := append(line, '\n')
	if torn, err := endsTorn(f); err != nil {
		_ = f.Close()

		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	} else if torn {
		record = append([]byte{'\n'}, record...)
	}

	if _, err := f.Write(record); err != nil {
		_ = f.Close()

		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	return f.Close()
}

func (sr *StepRepository) ListByExecution(_ context.Context, executionID string) ([]*models.ExecutionStep, error) {
	if err := validateID(executionID); err != nil {
		return nil, persistence.NewExecutionError("ListByExecution", executionID, err)
	}

	f, err := os.Open(sr.path(executionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.ExecutionStep{}, nil
		}

		return nil, persistence.NewExecutionError("ListByExecution", executionID, err)
	}
	defer f.Close()

	steps := make([]*models.ExecutionStep, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var step models.ExecutionStep
		if err := json.Unmarshal(scanner.Bytes(), &step); err != nil {
			// torn line from a crash mid-append
			continue
		}

		steps = append(steps, &step)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read steps of %s: %w", executionID, err)
	}

	slices.SortStableFunc(steps, func(a, b *models.ExecutionStep) int {
		return a.ExecutedAt.Compare(b.ExecutedAt)
	})

	return steps, nil
}

func (sr *StepRepository) Last(ctx context.Context, executionID string) (*models.ExecutionStep, error) {
	steps, err := sr.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if len(steps) == 0 {
		return nil, nil
	}

	return steps[len(steps)-1], nil
}

// endsTorn reports whether the journal's last line is missing its newline.
func endsTorn(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}

	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}

	return last[0] != '\n', nil
}
