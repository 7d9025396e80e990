package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
	"github.com/dukex/flowengine/pkg/persistence/sqlbase"
)

// StepRepository handles the append-only execution_steps table.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

const stepColumns = `
	id
  , execution_id
  , node_id
  , node_type
  , status
  , input
  , output
  , condition_result
  , selected_branch
  , error
  , error_kind
  , duration_ns
  , executed_at
`

func (r *StepRepository) Append(ctx context.Context, step *models.ExecutionStep) error {
	input, err := sqlbase.MarshalJSONB(step.Input)
	if err != nil {
		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	output, err := sqlbase.MarshalJSONB(step.Output)
	if err != nil {
		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	var selectedBranch sql.NullString
	if step.SelectedBranch != nil {
		selectedBranch = sql.NullString{String: *step.SelectedBranch, Valid: true}
	}

	var conditionResult sql.NullBool
	if step.ConditionResult != nil {
		conditionResult = sql.NullBool{Bool: *step.ConditionResult, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO execution_steps (`+stepColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		step.ID,
		step.ExecutionID,
		step.NodeID,
		step.NodeType,
		step.Status,
		input,
		output,
		conditionResult,
		selectedBranch,
		sqlbase.NullString(step.Error),
		sqlbase.NullString(step.ErrorKind),
		step.Duration.Nanoseconds(),
		step.ExecutedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Append", step.ExecutionID, err)
	}

	return nil
}

func (r *StepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionStep, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM execution_steps WHERE execution_id = $1 ORDER BY executed_at ASC, id ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.ExecutionStep, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (r *StepRepository) Last(ctx context.Context, executionID string) (*models.ExecutionStep, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM execution_steps WHERE execution_id = $1 ORDER BY executed_at DESC, id DESC LIMIT 1`,
		executionID,
	)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewExecutionError("Last", executionID, err)
	}

	return step, nil
}

func scanStep(row scanner) (*models.ExecutionStep, error) {
	var (
		step                          models.ExecutionStep
		input, output                 []byte
		conditionResult               sql.NullBool
		selectedBranch, errText, kind sql.NullString
		durationNs                    int64
	)

	err := row.Scan(
		&step.ID,
		&step.ExecutionID,
		&step.NodeID,
		&step.NodeType,
		&step.Status,
		&input,
		&output,
		&conditionResult,
		&selectedBranch,
		&errText,
		&kind,
		&durationNs,
		&step.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSONB(input, &step.Input); err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSONB(output, &step.Output); err != nil {
		return nil, err
	}

	if conditionResult.Valid {
		step.ConditionResult = models.BoolPtr(conditionResult.Bool)
	}

	if selectedBranch.Valid {
		step.SelectedBranch = models.StringPtr(selectedBranch.String)
	}

	step.Error = errText.String
	step.ErrorKind = kind.String
	step.Duration = time.Duration(durationNs)
	step.ExecutedAt = step.ExecutedAt.UTC()

	return &step, nil
}
