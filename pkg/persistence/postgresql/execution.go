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
	"github.com/lib/pq"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , status
  , current_node_id
  , next_node_id
  , context
  , trigger_data
  , is_dry_run
  , started_at
  , completed_at
  , error
  , error_node_id
  , created_at
  , resume_at
  , wait_event_type
  , correlation_key
  , resume
  , cancel_requested
`

// Save upserts an execution record.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	contextData, err := sqlbase.MarshalJSONB(execution.Context)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	triggerData, err := sqlbase.MarshalJSONB(execution.TriggerData)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	resume, err := sqlbase.MarshalJSONB(execution.Resume)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , current_node_id = EXCLUDED.current_node_id
		  , next_node_id = EXCLUDED.next_node_id
		  , context = EXCLUDED.context
		  , started_at = EXCLUDED.started_at
		  , completed_at = EXCLUDED.completed_at
		  , error = EXCLUDED.error
		  , error_node_id = EXCLUDED.error_node_id
		  , resume_at = EXCLUDED.resume_at
		  , wait_event_type = EXCLUDED.wait_event_type
		  , correlation_key = EXCLUDED.correlation_key
		  , resume = EXCLUDED.resume
		  , cancel_requested = executions.cancel_requested OR EXCLUDED.cancel_requested
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		sqlbase.NullString(execution.CurrentNodeID),
		sqlbase.NullString(execution.NextNodeID),
		contextData,
		triggerData,
		execution.IsDryRun,
		execution.StartedAt,
		execution.CompletedAt,
		sqlbase.NullString(execution.Error),
		sqlbase.NullString(execution.ErrorNodeID),
		execution.CreatedAt,
		execution.ResumeAt,
		sqlbase.NullString(execution.WaitEventType),
		sqlbase.NullString(execution.CorrelationKey),
		resume,
		execution.CancelRequested,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, status models.ExecutionStatus) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE workflow_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC`

	return r.query(ctx, query, workflowID, string(status))
}

func (r *ExecutionRepository) ListByStatus(ctx context.Context, statuses ...models.ExecutionStatus) ([]*models.Execution, error) {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}

	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE status = ANY($1)
		ORDER BY created_at ASC`

	return r.query(ctx, query, pq.Array(values))
}

func (r *ExecutionRepository) ListWaiting(ctx context.Context, eventType string) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE status = 'paused' AND wait_event_type = $1
		ORDER BY created_at ASC`

	return r.query(ctx, query, eventType)
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution                                         models.Execution
		currentNodeID, nextNodeID, errorText, errorNodeID sql.NullString
		waitEventType, correlationKey                     sql.NullString
		startedAt, completedAt, resumeAt                  sql.NullTime
		contextData, triggerData, resume                  []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&currentNodeID,
		&nextNodeID,
		&contextData,
		&triggerData,
		&execution.IsDryRun,
		&startedAt,
		&completedAt,
		&errorText,
		&errorNodeID,
		&execution.CreatedAt,
		&resumeAt,
		&waitEventType,
		&correlationKey,
		&resume,
		&execution.CancelRequested,
	)
	if err != nil {
		return nil, err
	}

	execution.CurrentNodeID = currentNodeID.String
	execution.NextNodeID = nextNodeID.String
	execution.Error = errorText.String
	execution.ErrorNodeID = errorNodeID.String
	execution.WaitEventType = waitEventType.String
	execution.CorrelationKey = correlationKey.String
	execution.StartedAt = timePtr(startedAt)
	execution.CompletedAt = timePtr(completedAt)
	execution.ResumeAt = timePtr(resumeAt)

	if err := sqlbase.UnmarshalJSONB(contextData, &execution.Context); err != nil {
		return nil, err
	}

	if err := sqlbase.UnmarshalJSONB(triggerData, &execution.TriggerData); err != nil {
		return nil, err
	}

	if len(resume) > 0 {
		execution.Resume = &models.ResumeSignal{}
		if err := sqlbase.UnmarshalJSONB(resume, execution.Resume); err != nil {
			return nil, err
		}
	}

	return &execution, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time.UTC()

	return &value
}
