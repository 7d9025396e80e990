package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
	"github.com/dukex/flowengine/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"execution_steps", "executions", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowengine_test"),
			postgres.WithUsername("flowengine"),
			postgres.WithPassword("flowengine"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range []string{"workflows", "executions", "execution_steps", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestWorkflowRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		ID:          "order-approval",
		Name:        "Order approval",
		Description: "Approve big orders",
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeTrigger},
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{"expression": "{{ gt .trigger.score 50 }}"}},
		},
		Edges:    []*models.Edge{{From: "start", To: "check"}},
		Metadata: map[string]any{"created_by": "test"},
	}

	require.NoError(t, repo.Save(ctx, workflow))
	assert.False(t, workflow.CreatedAt.IsZero())

	retrieved, err := repo.GetByID(ctx, "order-approval")
	require.NoError(t, err)
	assert.Equal(t, "Order approval", retrieved.Name)
	assert.Len(t, retrieved.Nodes, 2)
	assert.Equal(t, "{{ gt .trigger.score 50 }}", retrieved.Nodes[1].ConfigString("expression"))
	assert.Equal(t, "test", retrieved.Metadata["created_by"])

	workflow.Name = "Renamed"
	require.NoError(t, repo.Save(ctx, workflow))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Renamed", all[0].Name)

	require.NoError(t, repo.Delete(ctx, "order-approval"))

	_, err = repo.GetByID(ctx, "order-approval")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionAndStepRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	executions := p.ExecutionRepository()
	steps := p.StepRepository()

	now := time.Now().UTC().Truncate(time.Microsecond)
	resumeAt := now.Add(time.Hour)

	exec := &models.Execution{
		ID:             "exec-1",
		WorkflowID:     "wf",
		Status:         models.ExecutionStatusPaused,
		CurrentNodeID:  "wait",
		Context:        map[string]any{"start": map[string]any{"score": 75.0}},
		TriggerData:    map[string]any{"score": 75.0},
		StartedAt:      &now,
		CreatedAt:      now,
		ResumeAt:       &resumeAt,
		WaitEventType:  "approval_received",
		CorrelationKey: "order-1",
	}
	require.NoError(t, executions.Save(ctx, exec))

	loaded, err := executions.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, loaded.Status)
	assert.Equal(t, "approval_received", loaded.WaitEventType)
	require.NotNil(t, loaded.ResumeAt)
	assert.True(t, resumeAt.Equal(*loaded.ResumeAt))
	assert.Nil(t, loaded.Resume)

	waiting, err := executions.ListWaiting(ctx, "approval_received")
	require.NoError(t, err)
	assert.Len(t, waiting, 1)

	exec.Status = models.ExecutionStatusRunning
	exec.Resume = &models.ResumeSignal{EventType: "approval_received", Payload: map[string]any{"approved": true}}
	exec.ClearWait()
	require.NoError(t, executions.Save(ctx, exec))

	loaded, err = executions.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Resume)
	assert.Equal(t, true, loaded.Resume.Payload["approved"])
	assert.Empty(t, loaded.WaitEventType)

	byWorkflow, err := executions.ListByWorkflow(ctx, "wf", models.ExecutionStatusRunning)
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 1)

	all, err := executions.ListByWorkflow(ctx, "wf", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	active, err := executions.ListByStatus(ctx, models.ExecutionStatusPending, models.ExecutionStatusRunning)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, steps.Append(ctx, &models.ExecutionStep{
		ID: "s1", ExecutionID: "exec-1", NodeID: "check", NodeType: models.NodeTypeCondition,
		Status: models.StepStatusSuccess, ConditionResult: models.BoolPtr(true), ExecutedAt: now,
	}))
	require.NoError(t, steps.Append(ctx, &models.ExecutionStep{
		ID: "s2", ExecutionID: "exec-1", NodeID: "route", NodeType: models.NodeTypeBranch,
		Status: models.StepStatusSuccess, SelectedBranch: models.StringPtr("approve"),
		Duration: 3 * time.Millisecond, ExecutedAt: now.Add(time.Microsecond),
	}))

	journal, err := steps.ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, journal, 2)
	assert.True(t, *journal[0].ConditionResult)
	assert.Equal(t, "approve", *journal[1].SelectedBranch)
	assert.Equal(t, 3*time.Millisecond, journal[1].Duration)

	last, err := steps.Last(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "s2", last.ID)

	none, err := steps.Last(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = executions.GetByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_CancelRequestIsSticky(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	executions := p.ExecutionRepository()

	exec := &models.Execution{
		ID:         "exec-cancel",
		WorkflowID: "wf",
		Status:     models.ExecutionStatusRunning,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, executions.Save(ctx, exec))

	flagged := exec.Clone()
	flagged.CancelRequested = true
	require.NoError(t, executions.Save(ctx, flagged))

	exec.CurrentNodeID = "first"
	require.NoError(t, executions.Save(ctx, exec))

	loaded, err := executions.GetByID(ctx, "exec-cancel")
	require.NoError(t, err)
	assert.True(t, loaded.CancelRequested)
	assert.Equal(t, "first", loaded.CurrentNodeID)
}
