package sandbox

import (
	"log/slog"
	"testing"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeStatuses(steps []*models.ExecutionStep) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		out = append(out, step.NodeID+":"+string(step.Status))
	}

	return out
}

func TestSandbox_EchoesActionsWithoutSideEffects(t *testing.T) {
	t.Parallel()

	box := New(clockwork.NewFakeClock(), slog.Default())

	var streamed []string

	result, err := box.Run(t.Context(), Request{
		ExecutionID: "dry-1",
		Workflow:    testutil.ScoreWorkflow(true),
		TriggerData: map[string]any{"score": 75.0},
	}, func(step models.ExecutionStep) {
		streamed = append(streamed, step.NodeID)
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, []string{"start", "check", "route", "notify"}, streamed)
	require.Len(t, result.NodeResults, 4)

	output := result.NodeResults[3].Output
	assert.Equal(t, true, output["dry_run"])
	assert.Equal(t, "notify", output["action"])
	assert.Equal(t, map[string]any{"score": 75.0}, output["params"])
}

func TestSandbox_UsesMockOutput(t *testing.T) {
	t.Parallel()

	wf := testutil.ScoreWorkflow(true)
	wf.Node("notify").Config["mock_output"] = map[string]any{"message_id": "m-1"}

	result, err := New(clockwork.NewFakeClock(), slog.Default()).Run(t.Context(), Request{
		ExecutionID: "dry-1",
		Workflow:    wf,
		TriggerData: map[string]any{"score": 99.0},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"message_id": "m-1"}, result.Context["notify"])
}

func TestSandbox_ContinuesThroughWaits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  map[string]any
		expected map[string]any
	}{
		{"simulated payload", nil, map[string]any{"simulated": true}},
		{"configured payload", map[string]any{"approved": true}, map[string]any{"approved": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wf := testutil.ApprovalWorkflow("1h", "")
			if tt.payload != nil {
				wf.Node("approval").Config["dry_run_payload"] = tt.payload
			}

			result, err := New(clockwork.NewFakeClock(), slog.Default()).Run(t.Context(), Request{
				ExecutionID: "dry-1",
				Workflow:    wf,
				TriggerData: map[string]any{"record_id": "r-1"},
			}, nil)
			require.NoError(t, err)

			assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
			assert.Equal(t,
				[]string{"start:success", "approval:waiting", "approval:success", "notify:success"},
				nodeStatuses(result.NodeResults),
			)
			assert.Equal(t, tt.expected, result.Context["approval"])
		})
	}
}

func TestSandbox_ReportsFailures(t *testing.T) {
	t.Parallel()

	result, err := New(clockwork.NewFakeClock(), slog.Default()).Run(t.Context(), Request{
		ExecutionID: "dry-1",
		Workflow:    testutil.ScoreWorkflow(false),
		TriggerData: map[string]any{"score": 10.0},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, "route", result.ErrorNodeID)
	assert.NotEmpty(t, result.Error)
	assert.NotContains(t, result.Error, "node route:")
}

func TestSandbox_RunsAreIndependent(t *testing.T) {
	t.Parallel()

	box := New(clockwork.NewFakeClock(), slog.Default())
	wf := testutil.ScoreWorkflow(true)

	first, err := box.Run(t.Context(), Request{ExecutionID: "dry-1", Workflow: wf, TriggerData: map[string]any{"score": 75.0}}, nil)
	require.NoError(t, err)

	second, err := box.Run(t.Context(), Request{ExecutionID: "dry-2", Workflow: wf, TriggerData: map[string]any{"score": 10.0}}, nil)
	require.NoError(t, err)

	assert.Len(t, first.NodeResults, 4)
	assert.Len(t, second.NodeResults, 4)
	assert.Equal(t, "notify", first.NodeResults[3].NodeID)
	assert.Equal(t, "decline", second.NodeResults[3].NodeID)
	assert.NotEqual(t, first.NodeResults[0].ID, second.NodeResults[0].ID)
}
