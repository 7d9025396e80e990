package dispatcher

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/nodes"
	"github.com/dukex/flowengine/pkg/recorder"
	"github.com/dukex/flowengine/pkg/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newDispatcher(action capability.Action) (*Dispatcher, *recorder.Stream) {
	clock := clockwork.NewFakeClock()
	rec := recorder.NewStream(clock, nil)
	registry := nodes.NewDefaultRegistry(testutil.Actions(action), capability.UnavailableAgent{}, clock)

	return New(registry, rec, slog.Default()), rec
}

func statuses(steps []*models.ExecutionStep) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		out = append(out, step.NodeID+":"+string(step.Status))
	}

	return out
}

func TestDispatch_ApprovePath(t *testing.T) {
	t.Parallel()

	action := &testutil.CountingAction{}
	d, _ := newDispatcher(action)

	outcome, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    testutil.ScoreWorkflow(true),
		TriggerData: map[string]any{"score": 75.0},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, outcome.Status)
	assert.Equal(t, []string{"start:success", "check:success", "route:success", "notify:success"}, statuses(outcome.Steps))

	require.NotNil(t, outcome.Steps[1].ConditionResult)
	assert.True(t, *outcome.Steps[1].ConditionResult)
	require.NotNil(t, outcome.Steps[2].SelectedBranch)
	assert.Equal(t, "approve", *outcome.Steps[2].SelectedBranch)

	assert.Equal(t, 1, action.Calls())
	assert.Equal(t, map[string]any{"score": 75.0}, action.Requests()[0].Params)
	assert.Equal(t, map[string]any{"sent": true, "node": "notify"}, outcome.Context["notify"])
}

func TestDispatch_RejectWithoutEdgeFailsAtBranch(t *testing.T) {
	t.Parallel()

	action := &testutil.CountingAction{}
	d, _ := newDispatcher(action)

	outcome, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    testutil.ScoreWorkflow(false),
		TriggerData: map[string]any{"score": 10.0},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	assert.Equal(t, "route", outcome.ErrorNodeID)
	require.ErrorIs(t, outcome.Err, models.ErrConfiguration)
	assert.Equal(t, []string{"start:success", "check:success", "route:failed"}, statuses(outcome.Steps))
	assert.Equal(t, "ConfigurationError", outcome.Steps[2].ErrorKind)
	assert.Zero(t, action.Calls())
}

func TestDispatch_RejectEdgeIsFollowed(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(&testutil.CountingAction{})

	outcome, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    testutil.ScoreWorkflow(true),
		TriggerData: map[string]any{"score": 10.0},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, outcome.Status)
	assert.Equal(t, "decline", outcome.Steps[len(outcome.Steps)-1].NodeID)
	assert.NotContains(t, outcome.Context, "notify")
}

func TestDispatch_WaitThenResume(t *testing.T) {
	t.Parallel()

	action := &testutil.CountingAction{}
	d, _ := newDispatcher(action)
	wf := testutil.ApprovalWorkflow("", "")

	paused, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    wf,
		TriggerData: map[string]any{"record_id": "r-9"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
	assert.Equal(t, "approval", paused.CurrentNodeID)
	require.NotNil(t, paused.Wait)
	assert.Equal(t, "approval_received", paused.Wait.EventType)
	assert.Equal(t, "r-9", paused.Wait.CorrelationKey)
	assert.Equal(t, []string{"start:success", "approval:waiting"}, statuses(paused.Steps))
	assert.Zero(t, action.Calls())

	resumed, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    wf,
		TriggerData: map[string]any{"record_id": "r-9"},
		Context:     paused.Context,
		StartAt:     "approval",
		Resume:      &models.ResumeSignal{EventType: "approval_received", Payload: map[string]any{"approved": true}},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, []string{"approval:success", "notify:success"}, statuses(resumed.Steps))
	assert.Equal(t, map[string]any{"approved": true}, resumed.Context["approval"])
	assert.Equal(t, map[string]any{"approved": true}, action.Requests()[0].Params)
}

func TestDispatch_CancellationAtNodeBoundary(t *testing.T) {
	t.Parallel()

	action := &testutil.CountingAction{}
	d, _ := newDispatcher(action)

	visited := 0

	outcome, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    testutil.ScoreWorkflow(true),
		TriggerData: map[string]any{"score": 75.0},
		Cancelled: func() bool {
			visited++

			return visited > 2
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, outcome.Status)
	assert.Equal(t, "route", outcome.CurrentNodeID)
	assert.Equal(t, []string{"start:success", "check:success"}, statuses(outcome.Steps))
	assert.Zero(t, action.Calls())
}

func TestDispatch_CheckpointsEachAdvance(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(&testutil.CountingAction{})

	var checkpoints []Checkpoint

	_, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    testutil.ScoreWorkflow(true),
		TriggerData: map[string]any{"score": 75.0},
		Checkpoint: func(_ context.Context, cp Checkpoint) error {
			checkpoints = append(checkpoints, cp)

			return nil
		},
	})
	require.NoError(t, err)

	require.Len(t, checkpoints, 3)
	assert.Equal(t, "start", checkpoints[0].CurrentNodeID)
	assert.Equal(t, "check", checkpoints[0].NextNodeID)
	assert.Equal(t, "notify", checkpoints[2].NextNodeID)
	assert.Contains(t, checkpoints[2].Context, "route")
}

func TestDispatch_InterruptedContextRecordsNothing(t *testing.T) {
	t.Parallel()

	d, rec := newDispatcher(&testutil.CountingAction{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := d.Dispatch(ctx, Run{
		ExecutionID: "exec-1",
		Workflow:    testutil.ScoreWorkflow(true),
		TriggerData: map[string]any{"score": 75.0},
	})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Empty(t, rec.Steps())
}

func TestDispatch_UnknownStartNodeFails(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(&testutil.CountingAction{})

	outcome, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    testutil.ScoreWorkflow(true),
		StartAt:     "ghost",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	assert.Equal(t, "ghost", outcome.ErrorNodeID)
	assert.Equal(t, []string{"ghost:failed"}, statuses(outcome.Steps))
}

func TestDispatch_OpensSpanPerNode(t *testing.T) {
	t.Parallel()

	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	d, _ := newDispatcher(&testutil.CountingAction{})
	d = d.WithTracer(provider.Tracer("test"))

	_, err := d.Dispatch(t.Context(), Run{
		ExecutionID: "exec-1",
		Workflow:    testutil.ScoreWorkflow(false),
		TriggerData: map[string]any{"score": 10.0},
	})
	require.NoError(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "node.trigger", ended[0].Name())
	assert.Equal(t, "node.branch", ended[2].Name())
	assert.Equal(t, "Error", ended[2].Status().Code.String())
}
