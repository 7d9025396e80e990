package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/dukex/flowengine/pkg/mocks"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func scoreWorkflow() *models.Workflow {
	return &models.Workflow{
		ID: "score",
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeTrigger},
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{"expression": "{{ gt .trigger.score 50 }}"}},
			{ID: "route", Type: models.NodeTypeBranch, Config: map[string]any{"cases": map[string]any{"true": "approve", "false": "reject"}}},
			{ID: "approve", Type: models.NodeTypeAction, Config: map[string]any{"action": "notify", "params": map[string]any{"to": "{{ .trigger.email }}"}}},
		},
		Edges: []*models.Edge{
			{From: "start", To: "check"},
			{From: "check", To: "route"},
			{From: "route", To: "approve", BranchLabel: "approve"},
		},
	}
}

func input(workflow *models.Workflow, trigger map[string]any, outputs map[string]any) Input {
	if outputs == nil {
		outputs = map[string]any{}
	}

	outputs["start"] = trigger

	return Input{ExecutionID: "exec-1", Workflow: workflow, TriggerData: trigger, Context: outputs}
}

func TestTriggerExecutor_OutputsTriggerData(t *testing.T) {
	t.Parallel()

	wf := scoreWorkflow()
	registry := NewDefaultRegistry(capability.NewRegistry(), nil, clockwork.NewFakeClock())

	result := registry.ExecuteNode(t.Context(), wf.Node("start"), input(wf, map[string]any{"score": 75.0}, nil))

	assert.Equal(t, models.StepStatusSuccess, result.Status)
	assert.Equal(t, map[string]any{"score": 75.0}, result.Output)
	assert.Equal(t, models.NodeTypeTrigger, result.NodeType)
}

func TestConditionExecutor(t *testing.T) {
	t.Parallel()

	wf := scoreWorkflow()
	executor := &ConditionExecutor{}

	tests := []struct {
		score    float64
		expected bool
	}{
		{75, true},
		{10, false},
		{50, false},
	}

	for _, tt := range tests {
		result := executor.Execute(t.Context(), wf.Node("check"), input(wf, map[string]any{"score": tt.score}, nil))

		require.Equal(t, models.StepStatusSuccess, result.Status)
		require.NotNil(t, result.ConditionResult)
		assert.Equal(t, tt.expected, *result.ConditionResult)
		assert.Equal(t, tt.expected, result.Output["condition_result"])
	}

	broken := &models.Node{ID: "bad", Type: models.NodeTypeCondition, Config: map[string]any{"expression": "{{ gt .trigger.score \"x\" }}"}}
	result := executor.Execute(t.Context(), broken, input(wf, map[string]any{"score": 1.0}, nil))
	assert.Equal(t, models.StepStatusFailed, result.Status)
	assert.Equal(t, "NodeExecutionError", result.ErrorKind)
}

func TestBranchExecutor_SelectsLabeledEdge(t *testing.T) {
	t.Parallel()

	wf := scoreWorkflow()
	executor := &BranchExecutor{}

	result := executor.Execute(t.Context(), wf.Node("route"), input(wf, map[string]any{"score": 75.0}, map[string]any{
		"check": map[string]any{"condition_result": true},
	}))

	require.Equal(t, models.StepStatusSuccess, result.Status)
	assert.Equal(t, "approve", *result.SelectedBranch)
	assert.Equal(t, "approve", result.Output["next_node_id"])
	assert.Equal(t, "check", result.Input["source"])
}

func TestBranchExecutor_UnmatchedLabelIsConfigurationError(t *testing.T) {
	t.Parallel()

	wf := scoreWorkflow()

	result := (&BranchExecutor{}).Execute(t.Context(), wf.Node("route"), input(wf, map[string]any{"score": 10.0}, map[string]any{
		"check": map[string]any{"condition_result": false},
	}))

	assert.Equal(t, models.StepStatusFailed, result.Status)
	assert.Equal(t, "ConfigurationError", result.ErrorKind)
	assert.Contains(t, result.Error, `no outgoing edge labeled "reject"`)
	assert.Equal(t, "reject", *result.SelectedBranch)
	assert.ErrorIs(t, result.Err, models.ErrConfiguration)
}

func TestBranchExecutor_ExpressionLabel(t *testing.T) {
	t.Parallel()

	wf := &models.Workflow{
		ID: "tier",
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeTrigger},
			{ID: "route", Type: models.NodeTypeBranch, Config: map[string]any{"expression": "{{ .trigger.tier }}"}},
			{ID: "gold", Type: models.NodeTypeAction},
			{ID: "silver", Type: models.NodeTypeAction},
		},
		Edges: []*models.Edge{
			{From: "start", To: "route"},
			{From: "route", To: "gold", BranchLabel: "gold"},
			{From: "route", To: "silver", BranchLabel: "silver"},
		},
	}

	result := (&BranchExecutor{}).Execute(t.Context(), wf.Node("route"), input(wf, map[string]any{"tier": "silver"}, nil))

	require.Equal(t, models.StepStatusSuccess, result.Status)
	assert.Equal(t, "silver", *result.SelectedBranch)
	assert.Equal(t, "silver", result.Output["next_node_id"])
}

func TestActionExecutor_RendersParamsAndInvokes(t *testing.T) {
	t.Parallel()

	wf := scoreWorkflow()
	action := &mocks.MockAction{}
	action.On("Invoke", mock.Anything, mock.MatchedBy(func(req capability.ActionRequest) bool {
		return req.Action == "notify" && req.Params["to"] == "a@example.com" && req.NodeID == "approve" && req.WorkflowID == "score"
	})).Return(map[string]any{"sent": true}, nil).Once()

	executor := NewActionExecutor(action)
	result := executor.Execute(t.Context(), wf.Node("approve"), input(wf, map[string]any{"email": "a@example.com"}, nil))

	require.Equal(t, models.StepStatusSuccess, result.Status)
	assert.Equal(t, map[string]any{"sent": true}, result.Output)
	assert.Equal(t, map[string]any{"to": "a@example.com"}, result.Input["params"])
	action.AssertExpectations(t)
}

func TestActionExecutor_Failures(t *testing.T) {
	t.Parallel()

	wf := scoreWorkflow()

	t.Run("capability error", func(t *testing.T) {
		action := &mocks.MockAction{}
		action.On("Invoke", mock.Anything, mock.Anything).Return(nil, errors.New("smtp down"))

		result := NewActionExecutor(action).Execute(t.Context(), wf.Node("approve"), input(wf, map[string]any{}, nil))

		assert.Equal(t, models.StepStatusFailed, result.Status)
		assert.Equal(t, "smtp down", result.Error)
		assert.Equal(t, "NodeExecutionError", result.ErrorKind)
	})

	t.Run("unknown action", func(t *testing.T) {
		result := NewActionExecutor(capability.NewRegistry()).Execute(t.Context(), wf.Node("approve"), input(wf, map[string]any{}, nil))

		assert.Equal(t, models.StepStatusFailed, result.Status)
		assert.Equal(t, "ConfigurationError", result.ErrorKind)
	})

	t.Run("timeout", func(t *testing.T) {
		slow := capability.ActionFunc(func(ctx context.Context, _ capability.ActionRequest) (map[string]any, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		})

		node := &models.Node{ID: "slow", Type: models.NodeTypeAction, Config: map[string]any{"action": "slow", "timeout": "20ms"}}
		result := NewActionExecutor(slow).Execute(t.Context(), node, input(wf, map[string]any{}, nil))

		assert.Equal(t, models.StepStatusFailed, result.Status)
		assert.Equal(t, "Timeout", result.ErrorKind)
		assert.ErrorIs(t, result.Err, models.ErrTimeout)
	})

	t.Run("stuck capability", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })

		stuck := capability.ActionFunc(func(_ context.Context, _ capability.ActionRequest) (map[string]any, error) {
			<-release

			return nil, nil
		})

		node := &models.Node{ID: "stuck", Type: models.NodeTypeAction, Config: map[string]any{"action": "stuck", "timeout": "20ms"}}
		result := NewActionExecutor(stuck).Execute(t.Context(), node, input(wf, map[string]any{}, nil))

		assert.Equal(t, "Timeout", result.ErrorKind)
	})
}

func TestAgentExecutor(t *testing.T) {
	t.Parallel()

	wf := scoreWorkflow()
	node := &models.Node{ID: "summarize", Type: models.NodeTypeAgent, Config: map[string]any{
		"prompt": "Summarize ticket {{ .trigger.ticket }}",
		"model":  "small",
	}}

	agent := &mocks.MockAgent{}
	agent.On("Run", mock.Anything, mock.MatchedBy(func(req capability.AgentRequest) bool {
		return req.Prompt == "Summarize ticket 42" && req.Model == "small"
	})).Return(map[string]any{"text": "done"}, nil)

	result := NewAgentExecutor(agent).Execute(t.Context(), node, input(wf, map[string]any{"ticket": 42.0}, nil))

	require.Equal(t, models.StepStatusSuccess, result.Status)
	assert.Equal(t, "done", result.Output["text"])

	result = NewAgentExecutor(nil).Execute(t.Context(), node, input(wf, map[string]any{"ticket": 42.0}, nil))
	assert.Equal(t, models.StepStatusFailed, result.Status)
}

func TestWaitExecutor(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	executor := NewWaitExecutor(clock)
	wf := scoreWorkflow()

	node := &models.Node{ID: "approval", Type: models.NodeTypeWait, Config: map[string]any{
		"event_type":      "approval_received",
		"timeout":         "24h",
		"correlation_key": "{{ .trigger.order_id }}",
	}}

	t.Run("first visit waits", func(t *testing.T) {
		result := executor.Execute(t.Context(), node, input(wf, map[string]any{"order_id": "o-1"}, nil))

		require.Equal(t, models.StepStatusWaiting, result.Status)
		require.NotNil(t, result.Wait)
		assert.Equal(t, "approval_received", result.Wait.EventType)
		assert.Equal(t, "o-1", result.Wait.CorrelationKey)
		assert.Equal(t, clock.Now().Add(24*time.Hour), *result.Wait.ResumeAt)
	})

	t.Run("resume with payload", func(t *testing.T) {
		in := input(wf, map[string]any{}, nil)
		in.Resume = &models.ResumeSignal{EventType: "approval_received", Payload: map[string]any{"approved": true}}

		result := executor.Execute(t.Context(), node, in)

		require.Equal(t, models.StepStatusSuccess, result.Status)
		assert.Equal(t, map[string]any{"approved": true}, result.Output)
	})

	t.Run("timeout fails by default", func(t *testing.T) {
		in := input(wf, map[string]any{}, nil)
		in.Resume = &models.ResumeSignal{TimedOut: true}

		result := executor.Execute(t.Context(), node, in)

		assert.Equal(t, models.StepStatusFailed, result.Status)
		assert.Equal(t, "Timeout", result.ErrorKind)
	})

	t.Run("timeout can continue", func(t *testing.T) {
		lenient := &models.Node{ID: "approval", Type: models.NodeTypeWait, Config: map[string]any{
			"event_type": "approval_received",
			"on_timeout": OnTimeoutContinue,
		}}

		in := input(wf, map[string]any{}, nil)
		in.Resume = &models.ResumeSignal{TimedOut: true}

		result := executor.Execute(t.Context(), lenient, in)

		assert.Equal(t, models.StepStatusSuccess, result.Status)
		assert.Equal(t, map[string]any{"timed_out": true}, result.Output)
	})
}

func TestRegistry_UnknownKind(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	result := registry.ExecuteNode(t.Context(), &models.Node{ID: "x", Type: "mystery"}, Input{})

	assert.Equal(t, models.StepStatusFailed, result.Status)
	assert.Equal(t, "ConfigurationError", result.ErrorKind)
}
