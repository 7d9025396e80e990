package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	t.Parallel()

	base := NewBaseEvent(ExecutionStartedEvent, "wf-1", "exec-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, ExecutionStartedEvent, base.Type)
	assert.Equal(t, "wf-1", base.WorkflowID)
	assert.Equal(t, "exec-1", base.ExecutionID)
	assert.False(t, base.Timestamp.IsZero())
}

func TestEvents_GetType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event interface{ GetType() EventType }
		want  EventType
	}{
		{ExecutionStarted{}, ExecutionStartedEvent},
		{ExecutionPaused{}, ExecutionPausedEvent},
		{ExecutionResumed{}, ExecutionResumedEvent},
		{ExecutionCompleted{}, ExecutionCompletedEvent},
		{ExecutionFailed{}, ExecutionFailedEvent},
		{ExecutionCancelled{}, ExecutionCancelledEvent},
		{StepRecorded{}, StepRecordedEvent},
		{ExternalEventReceived{}, ExternalEventReceivedEvent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.GetType())
	}
}

func TestStepRecorded_JSON(t *testing.T) {
	t.Parallel()

	event := StepRecorded{
		BaseEvent: NewBaseEvent(StepRecordedEvent, "wf-1", "exec-1"),
		Step: models.ExecutionStep{
			ID:             "01J",
			ExecutionID:    "exec-1",
			NodeID:         "route",
			NodeType:       models.NodeTypeBranch,
			Status:         models.StepStatusSuccess,
			SelectedBranch: models.StringPtr("approve"),
		},
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"step.recorded"`)
	assert.Contains(t, string(data), `"selected_branch":"approve"`)

	var decoded StepRecorded
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "route", decoded.Step.NodeID)
	assert.Equal(t, "approve", *decoded.Step.SelectedBranch)
}
