package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_LookupsSkipNullEntries(t *testing.T) {
	t.Parallel()

	workflow := &Workflow{
		ID:    "wf",
		Nodes: []*Node{nil, {ID: "t", Type: NodeTypeTrigger}, {ID: "a", Type: NodeTypeAction}},
		Edges: []*Edge{nil, {From: "t", To: "a"}},
	}

	trigger := workflow.TriggerNode()
	require.NotNil(t, trigger)
	assert.Equal(t, "t", trigger.ID)

	assert.Nil(t, workflow.Node("missing"))
	assert.Equal(t, "a", workflow.Node("a").ID)

	require.Len(t, workflow.Outgoing("t"), 1)
	require.Len(t, workflow.Incoming("a"), 1)
	assert.Empty(t, workflow.Outgoing("a"))
}
