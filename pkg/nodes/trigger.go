package nodes

import (
	"context"
	"maps"

	"github.com/dukex/flowengine/pkg/models"
)

// TriggerExecutor always succeeds; its output is the trigger data.
type TriggerExecutor struct{}

func (e *TriggerExecutor) Execute(_ context.Context, node *models.Node, in Input) models.NodeResult {
	output := maps.Clone(in.TriggerData)
	if output == nil {
		output = map[string]any{}
	}

	return models.Success(node, nil, output)
}
