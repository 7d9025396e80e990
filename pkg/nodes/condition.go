package nodes

import (
	"context"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/template"
)

// ConditionExecutor evaluates a boolean expression. It records the result but does not branch.
type ConditionExecutor struct{}

func (e *ConditionExecutor) Execute(_ context.Context, node *models.Node, in Input) models.NodeResult {
	expression := node.ConfigString("expression")
	input := map[string]any{"expression": expression}

	if expression == "" {
		return models.Failure(node, input, configError(node, "condition has no expression"))
	}

	value, err := template.RenderWithScope(expression, in.Scope())
	if err != nil {
		return models.Failure(node, input, err)
	}

	passed := template.Truthy(value)

	result := models.Success(node, input, map[string]any{
		"condition_result": passed,
		"evaluated_value":  value,
	})
	result.ConditionResult = models.BoolPtr(passed)

	return result
}
