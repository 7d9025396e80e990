package nodes

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/template"
)

// BranchExecutor selects exactly one outgoing edge. The label comes from, in order:
// the rendered expression, the configured source node's output, or the condition
// node feeding the branch. An optional cases map translates values to labels.
type BranchExecutor struct{}

func (e *BranchExecutor) Execute(_ context.Context, node *models.Node, in Input) models.NodeResult {
	value, source, err := e.value(node, in)
	if err != nil {
		return models.Failure(node, nil, err)
	}

	key := stringify(value)
	label := key

	if cases := node.ConfigMap("cases"); cases != nil {
		if mapped, ok := cases[key].(string); ok {
			label = mapped
		}
	}

	input := map[string]any{"value": value, "label": label}
	if source != "" {
		input["source"] = source
	}

	var next string

	if in.Workflow != nil {
		for _, edge := range in.Workflow.Outgoing(node.ID) {
			if edge.BranchLabel == label {
				next = edge.To

				break
			}
		}
	}

	if next == "" {
		result := models.Failure(node, input, configError(node, "no outgoing edge labeled %q", label))
		result.SelectedBranch = models.StringPtr(label)

		return result
	}

	result := models.Success(node, input, map[string]any{
		"selected_branch": label,
		"next_node_id":    next,
	})
	result.SelectedBranch = models.StringPtr(label)

	return result
}

func (e *BranchExecutor) value(node *models.Node, in Input) (any, string, error) {
	if expression := node.ConfigString("expression"); expression != "" {
		value, err := template.RenderWithScope(expression, in.Scope())
		if err != nil {
			return nil, "", err
		}

		return value, "", nil
	}

	source := node.ConfigString("source")
	if source == "" && in.Workflow != nil {
		for _, edge := range in.Workflow.Incoming(node.ID) {
			pred := in.Workflow.Node(edge.From)
			if pred != nil && pred.Type == models.NodeTypeCondition {
				if _, ran := in.Context[pred.ID]; ran {
					source = pred.ID

					break
				}
			}
		}
	}

	if source == "" {
		return nil, "", configError(node, "branch has no expression and no condition node feeds it")
	}

	output := in.Output(source)
	if output == nil {
		return nil, source, configError(node, "source node %q has no output", source)
	}

	if value, ok := output["condition_result"]; ok {
		return value, source, nil
	}

	if value, ok := output["value"]; ok {
		return value, source, nil
	}

	return nil, source, configError(node, "source node %q output has no condition_result or value", source)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
