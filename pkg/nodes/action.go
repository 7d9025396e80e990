package nodes

import (
	"context"
	"errors"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/template"
)

// ActionExecutor renders the node's params against the context and invokes the named action.
type ActionExecutor struct {
	actions capability.Action
}

func NewActionExecutor(actions capability.Action) *ActionExecutor {
	return &ActionExecutor{actions: actions}
}

func (e *ActionExecutor) Execute(ctx context.Context, node *models.Node, in Input) models.NodeResult {
	name := node.ConfigString("action")
	input := map[string]any{"action": name}

	timeout, err := node.ConfigDuration("timeout")
	if err != nil {
		return models.Failure(node, input, configError(node, "invalid timeout: %v", err))
	}

	params, err := template.RenderConfig(node.ConfigMap("params"), in.Scope())
	if err != nil {
		return models.Failure(node, input, err)
	}

	input["params"] = params

	req := capability.ActionRequest{
		ExecutionID: in.ExecutionID,
		NodeID:      node.ID,
		Action:      name,
		Params:      params,
		MockOutput:  node.ConfigMap("mock_output"),
	}

	if in.Workflow != nil {
		req.WorkflowID = in.Workflow.ID
	}

	output, err := runWithTimeout(ctx, node.ID, timeout, func(ctx context.Context) (map[string]any, error) {
		return e.actions.Invoke(ctx, req)
	})
	if err != nil {
		if errors.Is(err, capability.ErrUnknownAction) {
			return models.Failure(node, input, configError(node, "%v", err))
		}

		return models.Failure(node, input, err)
	}

	if output == nil {
		output = map[string]any{}
	}

	return models.Success(node, input, output)
}
