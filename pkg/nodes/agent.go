package nodes

import (
	"context"
	"fmt"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/template"
)

// AgentExecutor renders the prompt and hands it to the agent capability.
type AgentExecutor struct {
	agent capability.Agent
}

func NewAgentExecutor(agent capability.Agent) *AgentExecutor {
	if agent == nil {
		agent = capability.UnavailableAgent{}
	}

	return &AgentExecutor{agent: agent}
}

func (e *AgentExecutor) Execute(ctx context.Context, node *models.Node, in Input) models.NodeResult {
	timeout, err := node.ConfigDuration("timeout")
	if err != nil {
		return models.Failure(node, nil, configError(node, "invalid timeout: %v", err))
	}

	scope := in.Scope()

	prompt, err := template.RenderWithScope(node.ConfigString("prompt"), scope)
	if err != nil {
		return models.Failure(node, nil, err)
	}

	params, err := template.RenderConfig(node.ConfigMap("params"), scope)
	if err != nil {
		return models.Failure(node, nil, err)
	}

	req := capability.AgentRequest{
		ExecutionID: in.ExecutionID,
		NodeID:      node.ID,
		Prompt:      fmt.Sprint(prompt),
		Model:       node.ConfigString("model"),
		Params:      params,
		MockOutput:  node.ConfigMap("mock_output"),
	}

	if in.Workflow != nil {
		req.WorkflowID = in.Workflow.ID
	}

	input := map[string]any{"prompt": req.Prompt, "model": req.Model, "params": params}

	output, err := runWithTimeout(ctx, node.ID, timeout, func(ctx context.Context) (map[string]any, error) {
		return e.agent.Run(ctx, req)
	})
	if err != nil {
		return models.Failure(node, input, err)
	}

	if output == nil {
		output = map[string]any{}
	}

	return models.Success(node, input, output)
}
