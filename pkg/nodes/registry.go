package nodes

import (
	"context"
	"errors"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/jonboulle/clockwork"
)

// Registry maps node kinds to their executors.
type Registry struct {
	executors map[models.NodeType]Executor
	clock     clockwork.Clock
}

// NewRegistry creates an empty registry.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Registry{
		executors: make(map[models.NodeType]Executor),
		clock:     clock,
	}
}

// NewDefaultRegistry registers one executor per built-in node kind.
func NewDefaultRegistry(actions capability.Action, agent capability.Agent, clock clockwork.Clock) *Registry {
	r := NewRegistry(clock)

	r.Register(models.NodeTypeTrigger, &TriggerExecutor{})
	r.Register(models.NodeTypeAction, NewActionExecutor(actions))
	r.Register(models.NodeTypeCondition, &ConditionExecutor{})
	r.Register(models.NodeTypeBranch, &BranchExecutor{})
	r.Register(models.NodeTypeWait, NewWaitExecutor(r.clock))
	r.Register(models.NodeTypeAgent, NewAgentExecutor(agent))

	return r
}

// Register adds or replaces the executor for a node kind.
func (r *Registry) Register(nodeType models.NodeType, executor Executor) {
	r.executors[nodeType] = executor
}

// Clock returns the clock used to time node executions.
func (r *Registry) Clock() clockwork.Clock {
	return r.clock
}

// ExecuteNode dispatches node to the executor for its kind and stamps the duration.
func (r *Registry) ExecuteNode(ctx context.Context, node *models.Node, in Input) models.NodeResult {
	executor, ok := r.executors[node.Type]
	if !ok {
		return models.Failure(node, nil, configError(node, "no executor for node type %q", node.Type))
	}

	started := r.clock.Now()

	result := executor.Execute(ctx, node, in)
	result.NodeID = node.ID
	result.NodeType = node.Type
	result.Duration = r.clock.Since(started)

	if result.Status == models.StepStatusFailed && result.Err == nil {
		result.Err = errors.New(result.Error)
	}

	return result
}
