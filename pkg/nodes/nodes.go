// Package nodes evaluates single workflow nodes. Each node kind has one Executor
// registered in a lookup table keyed by models.NodeType.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/template"
)

// Input is everything a node may read: the execution identity, the graph and the
// accumulated context of earlier node outputs.
type Input struct {
	ExecutionID string
	Workflow    *models.Workflow
	TriggerData map[string]any
	Context     map[string]any
	DryRun      bool

	// Resume is set when a wait node is re-entered after its event or deadline.
	Resume *models.ResumeSignal
}

// Scope exposes the input to expressions. Context entries are reachable under .nodes.
func (in Input) Scope() template.Scope {
	scope := template.Scope{
		ExecutionID: in.ExecutionID,
		TriggerData: in.TriggerData,
		Nodes:       maps.Clone(in.Context),
	}

	if in.Workflow != nil {
		scope.WorkflowID = in.Workflow.ID
	}

	return scope
}

// Output returns the recorded output of nodeID, or nil.
func (in Input) Output(nodeID string) map[string]any {
	output, _ := in.Context[nodeID].(map[string]any)

	return output
}

// Executor evaluates one kind of node. Failures are reported in the result, never panicked.
type Executor interface {
	Execute(ctx context.Context, node *models.Node, in Input) models.NodeResult
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, node *models.Node, in Input) models.NodeResult

func (f ExecutorFunc) Execute(ctx context.Context, node *models.Node, in Input) models.NodeResult {
	return f(ctx, node, in)
}

// runWithTimeout calls fn and gives up when timeout elapses. A zero timeout only
// honours ctx. fn keeps running in the background after a timeout if it ignores ctx.
func runWithTimeout(ctx context.Context, nodeID string, timeout time.Duration, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		output map[string]any
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("capability panicked: %v", r)}
			}
		}()

		output, err := fn(ctx)
		done <- outcome{output: output, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && timeout > 0 {
			return nil, models.NewNodeError(nodeID, models.ErrTimeout, fmt.Sprintf("exceeded timeout of %s", timeout))
		}

		return o.output, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && timeout > 0 {
			return nil, models.NewNodeError(nodeID, models.ErrTimeout, fmt.Sprintf("exceeded timeout of %s", timeout))
		}

		return nil, fmt.Errorf("interrupted: %w", ctx.Err())
	}
}

func configError(node *models.Node, format string, args ...any) error {
	return models.NewNodeError(node.ID, models.ErrConfiguration, fmt.Sprintf(format, args...))
}
