// Package testutil provides workflow builders and capability doubles for testing.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/dukex/flowengine/pkg/models"
)

// NewWorkflow creates a workflow with the given id and applies overrides in order.
func NewWorkflow(id string, overrides ...func(*models.Workflow)) *models.Workflow {
	wf := &models.Workflow{ID: id, Name: id}

	for _, override := range overrides {
		override(wf)
	}

	return wf
}

// WithNode appends a node.
func WithNode(id string, nodeType models.NodeType, config map[string]any) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Nodes = append(w.Nodes, &models.Node{ID: id, Type: nodeType, Config: config})
	}
}

// WithEdge appends an unlabeled edge.
func WithEdge(from, to string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Edges = append(w.Edges, &models.Edge{From: from, To: to})
	}
}

// WithBranchEdge appends an edge labeled for a branch node.
func WithBranchEdge(from, to, label string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Edges = append(w.Edges, &models.Edge{From: from, To: to, BranchLabel: label})
	}
}

// ScoreWorkflow is trigger → condition(score>50) → branch{true:approve,false:reject} → action.
// When withReject is false the branch has no "reject" edge.
func ScoreWorkflow(withReject bool) *models.Workflow {
	overrides := []func(*models.Workflow){
		WithNode("start", models.NodeTypeTrigger, nil),
		WithNode("check", models.NodeTypeCondition, map[string]any{"expression": "{{ gt .trigger.score 50 }}"}),
		WithNode("route", models.NodeTypeBranch, map[string]any{"cases": map[string]any{"true": "approve", "false": "reject"}}),
		WithNode("notify", models.NodeTypeAction, map[string]any{"action": "notify", "params": map[string]any{"score": "{{ .trigger.score }}"}}),
		WithEdge("start", "check"),
		WithEdge("check", "route"),
		WithBranchEdge("route", "notify", "approve"),
	}

	if withReject {
		overrides = append(overrides,
			WithNode("decline", models.NodeTypeAction, map[string]any{"action": "notify", "params": map[string]any{"rejected": true}}),
			WithBranchEdge("route", "decline", "reject"),
		)
	}

	return NewWorkflow("score", overrides...)
}

// ApprovalWorkflow is trigger → wait(approval_received) → action. timeout is the wait
// node's maximum duration ("" for none) and onTimeout its on_timeout policy.
func ApprovalWorkflow(timeout, onTimeout string) *models.Workflow {
	waitConfig := map[string]any{
		"event_type":      "approval_received",
		"correlation_key": "{{ .trigger.record_id }}",
	}

	if timeout != "" {
		waitConfig["timeout"] = timeout
	}

	if onTimeout != "" {
		waitConfig["on_timeout"] = onTimeout
	}

	return NewWorkflow("approval",
		WithNode("start", models.NodeTypeTrigger, nil),
		WithNode("approval", models.NodeTypeWait, waitConfig),
		WithNode("notify", models.NodeTypeAction, map[string]any{"action": "notify", "params": map[string]any{"approved": "{{ .nodes.approval.approved }}"}}),
		WithEdge("start", "approval"),
		WithEdge("approval", "notify"),
	)
}

// CountingAction records every invocation and answers with a fixed output.
type CountingAction struct {
	calls atomic.Int64

	mu       sync.Mutex
	requests []capability.ActionRequest

	// Block, when set, is waited on before returning.
	Block chan struct{}
	// Started, when set, receives once per invocation before blocking.
	Started chan string
}

func (a *CountingAction) Invoke(ctx context.Context, req capability.ActionRequest) (map[string]any, error) {
	a.calls.Add(1)

	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	if a.Started != nil {
		a.Started <- req.NodeID
	}

	if a.Block != nil {
		select {
		case <-a.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return map[string]any{"sent": true, "node": req.NodeID}, nil
}

// Calls returns how many times the action ran.
func (a *CountingAction) Calls() int {
	return int(a.calls.Load())
}

// Requests returns a copy of every request received.
func (a *CountingAction) Requests() []capability.ActionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]capability.ActionRequest, len(a.requests))
	copy(out, a.requests)

	return out
}

// Actions registers action under the name "notify" in a fresh capability registry.
func Actions(action capability.Action) *capability.Registry {
	registry := capability.NewRegistry()
	registry.Register("notify", action)

	return registry
}
