// Package capability defines the side-effecting operations action and agent nodes invoke.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownAction indicates no action is registered under the requested name.
var ErrUnknownAction = errors.New("unknown action")

// ActionRequest is one call of an action node.
type ActionRequest struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	Action      string
	Params      map[string]any

	// MockOutput is the node's representative output for sandboxed runs.
	MockOutput map[string]any
}

// Action performs one externally visible operation, e.g. send an email or create a record.
type Action interface {
	Invoke(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, req ActionRequest) (map[string]any, error)

func (f ActionFunc) Invoke(ctx context.Context, req ActionRequest) (map[string]any, error) {
	return f(ctx, req)
}

// AgentRequest is one call of an agent node.
type AgentRequest struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	Prompt      string
	Model       string
	Params      map[string]any

	// MockOutput is the node's representative output for sandboxed runs.
	MockOutput map[string]any
}

// Agent runs an LLM-backed step. Output is nondeterministic.
type Agent interface {
	Run(ctx context.Context, req AgentRequest) (map[string]any, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, req AgentRequest) (map[string]any, error)

func (f AgentFunc) Run(ctx context.Context, req AgentRequest) (map[string]any, error) {
	return f(ctx, req)
}

// Registry dispatches action requests by name. It is itself an Action.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds or replaces the action for name.
func (r *Registry) Register(name string, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actions[name] = action
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}

	return action, nil
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (r *Registry) Invoke(ctx context.Context, req ActionRequest) (map[string]any, error) {
	action, err := r.Get(req.Action)
	if err != nil {
		return nil, err
	}

	return action.Invoke(ctx, req)
}

// UnavailableAgent fails every call; it is used when no agent backend is configured.
type UnavailableAgent struct{}

func (UnavailableAgent) Run(_ context.Context, _ AgentRequest) (map[string]any, error) {
	return nil, errors.New("no agent backend configured")
}
