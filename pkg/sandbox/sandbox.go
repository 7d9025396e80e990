// Package sandbox runs a workflow without side effects. Action and agent nodes are served by
// mock capabilities, steps are streamed to the caller and never persisted.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/dukex/flowengine/pkg/capability"
	"github.com/dukex/flowengine/pkg/dispatcher"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/nodes"
	"github.com/dukex/flowengine/pkg/recorder"
	"github.com/jonboulle/clockwork"
)

// Request is one dry run.
type Request struct {
	ExecutionID string
	Workflow    *models.Workflow
	TriggerData map[string]any

	// Cancelled is polled at node boundaries.
	Cancelled func() bool
}

// Result is everything a dry run produced.
type Result struct {
	ExecutionID string                  `json:"execution_id"`
	WorkflowID  string                  `json:"workflow_id"`
	Status      models.ExecutionStatus  `json:"status"`
	Error       string                  `json:"error,omitempty"`
	ErrorNodeID string                  `json:"error_node_id,omitempty"`
	NodeResults []*models.ExecutionStep `json:"node_results"`
	Context     map[string]any          `json:"context"`
}

// Sandbox owns the mock capabilities. It never sees the live action registry.
type Sandbox struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

func New(clock clockwork.Clock, logger *slog.Logger) *Sandbox {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Sandbox{clock: clock, logger: logger.With("module", "sandbox")}
}

// MockAction answers every action with the node's mock_output, or with an echo of what
// would have been sent.
func MockAction() capability.Action {
	return capability.ActionFunc(func(_ context.Context, req capability.ActionRequest) (map[string]any, error) {
		if req.MockOutput != nil {
			return maps.Clone(req.MockOutput), nil
		}

		return map[string]any{
			"dry_run": true,
			"action":  req.Action,
			"params":  req.Params,
		}, nil
	})
}

// MockAgent is MockAction for agent nodes.
func MockAgent() capability.Agent {
	return capability.AgentFunc(func(_ context.Context, req capability.AgentRequest) (map[string]any, error) {
		if req.MockOutput != nil {
			return maps.Clone(req.MockOutput), nil
		}

		return map[string]any{
			"dry_run": true,
			"prompt":  req.Prompt,
			"model":   req.Model,
		}, nil
	})
}

// Run walks the whole graph. Wait nodes are recorded as waiting and then continued with
// their dry_run_payload, or {"simulated": true}. sink, when set, receives every step as
// soon as it is recorded.
func (s *Sandbox) Run(ctx context.Context, req Request, sink func(models.ExecutionStep)) (*Result, error) {
	registry := nodes.NewDefaultRegistry(MockAction(), MockAgent(), s.clock)
	stream := recorder.NewStream(s.clock, sink)
	d := dispatcher.New(registry, stream, s.logger)

	run := dispatcher.Run{
		ExecutionID: req.ExecutionID,
		Workflow:    req.Workflow,
		TriggerData: req.TriggerData,
		DryRun:      true,
		Cancelled:   req.Cancelled,
	}

	s.logger.InfoContext(ctx, "dry run started", "execution_id", req.ExecutionID, "workflow_id", req.Workflow.ID)

	var outcome dispatcher.Outcome

	// each wait node can pause at most once on an acyclic graph
	for range len(req.Workflow.Nodes) + 1 {
		var err error

		outcome, err = d.Dispatch(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("dry run %s: %w", req.ExecutionID, err)
		}

		if outcome.Status != models.ExecutionStatusPaused {
			break
		}

		payload := simulatedPayload(req.Workflow.Node(outcome.CurrentNodeID))

		run.StartAt = outcome.CurrentNodeID
		run.Context = outcome.Context
		run.Context[outcome.CurrentNodeID] = payload
		run.Resume = &models.ResumeSignal{EventType: outcome.Wait.EventType, Payload: payload}
	}

	result := &Result{
		ExecutionID: req.ExecutionID,
		WorkflowID:  req.Workflow.ID,
		Status:      outcome.Status,
		ErrorNodeID: outcome.ErrorNodeID,
		NodeResults: stream.Steps(),
		Context:     outcome.Context,
	}

	if outcome.Err != nil {
		result.Error = models.ErrorMessage(outcome.Err)
	}

	s.logger.InfoContext(ctx, "dry run finished",
		"execution_id", req.ExecutionID,
		"status", result.Status,
		"steps", len(result.NodeResults),
	)

	return result, nil
}

func simulatedPayload(node *models.Node) map[string]any {
	if node != nil {
		if payload := node.ConfigMap("dry_run_payload"); payload != nil {
			return maps.Clone(payload)
		}
	}

	return map[string]any{"simulated": true}
}
