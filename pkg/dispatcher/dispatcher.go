// Package dispatcher walks a workflow graph one node at a time, recording a step per
// node visit, until the execution fails, waits, runs out of edges or is cancelled.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/nodes"
	"github.com/dukex/flowengine/pkg/otelhelper"
	"github.com/dukex/flowengine/pkg/recorder"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInterrupted is returned when ctx ends mid-walk. The node in flight is not
// recorded, so a later run starts again from it.
var ErrInterrupted = errors.New("dispatch interrupted")

// NodeExecutor evaluates a single node.
type NodeExecutor interface {
	ExecuteNode(ctx context.Context, node *models.Node, in nodes.Input) models.NodeResult
}

// Checkpoint is the position of a walk after a recorded step.
type Checkpoint struct {
	CurrentNodeID string
	NextNodeID    string
	Context       map[string]any
}

// Run describes one pass over the graph.
type Run struct {
	ExecutionID string
	Workflow    *models.Workflow
	TriggerData map[string]any
	Context     map[string]any
	DryRun      bool

	// StartAt is the first node to evaluate. Empty means the trigger node.
	StartAt string

	// Resume is handed to the first node when it is a wait node being re-entered.
	Resume *models.ResumeSignal

	// Cancelled is polled before every node.
	Cancelled func() bool

	// Checkpoint is called after each recorded step that does not end the walk.
	Checkpoint func(ctx context.Context, cp Checkpoint) error
}

// Outcome is where a walk stopped.
type Outcome struct {
	Status        models.ExecutionStatus
	CurrentNodeID string
	Context       map[string]any
	Wait          *models.WaitDirective
	Err           error
	ErrorNodeID   string
	Steps         []*models.ExecutionStep
}

// Dispatcher evaluates nodes through a NodeExecutor and records each result.
type Dispatcher struct {
	executor NodeExecutor
	recorder recorder.Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
}

// New creates a dispatcher.
func New(executor NodeExecutor, rec recorder.Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		executor: executor,
		recorder: rec,
		tracer:   otelhelper.Tracer("github.com/dukex/flowengine/pkg/dispatcher"),
		logger:   logger.With("module", "dispatcher"),
	}
}

// WithTracer returns a copy of d that opens node spans on tracer.
func (d *Dispatcher) WithTracer(tracer trace.Tracer) *Dispatcher {
	clone := *d
	clone.tracer = tracer

	return &clone
}

// Dispatch walks run.Workflow from run.StartAt. Node failures, waits and cancellation are
// reported in the Outcome; the error is reserved for step recording failures and ErrInterrupted.
func (d *Dispatcher) Dispatch(ctx context.Context, run Run) (Outcome, error) {
	wf := run.Workflow

	accumulated := maps.Clone(run.Context)
	if accumulated == nil {
		accumulated = make(map[string]any)
	}

	outcome := Outcome{Context: accumulated}

	nodeID := run.StartAt
	if nodeID == "" {
		trigger := wf.TriggerNode()
		if trigger == nil {
			return outcome, models.NewNodeError("", models.ErrInvalidGraph, "workflow has no trigger node")
		}

		nodeID = trigger.ID
	}

	resume := run.Resume

	logger := d.logger.With("execution_id", run.ExecutionID, "workflow_id", wf.ID)

	for {
		outcome.CurrentNodeID = nodeID

		if run.Cancelled != nil && run.Cancelled() {
			logger.InfoContext(ctx, "cancellation observed at node boundary", "node_id", nodeID)

			outcome.Status = models.ExecutionStatusCancelled

			return outcome, nil
		}

		if ctx.Err() != nil {
			return outcome, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}

		node := wf.Node(nodeID)
		if node == nil {
			missing := &models.Node{ID: nodeID}
			result := models.Failure(missing, nil, models.NewNodeError(nodeID, models.ErrConfiguration, "node not found in workflow"))

			step, err := d.recorder.Record(ctx, run.ExecutionID, result)
			if err != nil {
				return outcome, err
			}

			outcome.Steps = append(outcome.Steps, step)

			return failed(outcome, result), nil
		}

		in := nodes.Input{
			ExecutionID: run.ExecutionID,
			Workflow:    wf,
			TriggerData: run.TriggerData,
			Context:     accumulated,
			DryRun:      run.DryRun,
		}

		if node.Type == models.NodeTypeWait {
			in.Resume = resume
		}

		resume = nil

		result := d.execute(ctx, node, in, run)

		if ctx.Err() != nil {
			logger.WarnContext(ctx, "node interrupted, leaving it for recovery", "node_id", node.ID)

			return outcome, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}

		step, err := d.recorder.Record(ctx, run.ExecutionID, result)
		if err != nil {
			return outcome, err
		}

		outcome.Steps = append(outcome.Steps, step)

		switch result.Status {
		case models.StepStatusFailed:
			logger.InfoContext(ctx, "node failed", "node_id", node.ID, "node_type", node.Type, "error", result.Error)

			return failed(outcome, result), nil
		case models.StepStatusWaiting:
			logger.InfoContext(ctx, "node waiting", "node_id", node.ID, "event_type", result.Wait.EventType)

			outcome.Status = models.ExecutionStatusPaused
			outcome.Wait = result.Wait

			return outcome, nil
		}

		accumulated[node.ID] = result.Output

		next, err := nextNode(wf, node, result)
		if err != nil {
			outcome.Status = models.ExecutionStatusFailed
			outcome.Err = err
			outcome.ErrorNodeID = node.ID

			return outcome, nil
		}

		if next == "" {
			logger.InfoContext(ctx, "reached terminal node", "node_id", node.ID)

			outcome.Status = models.ExecutionStatusCompleted

			return outcome, nil
		}

		if run.Checkpoint != nil {
			err := run.Checkpoint(ctx, Checkpoint{CurrentNodeID: node.ID, NextNodeID: next, Context: maps.Clone(accumulated)})
			if err != nil {
				return outcome, fmt.Errorf("failed to checkpoint after node %s: %w", node.ID, err)
			}
		}

		nodeID = next
	}
}

func (d *Dispatcher) execute(ctx context.Context, node *models.Node, in nodes.Input, run Run) models.NodeResult {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "node."+string(node.Type),
		attribute.String(otelhelper.ExecutionIDKey, run.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, run.Workflow.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
		attribute.Bool(otelhelper.DryRunKey, run.DryRun),
	)
	defer span.End()

	result := d.executor.ExecuteNode(ctx, node, in)

	span.SetAttributes(attribute.String(otelhelper.StepStatusKey, string(result.Status)))

	if result.Status == models.StepStatusFailed {
		otelhelper.SetError(span, result.Err, attribute.String(otelhelper.NodeIDKey, node.ID))
	}

	return result
}

func failed(outcome Outcome, result models.NodeResult) Outcome {
	outcome.Status = models.ExecutionStatusFailed
	outcome.Err = result.Err
	outcome.ErrorNodeID = result.NodeID

	return outcome
}

// nextNode follows the single outgoing edge, or the edge a branch selected. An empty
// id means the walk is complete.
func nextNode(wf *models.Workflow, node *models.Node, result models.NodeResult) (string, error) {
	outgoing := wf.Outgoing(node.ID)

	if node.Type == models.NodeTypeBranch {
		if result.SelectedBranch == nil {
			return "", models.NewNodeError(node.ID, models.ErrConfiguration, "branch selected no label")
		}

		for _, edge := range outgoing {
			if edge.BranchLabel == *result.SelectedBranch {
				return edge.To, nil
			}
		}

		return "", models.NewNodeError(node.ID, models.ErrConfiguration,
			fmt.Sprintf("no outgoing edge labeled %q", *result.SelectedBranch))
	}

	switch len(outgoing) {
	case 0:
		return "", nil
	case 1:
		return outgoing[0].To, nil
	default:
		return "", models.NewNodeError(node.ID, models.ErrConfiguration, "only branch nodes may have more than one outgoing edge")
	}
}
