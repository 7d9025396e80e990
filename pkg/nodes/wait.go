package nodes

import (
	"context"
	"fmt"
	"maps"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/template"
	"github.com/jonboulle/clockwork"
)

// On-timeout policies of a wait node.
const (
	OnTimeoutFail     = "fail"
	OnTimeoutContinue = "continue"
)

// WaitExecutor suspends the execution on first visit. When re-entered with a resume
// signal it succeeds with the event payload, or applies the on_timeout policy.
type WaitExecutor struct {
	clock clockwork.Clock
}

func NewWaitExecutor(clock clockwork.Clock) *WaitExecutor {
	return &WaitExecutor{clock: clock}
}

func (e *WaitExecutor) Execute(_ context.Context, node *models.Node, in Input) models.NodeResult {
	eventType := node.ConfigString("event_type")
	input := map[string]any{"event_type": eventType}

	if eventType == "" {
		return models.Failure(node, input, configError(node, "wait node has no event_type"))
	}

	if in.Resume != nil {
		return e.resume(node, input, in.Resume)
	}

	timeout, err := node.ConfigDuration("timeout")
	if err != nil {
		return models.Failure(node, input, configError(node, "invalid timeout: %v", err))
	}

	directive := models.WaitDirective{EventType: eventType}

	if timeout > 0 {
		deadline := e.clock.Now().Add(timeout).UTC()
		directive.ResumeAt = &deadline
		input["timeout"] = timeout.String()
	}

	if raw := node.ConfigString("correlation_key"); raw != "" {
		key, err := template.RenderWithScope(raw, in.Scope())
		if err != nil {
			return models.Failure(node, input, err)
		}

		directive.CorrelationKey = stringify(key)
		input["correlation_key"] = directive.CorrelationKey
	}

	return models.Waiting(node, input, directive)
}

func (e *WaitExecutor) resume(node *models.Node, input map[string]any, signal *models.ResumeSignal) models.NodeResult {
	if signal.TimedOut {
		if node.ConfigString("on_timeout") == OnTimeoutContinue {
			return models.Success(node, input, map[string]any{"timed_out": true})
		}

		return models.Failure(node, input, models.NewNodeError(node.ID, models.ErrTimeout,
			fmt.Sprintf("no %s event before deadline", node.ConfigString("event_type"))))
	}

	output := maps.Clone(signal.Payload)
	if output == nil {
		output = map[string]any{}
	}

	return models.Success(node, input, output)
}
