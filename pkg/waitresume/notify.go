package waitresume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowengine/pkg/eventbus"
	"github.com/dukex/flowengine/pkg/events"
	"github.com/dukex/flowengine/pkg/models"
	"github.com/dukex/flowengine/pkg/persistence"
)

// Resumer wakes one paused execution.
type Resumer interface {
	Resume(ctx context.Context, executionID, eventType string, payload map[string]any) (*models.Execution, error)
}

// Notifier routes external events to the executions waiting for them.
type Notifier struct {
	index   Index
	resumer Resumer
	logger  *slog.Logger
}

func NewNotifier(index Index, resumer Resumer, logger *slog.Logger) *Notifier {
	return &Notifier{
		index:   index,
		resumer: resumer,
		logger:  logger.With("module", "wait_resume"),
	}
}

// Notify resumes every paused execution waiting on eventType whose correlation key
// matches. It returns the ids of the executions it resumed. Executions that stopped
// waiting in the meantime are skipped.
func (n *Notifier) Notify(ctx context.Context, eventType, correlationKey string, payload map[string]any) ([]string, error) {
	candidates, err := n.index.Find(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to look up waiters for %s: %w", eventType, err)
	}

	resumed := make([]string, 0, len(candidates))

	var errs []error

	for _, entry := range candidates {
		if !entry.Matches(eventType, correlationKey) {
			continue
		}

		_, err := n.resumer.Resume(ctx, entry.ExecutionID, eventType, payload)

		switch {
		case err == nil:
			resumed = append(resumed, entry.ExecutionID)
		case models.IsInvalidState(err), persistence.IsExecutionNotFound(err):
			n.logger.DebugContext(ctx, "dropping stale waiter",
				"execution_id", entry.ExecutionID,
				"event_type", eventType,
				"reason", err.Error(),
			)

			_ = n.index.Remove(ctx, entry.ExecutionID)
		default:
			errs = append(errs, fmt.Errorf("resume %s: %w", entry.ExecutionID, err))
		}
	}

	n.logger.InfoContext(ctx, "event delivered",
		"event_type", eventType,
		"correlation_key", correlationKey,
		"resumed", len(resumed),
	)

	return resumed, errors.Join(errs...)
}

// Subscribe routes external.event messages from the bus to Notify.
func (n *Notifier) Subscribe(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.ExternalEventReceivedEvent, func(ctx context.Context, event any) error {
		received, ok := event.(*events.ExternalEventReceived)
		if !ok {
			n.logger.ErrorContext(ctx, "unexpected payload for external event", "type", fmt.Sprintf("%T", event))

			return nil
		}

		_, err := n.Notify(ctx, received.EventType, received.CorrelationKey, received.Payload)

		return err
	})
}
