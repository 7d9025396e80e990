// Package eventbus carries execution lifecycle events out of the engine and external
// events into it.
package eventbus

import (
	"context"

	"github.com/dukex/flowengine/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// topicFor routes inbound events to their own topic so lifecycle consumers never see them.
func topicFor(eventType events.EventType) string {
	if eventType == events.ExternalEventReceivedEvent {
		return events.ExternalTopic
	}

	return events.Topic
}

// newEvent returns an empty value to decode a message of eventType into, or nil if the
// type is unknown.
func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.ExecutionStartedEvent:
		return &events.ExecutionStarted{}
	case events.ExecutionPausedEvent:
		return &events.ExecutionPaused{}
	case events.ExecutionResumedEvent:
		return &events.ExecutionResumed{}
	case events.ExecutionCompletedEvent:
		return &events.ExecutionCompleted{}
	case events.ExecutionFailedEvent:
		return &events.ExecutionFailed{}
	case events.ExecutionCancelledEvent:
		return &events.ExecutionCancelled{}
	case events.StepRecordedEvent:
		return &events.StepRecorded{}
	case events.ExternalEventReceivedEvent:
		return &events.ExternalEventReceived{}
	default:
		return nil
	}
}
