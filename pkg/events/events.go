// Package events defines the execution lifecycle notifications published on the event bus
// and the external events that wake paused executions.
package events

import (
	"time"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	Topic         = "flowengine.events"   // execution lifecycle
	ExternalTopic = "flowengine.external" // inbound events routed to wait nodes
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Step events.
	StepRecordedEvent EventType = "step.recorded"

	// Inbound events.
	ExternalEventReceivedEvent EventType = "external.event"
)

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	TriggerData map[string]any `json:"trigger_data,omitempty"`
	DryRun      bool           `json:"dry_run"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionPaused struct {
	BaseEvent

	NodeID         string     `json:"node_id"`
	WaitEventType  string     `json:"wait_event_type"`
	CorrelationKey string     `json:"correlation_key,omitempty"`
	ResumeAt       *time.Time `json:"resume_at,omitempty"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	NodeID    string `json:"node_id"`
	EventType string `json:"event_type,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type StepRecorded struct {
	BaseEvent

	Step models.ExecutionStep `json:"step"`
}

func (e StepRecorded) GetType() EventType {
	return StepRecordedEvent
}

// ExternalEventReceived asks the engine to resume executions waiting on EventType.
type ExternalEventReceived struct {
	BaseEvent

	EventType      string         `json:"event_type"`
	CorrelationKey string         `json:"correlation_key,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

func (e ExternalEventReceived) GetType() EventType {
	return ExternalEventReceivedEvent
}
