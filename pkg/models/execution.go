package models

import (
	"maps"
	"slices"
	"time"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Cancellable reports whether cancel is permitted from s.
func (s ExecutionStatus) Cancellable() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusRunning || s == ExecutionStatusPaused
}

// Execution is one run of a workflow against one triggering record.
type Execution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id,omitempty"`
	NextNodeID    string          `json:"next_node_id,omitempty"`
	Context       map[string]any  `json:"context"`
	TriggerData   map[string]any  `json:"trigger_data"`
	IsDryRun      bool            `json:"is_dry_run"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorNodeID   string          `json:"error_node_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`

	// Only set while paused.
	ResumeAt       *time.Time `json:"resume_at,omitempty"`
	WaitEventType  string     `json:"wait_event_type,omitempty"`
	CorrelationKey string     `json:"correlation_key,omitempty"`

	// Resume holds an accepted resume signal until a worker consumes it.
	Resume          *ResumeSignal `json:"resume,omitempty"`
	CancelRequested bool          `json:"cancel_requested,omitempty"`
}

// ResumeSignal carries what woke a paused execution.
type ResumeSignal struct {
	EventType string         `json:"event_type,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	TimedOut  bool           `json:"timed_out,omitempty"`
}

// Clone returns a copy that does not share maps with e.
func (e *Execution) Clone() *Execution {
	clone := *e
	clone.Context = maps.Clone(e.Context)
	clone.TriggerData = maps.Clone(e.TriggerData)

	if e.Resume != nil {
		signal := *e.Resume
		signal.Payload = maps.Clone(e.Resume.Payload)
		clone.Resume = &signal
	}

	return &clone
}

// ClearWait drops the pause-only attributes.
func (e *Execution) ClearWait() {
	e.ResumeAt = nil
	e.WaitEventType = ""
	e.CorrelationKey = ""
}

// ExecutionSummary is the listing view of an execution.
type ExecutionSummary struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	IsDryRun    bool            `json:"is_dry_run"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Summary returns the listing view of e.
func (e *Execution) Summary() ExecutionSummary {
	return ExecutionSummary{
		ID:          e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      e.Status,
		IsDryRun:    e.IsDryRun,
		CreatedAt:   e.CreatedAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		Error:       e.Error,
	}
}

// RebuildContext replays step outputs in executed_at order. The trigger node maps to the
// trigger data; every later successful step overwrites the entry for its node.
func RebuildContext(triggerNodeID string, triggerData map[string]any, steps []*ExecutionStep) map[string]any {
	ordered := slices.Clone(steps)
	slices.SortStableFunc(ordered, func(a, b *ExecutionStep) int {
		return a.ExecutedAt.Compare(b.ExecutedAt)
	})

	rebuilt := make(map[string]any, len(ordered)+1)
	if triggerNodeID != "" {
		rebuilt[triggerNodeID] = maps.Clone(triggerData)
	}

	for _, step := range ordered {
		if step.Status != StepStatusSuccess {
			continue
		}

		rebuilt[step.NodeID] = maps.Clone(step.Output)
	}

	return rebuilt
}
