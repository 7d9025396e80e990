package models

import "time"

// StepStatus defines the possible states of a recorded node execution.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusWaiting StepStatus = "waiting"
)

// ExecutionStep is the immutable record of one node visit.
type ExecutionStep struct {
	ID              string         `json:"id"`
	ExecutionID     string         `json:"execution_id"`
	NodeID          string         `json:"node_id"`
	NodeType        NodeType       `json:"node_type"`
	Status          StepStatus     `json:"status"`
	Input           map[string]any `json:"input,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	ConditionResult *bool          `json:"condition_result,omitempty"`
	SelectedBranch  *string        `json:"selected_branch,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	Duration        time.Duration  `json:"duration"`
	ExecutedAt      time.Time      `json:"executed_at"`
}

// StepFromResult turns a node result into a step record. ID and ExecutedAt are assigned by the recorder.
func StepFromResult(executionID string, result NodeResult) *ExecutionStep {
	return &ExecutionStep{
		ExecutionID:     executionID,
		NodeID:          result.NodeID,
		NodeType:        result.NodeType,
		Status:          result.Status,
		Input:           result.Input,
		Output:          result.Output,
		ConditionResult: result.ConditionResult,
		SelectedBranch:  result.SelectedBranch,
		Error:           result.Error,
		ErrorKind:       result.ErrorKind,
		Duration:        result.Duration,
	}
}
