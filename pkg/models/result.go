package models

import (
	"errors"
	"time"
)

// NodeResult is what a node executor produces for a single node visit.
type NodeResult struct {
	NodeID          string         `json:"node_id"`
	NodeType        NodeType       `json:"node_type"`
	Status          StepStatus     `json:"status"`
	Input           map[string]any `json:"input,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	ConditionResult *bool          `json:"condition_result,omitempty"`
	SelectedBranch  *string        `json:"selected_branch,omitempty"`
	Wait            *WaitDirective `json:"wait,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	Duration        time.Duration  `json:"duration"`
	ExecutedAt      time.Time      `json:"executed_at"`

	Err error `json:"-"`
}

// WaitDirective tells the scheduler to park the execution until EventType arrives or ResumeAt elapses.
type WaitDirective struct {
	EventType      string     `json:"event_type"`
	ResumeAt       *time.Time `json:"resume_at,omitempty"`
	CorrelationKey string     `json:"correlation_key,omitempty"`
}

// Success builds a successful result.
func Success(node *Node, input, output map[string]any) NodeResult {
	return NodeResult{
		NodeID:   node.ID,
		NodeType: node.Type,
		Status:   StepStatusSuccess,
		Input:    input,
		Output:   output,
	}
}

// Failure builds a failed result. err should wrap one of the taxonomy sentinels.
func Failure(node *Node, input map[string]any, err error) NodeResult {
	nodeErr := &NodeError{}
	if !errors.As(err, &nodeErr) {
		nodeErr = NewNodeError(node.ID, ErrNodeExecution, err.Error())
	}

	return NodeResult{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Status:    StepStatusFailed,
		Input:     input,
		Error:     nodeErr.Message,
		ErrorKind: nodeErr.KindName(),
		Err:       nodeErr,
	}
}

// Waiting builds a result that suspends the execution.
func Waiting(node *Node, input map[string]any, directive WaitDirective) NodeResult {
	return NodeResult{
		NodeID:   node.ID,
		NodeType: node.Type,
		Status:   StepStatusWaiting,
		Input:    input,
		Wait:     &directive,
	}
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
