package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by the definition store, dispatcher and scheduler.
var (
	// ErrInvalidGraph indicates a workflow definition failed validation.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrInvalidState indicates an operation is not valid for the execution's current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrNodeExecution indicates a node's capability call failed.
	ErrNodeExecution = errors.New("node execution error")

	// ErrTimeout indicates a node or wait deadline was exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrConfiguration indicates a node is misconfigured, e.g. a branch label without a matching edge.
	ErrConfiguration = errors.New("configuration error")
)

// Violation is one problem found while validating a workflow definition.
type Violation struct {
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	message := v.Message
	if v.Field != "" {
		message = v.Field + ": " + message
	}

	if v.NodeID != "" {
		return fmt.Sprintf("node %s: %s", v.NodeID, message)
	}

	return message
}

// InvalidGraphError lists every violation found in a definition.
type InvalidGraphError struct {
	WorkflowID string
	Violations []Violation
}

func (e *InvalidGraphError) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, v.String())
	}

	return fmt.Sprintf("invalid graph for workflow %s: %s", e.WorkflowID, strings.Join(messages, "; "))
}

func (e *InvalidGraphError) Unwrap() error {
	return ErrInvalidGraph
}

// StateError is returned synchronously when a scheduler operation does not fit the execution status.
type StateError struct {
	Op          string
	ExecutionID string
	Status      ExecutionStatus
	Message     string
}

func (e *StateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s execution %s: %s", e.Op, e.ExecutionID, e.Message)
	}

	return fmt.Sprintf("%s execution %s: not allowed while %s", e.Op, e.ExecutionID, e.Status)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// NewStateError creates a state error for op against an execution in status.
func NewStateError(op, executionID string, status ExecutionStatus) *StateError {
	return &StateError{Op: op, ExecutionID: executionID, Status: status}
}

// NodeError attributes a failure to exactly one node.
type NodeError struct {
	NodeID  string
	Kind    error
	Message string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v: %s", e.NodeID, e.Kind, e.Message)
}

func (e *NodeError) Unwrap() error {
	return e.Kind
}

// KindName returns the taxonomy name used in step records.
func (e *NodeError) KindName() string {
	switch {
	case errors.Is(e.Kind, ErrTimeout):
		return "Timeout"
	case errors.Is(e.Kind, ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(e.Kind, ErrInvalidGraph):
		return "InvalidGraph"
	default:
		return "NodeExecutionError"
	}
}

// NewNodeError creates an error of the given kind for nodeID.
func NewNodeError(nodeID string, kind error, message string) *NodeError {
	return &NodeError{NodeID: nodeID, Kind: kind, Message: message}
}

// IsInvalidGraph checks if an error indicates a definition failed validation.
func IsInvalidGraph(err error) bool {
	return errors.Is(err, ErrInvalidGraph)
}

// IsInvalidState checks if an error indicates an operation was rejected for the current status.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// ErrorMessage returns the human-readable part of err. Node errors drop their node and kind prefix.
func ErrorMessage(err error) string {
	nodeErr := &NodeError{}
	if errors.As(err, &nodeErr) {
		return nodeErr.Message
	}

	return err.Error()
}
