// Package models defines the core domain models for graph-based workflow execution.
package models

import "time"

// NodeType identifies the kind of work a node performs.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeAction    NodeType = "action"
	NodeTypeCondition NodeType = "condition"
	NodeTypeBranch    NodeType = "branch"
	NodeTypeWait      NodeType = "wait"
	NodeTypeAgent     NodeType = "agent"
)

// NodeTypes lists every node kind the engine knows about.
var NodeTypes = []NodeType{
	NodeTypeTrigger,
	NodeTypeAction,
	NodeTypeCondition,
	NodeTypeBranch,
	NodeTypeWait,
	NodeTypeAgent,
}

// Valid reports whether t is a known node kind.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if known == t {
			return true
		}
	}

	return false
}

// Workflow is a validated node/edge graph. Nodes keep their authored order.
type Workflow struct {
	ID          string         `json:"id"                    yaml:"id"                    validate:"required"`
	Name        string         `json:"name"                  yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []*Node        `json:"nodes"                 yaml:"nodes"                 validate:"required,min=1,dive"`
	Edges       []*Edge        `json:"edges"                 yaml:"edges"                 validate:"dive"`
	Metadata    map[string]any `json:"metadata,omitempty"    yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"            yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at"            yaml:"-"`
}

// Node is one unit of work in a workflow graph.
type Node struct {
	ID     string         `json:"id"               yaml:"id"               validate:"required"`
	Type   NodeType       `json:"type"             yaml:"type"             validate:"required,oneof=trigger action condition branch wait agent"`
	Name   string         `json:"name,omitempty"   yaml:"name,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge connects two nodes. BranchLabel is only meaningful on edges leaving a branch node.
type Edge struct {
	From        string `json:"from"                   yaml:"from"                   validate:"required"`
	To          string `json:"to"                     yaml:"to"                     validate:"required"`
	BranchLabel string `json:"branch_label,omitempty" yaml:"branch_label,omitempty"`
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	for _, node := range w.Nodes {
		if node != nil && node.ID == id {
			return node
		}
	}

	return nil
}

// TriggerNode returns the first trigger node of the graph, or nil.
func (w *Workflow) TriggerNode() *Node {
	for _, node := range w.Nodes {
		if node != nil && node.Type == NodeTypeTrigger {
			return node
		}
	}

	return nil
}

// Outgoing returns the edges leaving nodeID in authored order.
func (w *Workflow) Outgoing(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range w.Edges {
		if edge != nil && edge.From == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Incoming returns the edges entering nodeID in authored order.
func (w *Workflow) Incoming(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range w.Edges {
		if edge != nil && edge.To == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// ConfigString returns a string config value, or "" when absent or not a string.
func (n *Node) ConfigString(key string) string {
	if n.Config == nil {
		return ""
	}

	value, _ := n.Config[key].(string)

	return value
}

// ConfigMap returns a nested object config value, or nil.
func (n *Node) ConfigMap(key string) map[string]any {
	if n.Config == nil {
		return nil
	}

	value, _ := n.Config[key].(map[string]any)

	return value
}

// ConfigDuration parses a Go duration string config value. Missing values yield zero.
func (n *Node) ConfigDuration(key string) (time.Duration, error) {
	raw := n.ConfigString(key)
	if raw == "" {
		return 0, nil
	}

	return time.ParseDuration(raw)
}
