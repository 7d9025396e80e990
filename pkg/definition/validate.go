// Package definition validates and stores workflow graphs.
package definition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult lists every violation found in a definition.
type ValidationResult struct {
	Valid      bool               `json:"valid"`
	Violations []models.Violation `json:"violations"`
}

// Err returns an *models.InvalidGraphError for an invalid result, or nil.
func (r ValidationResult) Err(workflowID string) error {
	if r.Valid {
		return nil
	}

	return &models.InvalidGraphError{WorkflowID: workflowID, Violations: r.Violations}
}

// Validator checks workflow structure, graph shape and per-kind node config.
type Validator struct {
	validate *validator.Validate
	schemas  map[models.NodeType]*gojsonschema.Schema
}

// NewValidator compiles the node config schemas.
func NewValidator() (*Validator, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		schemas:  schemas,
	}, nil
}

// Validate collects every violation in workflow rather than stopping at the first.
func (v *Validator) Validate(workflow *models.Workflow) ValidationResult {
	if workflow == nil {
		return ValidationResult{Violations: []models.Violation{{Message: "workflow is required"}}}
	}

	c := &collector{}

	v.checkStruct(c, workflow)

	nodes := indexNodes(c, workflow)

	checkTrigger(c, workflow)
	checkEdges(c, workflow, nodes)
	checkOutgoing(c, workflow, nodes)
	checkAcyclic(c, workflow, nodes)
	checkReachable(c, workflow, nodes)
	v.checkConfigs(c, workflow, nodes)

	return ValidationResult{Valid: len(c.violations) == 0, Violations: c.violations}
}

type collector struct {
	violations []models.Violation
}

func (c *collector) add(nodeID, field, format string, args ...any) {
	c.violations = append(c.violations, models.Violation{
		NodeID:  nodeID,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *Validator) checkStruct(c *collector, workflow *models.Workflow) {
	err := v.validate.Struct(workflow)
	if err == nil {
		return
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		c.add("", "", "%v", err)

		return
	}

	for _, fieldErr := range validationErrors {
		field := strings.TrimPrefix(fieldErr.Namespace(), "Workflow.")

		if fieldErr.Param() != "" {
			c.add("", field, "failed %s=%s validation", fieldErr.Tag(), fieldErr.Param())
		} else {
			c.add("", field, "failed %s validation", fieldErr.Tag())
		}
	}
}

func indexNodes(c *collector, workflow *models.Workflow) map[string]*models.Node {
	nodes := make(map[string]*models.Node, len(workflow.Nodes))

	for i, node := range workflow.Nodes {
		if node == nil {
			c.add("", fmt.Sprintf("Nodes[%d]", i), "node is null")

			continue
		}

		if node.ID == "" {
			continue
		}

		if _, exists := nodes[node.ID]; exists {
			c.add(node.ID, "", "duplicate node id")

			continue
		}

		nodes[node.ID] = node
	}

	return nodes
}

func checkTrigger(c *collector, workflow *models.Workflow) {
	var triggers []string

	for _, node := range workflow.Nodes {
		if node != nil && node.Type == models.NodeTypeTrigger {
			triggers = append(triggers, node.ID)
		}
	}

	switch len(triggers) {
	case 0:
		c.add("", "nodes", "workflow must have exactly one trigger node, found none")
	case 1:
	default:
		c.add("", "nodes", "workflow must have exactly one trigger node, found %d: %s", len(triggers), strings.Join(triggers, ", "))
	}
}

func checkEdges(c *collector, workflow *models.Workflow, nodes map[string]*models.Node) {
	for i, edge := range workflow.Edges {
		if edge == nil {
			c.add("", fmt.Sprintf("Edges[%d]", i), "edge is null")

			continue
		}

		if _, ok := nodes[edge.From]; edge.From != "" && !ok {
			c.add("", fmt.Sprintf("Edges[%d].from", i), "edge references unknown node %q", edge.From)
		}

		if _, ok := nodes[edge.To]; edge.To != "" && !ok {
			c.add("", fmt.Sprintf("Edges[%d].to", i), "edge references unknown node %q", edge.To)
		}

		if target, ok := nodes[edge.To]; ok && target.Type == models.NodeTypeTrigger {
			c.add(edge.To, "", "trigger node cannot have incoming edges")
		}
	}
}

// checkOutgoing enforces that only branch nodes fan out, and that they do so through
// uniquely labeled edges.
func checkOutgoing(c *collector, workflow *models.Workflow, nodes map[string]*models.Node) {
	for _, node := range workflow.Nodes {
		if node == nil || nodes[node.ID] != node {
			continue
		}

		outgoing := workflow.Outgoing(node.ID)

		if node.Type != models.NodeTypeBranch {
			if len(outgoing) > 1 {
				c.add(node.ID, "edges", "only branch nodes may have more than one outgoing edge, found %d", len(outgoing))
			}

			for _, edge := range outgoing {
				if edge.BranchLabel != "" {
					c.add(node.ID, "edges", "edge to %q has branch label %q but %s nodes do not branch", edge.To, edge.BranchLabel, node.Type)
				}
			}

			continue
		}

		if len(outgoing) == 0 {
			c.add(node.ID, "edges", "branch node has no outgoing edges")
		}

		labels := make(map[string]string, len(outgoing))

		for _, edge := range outgoing {
			if edge.BranchLabel == "" {
				c.add(node.ID, "edges", "edge to %q from branch node must be labeled", edge.To)

				continue
			}

			if previous, dup := labels[edge.BranchLabel]; dup {
				c.add(node.ID, "edges", "branch label %q used by edges to %q and %q", edge.BranchLabel, previous, edge.To)

				continue
			}

			labels[edge.BranchLabel] = edge.To
		}
	}
}

func checkAcyclic(c *collector, workflow *models.Workflow, nodes map[string]*models.Node) {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(nodes))
	reported := make(map[string]bool)

	var path []string

	var visit func(id string)
	visit = func(id string) {
		state[id] = visiting
		path = append(path, id)

		for _, edge := range workflow.Outgoing(id) {
			if _, ok := nodes[edge.To]; !ok {
				continue
			}

			switch state[edge.To] {
			case visiting:
				start := 0
				for i, p := range path {
					if p == edge.To {
						start = i

						break
					}
				}

				cycle := append(append([]string{}, path[start:]...), edge.To)
				if !reported[edge.To] {
					reported[edge.To] = true

					c.add(edge.To, "edges", "cycle detected: %s", strings.Join(cycle, " -> "))
				}
			case unvisited:
				visit(edge.To)
			}
		}

		path = path[:len(path)-1]
		state[id] = done
	}

	for _, node := range workflow.Nodes {
		if node == nil || nodes[node.ID] != node {
			continue
		}

		if state[node.ID] == unvisited {
			visit(node.ID)
		}
	}
}

func checkReachable(c *collector, workflow *models.Workflow, nodes map[string]*models.Node) {
	trigger := workflow.TriggerNode()
	if trigger == nil {
		return
	}

	reached := map[string]bool{trigger.ID: true}
	queue := []string{trigger.ID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, edge := range workflow.Outgoing(id) {
			if _, ok := nodes[edge.To]; ok && !reached[edge.To] {
				reached[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}

	for _, node := range workflow.Nodes {
		if node == nil || nodes[node.ID] != node || node.ID == "" {
			continue
		}

		if !reached[node.ID] && node.Type != models.NodeTypeTrigger {
			c.add(node.ID, "", "node is not reachable from trigger %q", trigger.ID)
		}
	}
}

func (v *Validator) checkConfigs(c *collector, workflow *models.Workflow, nodes map[string]*models.Node) {
	for _, node := range workflow.Nodes {
		if node == nil || nodes[node.ID] != node {
			continue
		}

		schema, ok := v.schemas[node.Type]
		if !ok {
			continue
		}

		violations, err := checkConfig(schema, node)
		if err != nil {
			c.add(node.ID, "config", "%v", err)

			continue
		}

		c.violations = append(c.violations, violations...)

		if len(violations) > 0 {
			continue
		}

		if node.Type == models.NodeTypeBranch {
			checkBranchSource(c, workflow, node, nodes)
		}
	}
}

// checkBranchSource requires a branch to know where its label comes from: an expression,
// an explicit source node, or an incoming edge from a condition node.
func checkBranchSource(c *collector, workflow *models.Workflow, node *models.Node, nodes map[string]*models.Node) {
	if node.ConfigString("expression") != "" {
		return
	}

	if source := node.ConfigString("source"); source != "" {
		if _, ok := nodes[source]; !ok {
			c.add(node.ID, "config.source", "source references unknown node %q", source)
		}

		return
	}

	for _, edge := range workflow.Incoming(node.ID) {
		if pred, ok := nodes[edge.From]; ok && pred.Type == models.NodeTypeCondition {
			return
		}
	}

	c.add(node.ID, "config", "branch node needs an expression, a source, or an incoming edge from a condition node")
}
