package definition

import (
	"fmt"
	"sort"

	"github.com/dukex/flowengine/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

var timeoutProperty = map[string]any{"type": "string", "pattern": durationPattern}

// configSchemas holds the JSON schema each node kind's config must satisfy.
var configSchemas = map[models.NodeType]map[string]any{
	models.NodeTypeTrigger: {
		"type": "object",
	},
	models.NodeTypeAction: {
		"type":     "object",
		"required": []any{"action"},
		"properties": map[string]any{
			"action":      map[string]any{"type": "string", "minLength": 1},
			"params":      map[string]any{"type": "object"},
			"timeout":     timeoutProperty,
			"mock_output": map[string]any{"type": "object"},
		},
	},
	models.NodeTypeCondition: {
		"type":     "object",
		"required": []any{"expression"},
		"properties": map[string]any{
			"expression": map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.NodeTypeBranch: {
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{"type": "string", "minLength": 1},
			"source":     map[string]any{"type": "string", "minLength": 1},
			"cases": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string", "minLength": 1},
			},
		},
	},
	models.NodeTypeWait: {
		"type":     "object",
		"required": []any{"event_type"},
		"properties": map[string]any{
			"event_type":      map[string]any{"type": "string", "minLength": 1},
			"timeout":         timeoutProperty,
			"correlation_key": map[string]any{"type": "string"},
			"on_timeout":      map[string]any{"type": "string", "enum": []any{"fail", "continue"}},
			"dry_run_payload": map[string]any{"type": "object"},
		},
	},
	models.NodeTypeAgent: {
		"type":     "object",
		"required": []any{"prompt"},
		"properties": map[string]any{
			"prompt":      map[string]any{"type": "string", "minLength": 1},
			"model":       map[string]any{"type": "string"},
			"params":      map[string]any{"type": "object"},
			"timeout":     timeoutProperty,
			"mock_output": map[string]any{"type": "object"},
		},
	},
}

func compileSchemas() (map[models.NodeType]*gojsonschema.Schema, error) {
	compiled := make(map[models.NodeType]*gojsonschema.Schema, len(configSchemas))

	for nodeType, schema := range configSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s config schema: %w", nodeType, err)
		}

		compiled[nodeType] = s
	}

	return compiled, nil
}

// ConfigSchema returns the JSON schema for a node kind's config, or nil for unknown kinds.
func ConfigSchema(nodeType models.NodeType) map[string]any {
	return configSchemas[nodeType]
}

func checkConfig(schema *gojsonschema.Schema, node *models.Node) ([]models.Violation, error) {
	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return nil, fmt.Errorf("failed to validate config of node %s: %w", node.ID, err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]models.Violation, 0, len(result.Errors()))

	for _, resultErr := range result.Errors() {
		field := "config"
		if resultErr.Field() != "(root)" {
			field = "config." + resultErr.Field()
		}

		violations = append(violations, models.Violation{
			NodeID:  node.ID,
			Field:   field,
			Message: resultErr.Description(),
		})
	}

	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Field < violations[j].Field
	})

	return violations, nil
}
