// Package template renders expressions and node configuration against an execution's accumulated context.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Scope is the data visible to an expression: the trigger payload, every earlier node's
// output keyed by node id, and the execution identity.
type Scope struct {
	ExecutionID string
	WorkflowID  string
	TriggerData map[string]any
	Nodes       map[string]any
}

func (s Scope) data() map[string]any {
	return map[string]any{
		"trigger": s.TriggerData,
		"nodes":   s.Nodes,
		"execution": map[string]any{
			"id":          s.ExecutionID,
			"workflow_id": s.WorkflowID,
		},
	}
}

// RenderWithScope renders input with the scope's data.
func RenderWithScope(input string, scope Scope) (any, error) {
	return Render(input, scope.data())
}

// RenderConfig renders every templated string in config, recursing into nested objects and arrays.
// Values without template markers are copied unchanged.
func RenderConfig(config map[string]any, scope Scope) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}

	data := scope.data()

	rendered, err := renderValue(config, data)
	if err != nil {
		return nil, err
	}

	result, _ := rendered.(map[string]any)

	return result, nil
}

func renderValue(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

// NeedsTemplating checks if a string contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// Render executes templateStr against data and coerces the output to a JSON value, number,
// boolean or string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("expression").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
			"gt":     compareWith(func(c int) bool { return c > 0 }),
			"ge":     compareWith(func(c int) bool { return c >= 0 }),
			"lt":     compareWith(func(c int) bool { return c < 0 }),
			"le":     compareWith(func(c int) bool { return c <= 0 }),
			"toJSON": toJSON,
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// Truthy converts a rendered value to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}

// compareWith builds a comparison that is numeric when both operands are numbers,
// lexical when both are strings, and an error otherwise.
func compareWith(accept func(int) bool) func(a, b any) (bool, error) {
	return func(a, b any) (bool, error) {
		c, err := compare(a, b)
		if err != nil {
			return false, err
		}

		return accept(c), nil
	}
}

func compare(a, b any) (int, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	as, aIsString := a.(string)
	bs, bIsString := b.(string)

	if aIsString && bIsString {
		return strings.Compare(as, bs), nil
	}

	return 0, fmt.Errorf("incompatible types for comparison: %T and %T", a, b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

func toJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
