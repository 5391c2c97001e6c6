package mcp

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// toolHandler runs one tool. A returned error is a domain failure and is
// rendered as tool output, never as a JSON-RPC error.
type toolHandler func(ctx context.Context, args arguments) (string, error)

type tool struct {
	definition toolDefinition
	handle     toolHandler
	// permission is the Graph application permission named when the
	// directory answers 401/403.
	permission string
}

type toolset struct {
	ordered []tool
	byName  map[string]tool
}

func newToolset(tools ...tool) *toolset {
	ts := &toolset{byName: make(map[string]tool, len(tools))}
	for _, t := range tools {
		ts.ordered = append(ts.ordered, t)
		ts.byName[t.definition.Name] = t
	}
	return ts
}

func (ts *toolset) lookup(name string) (tool, bool) {
	t, ok := ts.byName[name]
	return t, ok
}

func (ts *toolset) definitions() []toolDefinition {
	defs := make([]toolDefinition, 0, len(ts.ordered))
	for _, t := range ts.ordered {
		defs = append(defs, t.definition)
	}
	return defs
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// arguments wraps the tools/call "arguments" object.
type arguments map[string]interface{}

type argumentError struct {
	field string
}

func (e *argumentError) Error() string {
	return fmt.Sprintf("%s is required", e.field)
}

func (a arguments) has(name string) bool {
	_, ok := a[name]
	return ok
}

// optionalString returns the argument and whether it was supplied at all.
// Non-string values are rendered with %v.
func (a arguments) optionalString(name string) (string, bool) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

func (a arguments) requiredString(name string) (string, error) {
	s, ok := a.optionalString(name)
	if !ok || strings.TrimSpace(s) == "" {
		return "", &argumentError{field: name}
	}
	return s, nil
}

// optionalInt accepts JSON numbers and numeric strings.
func (a arguments) optionalInt(name string, def int) (int, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		return int(n), nil
	case int:
		return n, nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("%s must be an integer", name)
	}
}
