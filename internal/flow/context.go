package flow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// indexedSegment matches a path segment with array indexing, e.g. "items[2]".
var indexedSegment = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// ExecutionContext is the per-run store of the trigger payload and each
// node's {output, status}. It is owned by a single executor invocation and
// must not be shared across runs.
type ExecutionContext struct {
	ExecutionID string                            `json:"execution_id"`
	ProcessID   string                            `json:"process_id"`
	Trigger     map[string]interface{}            `json:"trigger"`
	Nodes       map[string]map[string]interface{} `json:"nodes"`
}

// NewExecutionContext creates an empty context for one run of processID.
func NewExecutionContext(executionID, processID string) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: executionID,
		ProcessID:   processID,
		Trigger:     map[string]interface{}{},
		Nodes:       map[string]map[string]interface{}{},
	}
}

// SetTriggerData stores the trigger payload. Called exactly once, at the
// start of a run.
func (c *ExecutionContext) SetTriggerData(data map[string]interface{}) {
	c.Trigger = data
}

// SetNodeOutput records a node's output map.
func (c *ExecutionContext) SetNodeOutput(nodeID string, output map[string]interface{}) {
	c.nodeEntry(nodeID)["output"] = output
}

// SetNodeStatus records a node's terminal status (success | error | replayed).
func (c *ExecutionContext) SetNodeStatus(nodeID, status string) {
	c.nodeEntry(nodeID)["status"] = status
}

func (c *ExecutionContext) nodeEntry(nodeID string) map[string]interface{} {
	e, ok := c.Nodes[nodeID]
	if !ok {
		e = map[string]interface{}{}
		c.Nodes[nodeID] = e
	}
	return e
}

// GetValue resolves a dotted path against the context. The leading "$." is
// optional; a segment of the form name[i] indexes into an array. The root
// has exactly two keys: "trigger" and "nodes".
//
//	$.trigger.body.email
//	$.nodes.fetch.output.items[0].id
func (c *ExecutionContext) GetValue(path string) (interface{}, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(path, "$."), "$")
	if trimmed == "" {
		return nil, fmt.Errorf("empty path %q", path)
	}

	var current interface{} = map[string]interface{}{
		"trigger": c.Trigger,
		"nodes":   c.nodesAsValue(),
	}

	for _, segment := range strings.Split(trimmed, ".") {
		key := segment
		index := -1
		if m := indexedSegment.FindStringSubmatch(segment); m != nil {
			key = m[1]
			index, _ = strconv.Atoi(m[2])
		}

		container, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path %s: cannot descend into %T at %q", path, current, segment)
		}
		value, ok := container[key]
		if !ok {
			return nil, fmt.Errorf("path %s: key %q not found", path, key)
		}

		if index >= 0 {
			list, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("path %s: %q is not an array (got %T)", path, key, value)
			}
			if index >= len(list) {
				return nil, fmt.Errorf("path %s: index %d out of range for %q (len %d)", path, index, key, len(list))
			}
			current = list[index]
			continue
		}
		current = value
	}

	return current, nil
}

// nodesAsValue widens the typed node map so the generic traversal in GetValue
// only ever sees map[string]interface{}.
func (c *ExecutionContext) nodesAsValue() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Nodes))
	for id, entry := range c.Nodes {
		out[id] = entry
	}
	return out
}

// ResolveInputMapping materialises a node's input: string values starting
// with "$" are resolved as paths, everything else passes through verbatim.
// A single unresolvable path fails the whole mapping.
func (c *ExecutionContext) ResolveInputMapping(mapping map[string]interface{}) (map[string]interface{}, error) {
	input := make(map[string]interface{}, len(mapping))
	for key, raw := range mapping {
		s, isString := raw.(string)
		if !isString || !strings.HasPrefix(s, "$") {
			input[key] = raw
			continue
		}
		resolved, err := c.GetValue(s)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		input[key] = resolved
	}
	return input, nil
}

// ToJSON renders the context for diagnostic output.
func (c *ExecutionContext) ToJSON() (string, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
