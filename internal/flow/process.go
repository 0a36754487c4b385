// Package flow holds the DSL model shared by the executor, the stores, and
// the trigger layer, plus the per-run execution context.
package flow

import "encoding/json"

// Process is a complete flow definition: one trigger, the nodes, and the
// transitions wiring them together. It is immutable after load.
type Process struct {
	Definition  Definition   `json:"definition"`
	Trigger     Trigger      `json:"trigger"`
	Nodes       []Node       `json:"nodes"`
	Transitions []Transition `json:"transitions"`
}

// Definition carries the flow's identity and execution settings.
type Definition struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Settings    Settings `json:"settings"`
}

// Settings tunes execution behaviour. Timeout is advisory in this iteration.
type Settings struct {
	Persistence   string `json:"persistence"`    // full | minimal | none
	Timeout       int    `json:"timeout"`
	ErrorStrategy string `json:"error_strategy"` // stop_and_rollback | continue | retry
}

// Trigger describes how the flow is started.
// Supported types: cron, rest, soap, rabbitmq, mcp, manual.
type Trigger struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config"`
}

// Node is a single executable step. Type selects the activity handler.
// Supported types: http, sql, sftp, s3, smb, mail, rabbitmq, script, code,
// log, transform, file.
type Node struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Description  string                 `json:"description,omitempty"`
	InputMapping map[string]interface{} `json:"input_mapping,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	SecretRef    string                 `json:"secret_ref,omitempty"`
	Script       string                 `json:"script,omitempty"`
	Next         []string               `json:"next,omitempty"`
	RetryPolicy  *RetryPolicy           `json:"retry_policy,omitempty"`
}

// RetryPolicy bounds re-execution of a failing node. Interval is a Go
// duration string ("2s", "500ms").
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts"`
	Interval    string `json:"interval"`
	Type        string `json:"type"` // fixed | exponential
}

// Transition is a typed edge between nodes. Condition is required when
// Type is "condition" and ignored otherwise.
type Transition struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type"` // success | error | condition | nocondition
	Condition string `json:"condition,omitempty"`
}

// Node statuses recorded in the execution context.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusReplayed = "replayed"
)

// Transition types.
const (
	TransitionSuccess     = "success"
	TransitionError       = "error"
	TransitionCondition   = "condition"
	TransitionNoCondition = "nocondition"
)

// ParseProcess decodes a DSL document. Unknown fields are ignored, matching
// the designer's forward-compatibility contract.
func ParseProcess(data []byte) (*Process, error) {
	var p Process
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
