package activity

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// ScriptHandler implements the `script` node type (also registered under the
// legacy names "code" and "script_ts"). The script runs in a throw-away
// JavaScript VM with the resolved input bound as `input` and a cooperative
// interrupt after timeout_ms (default 5000).
type ScriptHandler struct{}

func (h *ScriptHandler) Name() string { return "script" }

func (h *ScriptHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	source, ok := config["script"].(string)
	if !ok || source == "" {
		return nil, fmt.Errorf("script activity: missing or empty 'script' in config")
	}

	timeoutMs := 5000
	switch v := config["timeout_ms"].(type) {
	case int:
		timeoutMs = v
	case float64:
		timeoutMs = int(v)
	}

	vm := goja.New()
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("script activity: bind input: %w", err)
	}

	watchdog := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		vm.Interrupt("timeout")
	})
	defer watchdog.Stop()

	value, err := vm.RunString(source)
	if err != nil {
		return nil, fmt.Errorf("script activity: %w", err)
	}

	// Export rules: a map comes back as-is, null/undefined becomes an empty
	// map, anything else is wrapped under "result".
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return map[string]interface{}{}, nil
	}
	switch v := value.Export().(type) {
	case map[string]interface{}:
		return v, nil
	case nil:
		return map[string]interface{}{}, nil
	default:
		return map[string]interface{}{"result": v}, nil
	}
}
