package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/internal/flow"
)

func execScript(t *testing.T, input map[string]interface{}, source string, extra map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	config := map[string]interface{}{"script": source}
	for k, v := range extra {
		config[k] = v
	}
	h := &ScriptHandler{}
	return h.Execute(input, config, flow.NewExecutionContext("e", "p"))
}

func TestScriptReturnsObject(t *testing.T) {
	output, err := execScript(t, nil, `({total: 1 + 2, ok: true})`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), output["total"])
	assert.Equal(t, true, output["ok"])
}

func TestScriptScalarWrappedUnderResult(t *testing.T) {
	output, err := execScript(t, nil, `21 * 2`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), output["result"])
}

func TestScriptNullBecomesEmptyMap(t *testing.T) {
	output, err := execScript(t, nil, `null`, nil)
	require.NoError(t, err)
	assert.Empty(t, output)

	output, err = execScript(t, nil, `undefined`, nil)
	require.NoError(t, err)
	assert.Empty(t, output)
}

func TestScriptReadsInput(t *testing.T) {
	input := map[string]interface{}{"amount": float64(10), "factor": float64(3)}
	output, err := execScript(t, input, `({scaled: input.amount * input.factor})`, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(30), output["scaled"])
}

func TestScriptMissingSource(t *testing.T) {
	h := &ScriptHandler{}
	_, err := h.Execute(nil, map[string]interface{}{}, flow.NewExecutionContext("e", "p"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script")
}

func TestScriptSyntaxError(t *testing.T) {
	_, err := execScript(t, nil, `this is not js {{`, nil)
	require.Error(t, err)
}

func TestScriptTimeoutInterrupts(t *testing.T) {
	_, err := execScript(t, nil, `while (true) {}`, map[string]interface{}{
		"timeout_ms": float64(50),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
