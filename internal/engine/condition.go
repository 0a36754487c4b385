package engine

import (
	"encoding/json"
	"regexp"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// conditionToken matches the $-prefixed context references inside a
// transition condition, e.g. "$.nodes.score.output.value > 50".
var conditionToken = regexp.MustCompile(`\$[A-Za-z0-9_.\[\]]+`)

// evaluateCondition resolves every context reference in expr to a JSON
// literal, evaluates the result in a throwaway JavaScript VM, and coerces it
// to a boolean. Any failure along the way makes the condition false: a broken
// condition routes like one that did not match.
func evaluateCondition(expr string, run *flow.ExecutionContext, log *logrus.Entry) bool {
	substituted := conditionToken.ReplaceAllStringFunc(expr, func(token string) string {
		value, err := run.GetValue(token)
		if err != nil {
			return "undefined"
		}
		literal, err := json.Marshal(value)
		if err != nil {
			return "undefined"
		}
		return string(literal)
	})

	vm := goja.New()
	result, err := vm.RunString(substituted)
	if err != nil {
		log.WithError(err).WithField("condition", expr).Debug("condition evaluation failed")
		return false
	}
	return result.ToBoolean()
}
