package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/internal/activity"
	"github.com/flowmesh/flowmesh/internal/audit"
	"github.com/flowmesh/flowmesh/internal/flow"
	"github.com/flowmesh/flowmesh/internal/secret"
)

type memEmitter struct {
	events []audit.Event
}

func (m *memEmitter) Emit(ev audit.Event) {
	m.events = append(m.events, ev)
}

func (m *memEmitter) statuses(nodeID string) []string {
	var out []string
	for _, ev := range m.events {
		if ev.NodeID == nodeID {
			out = append(out, ev.Status)
		}
	}
	return out
}

type stubHandler struct {
	name string
	fn   func(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error)
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	return h.fn(input, config, run)
}

// recordingRegistry returns a registry where every listed type records its
// execution order and echoes a fixed output.
func recordingRegistry(order *[]string, outputs map[string]map[string]interface{}) *activity.Registry {
	r := activity.NewRegistry()
	for name, output := range outputs {
		name, output := name, output
		r.Register(&stubHandler{name: name, fn: func(_, _ map[string]interface{}, _ *flow.ExecutionContext) (map[string]interface{}, error) {
			*order = append(*order, name)
			return output, nil
		}})
	}
	return r
}

func newTestExecutor(registry *activity.Registry) (*Executor, *memEmitter) {
	em := &memEmitter{}
	return New(registry, em, secret.NopResolver{}), em
}

func TestExecuteTriggerWiredStartNode(t *testing.T) {
	var order []string
	registry := recordingRegistry(&order, map[string]map[string]interface{}{
		"step_a": {"done": "a"},
		"step_b": {"done": "b"},
	})
	exec, em := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-1"},
		Trigger:    flow.Trigger{ID: "trig-1", Type: "manual"},
		Nodes: []flow.Node{
			{ID: "a", Type: "step_a"},
			{ID: "b", Type: "step_b"},
		},
		Transitions: []flow.Transition{
			{From: "trig-1", To: "a", Type: flow.TransitionSuccess},
			{From: "a", To: "b", Type: flow.TransitionSuccess},
		},
	}

	run, err := exec.Execute(context.Background(), proc, map[string]interface{}{"source": "test"})
	require.NoError(t, err)

	// the edge from the trigger must not hide "a" from start-node detection
	assert.Equal(t, []string{"step_a", "step_b"}, order)
	assert.Equal(t, flow.StatusSuccess, run.Nodes["a"]["status"])
	assert.Equal(t, flow.StatusSuccess, run.Nodes["b"]["status"])
	assert.Equal(t, []string{"started"}, em.statuses("proc-1")[:1])
	assert.Equal(t, "completed", em.events[len(em.events)-1].Status)
}

func TestExecuteConditionBranch(t *testing.T) {
	var order []string
	registry := recordingRegistry(&order, map[string]map[string]interface{}{
		"score": {"value": float64(75)},
		"high":  {"branch": "high"},
		"low":   {"branch": "low"},
	})
	exec, _ := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-cond"},
		Nodes: []flow.Node{
			{ID: "score", Type: "score"},
			{ID: "high", Type: "high"},
			{ID: "low", Type: "low"},
		},
		Transitions: []flow.Transition{
			{From: "score", To: "high", Type: flow.TransitionCondition, Condition: "$.nodes.score.output.value > 50"},
			{From: "score", To: "low", Type: flow.TransitionNoCondition},
		},
	}

	run, err := exec.Execute(context.Background(), proc, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"score", "high"}, order)
	assert.Equal(t, flow.StatusSuccess, run.Nodes["high"]["status"])
	assert.NotContains(t, run.Nodes, "low")
}

func TestExecuteNoConditionFallback(t *testing.T) {
	var order []string
	registry := recordingRegistry(&order, map[string]map[string]interface{}{
		"score": {"value": float64(10)},
		"high":  {"branch": "high"},
		"low":   {"branch": "low"},
	})
	exec, _ := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-else"},
		Nodes: []flow.Node{
			{ID: "score", Type: "score"},
			{ID: "high", Type: "high"},
			{ID: "low", Type: "low"},
		},
		Transitions: []flow.Transition{
			{From: "score", To: "high", Type: flow.TransitionCondition, Condition: "$.nodes.score.output.value > 50"},
			{From: "score", To: "low", Type: flow.TransitionNoCondition},
		},
	}

	_, err := exec.Execute(context.Background(), proc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"score", "low"}, order)
}

func TestExecuteErrorEdgeAbsorbsFailure(t *testing.T) {
	var order []string
	registry := recordingRegistry(&order, map[string]map[string]interface{}{
		"recover": {"recovered": true},
	})
	registry.Register(&stubHandler{name: "flaky", fn: func(_, _ map[string]interface{}, _ *flow.ExecutionContext) (map[string]interface{}, error) {
		order = append(order, "flaky")
		return nil, assert.AnError
	}})
	exec, em := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-err"},
		Nodes: []flow.Node{
			{ID: "work", Type: "flaky"},
			{ID: "cleanup", Type: "recover"},
		},
		Transitions: []flow.Transition{
			{From: "work", To: "cleanup", Type: flow.TransitionError},
		},
	}

	run, err := exec.Execute(context.Background(), proc, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"flaky", "recover"}, order)
	assert.Equal(t, flow.StatusError, run.Nodes["work"]["status"])
	assert.Equal(t, flow.StatusSuccess, run.Nodes["cleanup"]["status"])
	assert.Equal(t, "completed", em.events[len(em.events)-1].Status)
}

func TestExecuteErroredNodeHasNoOutput(t *testing.T) {
	var order []string
	registry := recordingRegistry(&order, map[string]map[string]interface{}{
		"recover": {"recovered": true},
	})
	exec, em := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-err-out"},
		Nodes: []flow.Node{
			{ID: "bad", Type: "teleport"},
			{ID: "cleanup", Type: "recover"},
		},
		Transitions: []flow.Transition{
			{From: "bad", To: "cleanup", Type: flow.TransitionError},
		},
	}

	run, err := exec.Execute(context.Background(), proc, nil)
	require.NoError(t, err)

	// only the status is recorded; the error string lives in the audit
	// event, and output paths of the errored node stay unresolvable
	assert.Equal(t, flow.StatusError, run.Nodes["bad"]["status"])
	assert.NotContains(t, run.Nodes["bad"], "output")
	_, pathErr := run.GetValue("$.nodes.bad.output.error")
	require.Error(t, pathErr)

	var badEvent *audit.Event
	for i := range em.events {
		if em.events[i].NodeID == "bad" {
			badEvent = &em.events[i]
		}
	}
	require.NotNil(t, badEvent)
	assert.Contains(t, badEvent.Error, "unknown activity")
}

func TestExecuteUnhandledFailureFailsRun(t *testing.T) {
	registry := activity.NewRegistry()
	registry.Register(&stubHandler{name: "flaky", fn: func(_, _ map[string]interface{}, _ *flow.ExecutionContext) (map[string]interface{}, error) {
		return nil, assert.AnError
	}})
	exec, em := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-fail"},
		Nodes:      []flow.Node{{ID: "work", Type: "flaky"}},
		Transitions: []flow.Transition{
			{From: "trig", To: "work", Type: flow.TransitionSuccess},
		},
	}

	run, err := exec.Execute(context.Background(), proc, nil)
	require.Error(t, err)
	assert.Equal(t, flow.StatusError, run.Nodes["work"]["status"])
	assert.Equal(t, "failed", em.events[len(em.events)-1].Status)
}

func TestExecuteHTTPUnreachableIsSoftOutput(t *testing.T) {
	exec, _ := newTestExecutor(activity.NewRegistry())

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-http"},
		Nodes: []flow.Node{
			{ID: "call", Type: "http", Config: map[string]interface{}{
				// closed port: the transport error becomes a successful
				// output with status_code 0, not a node failure
				"url":     "http://127.0.0.1:1/unreachable",
				"timeout": float64(1),
			}},
		},
	}

	run, err := exec.Execute(context.Background(), proc, nil)
	require.NoError(t, err)

	assert.Equal(t, flow.StatusSuccess, run.Nodes["call"]["status"])
	output := run.Nodes["call"]["output"].(map[string]interface{})
	assert.Equal(t, 0, output["status_code"])
	assert.NotEmpty(t, output["error"])
}

func TestExecuteFromNodeReplay(t *testing.T) {
	var order []string
	registry := recordingRegistry(&order, map[string]map[string]interface{}{
		"score": {"value": float64(5)},
		"high":  {"branch": "high"},
		"low":   {"branch": "low"},
	})
	exec, em := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-replay"},
		Nodes: []flow.Node{
			{ID: "score", Type: "score"},
			{ID: "high", Type: "high"},
			{ID: "low", Type: "low"},
		},
		Transitions: []flow.Transition{
			{From: "score", To: "high", Type: flow.TransitionCondition, Condition: "$.nodes.score.output.value > 50"},
			{From: "score", To: "low", Type: flow.TransitionNoCondition},
		},
	}

	run, err := exec.ExecuteFromNode(context.Background(), proc, "score",
		map[string]interface{}{"value": float64(80)}, "exec-fixed")
	require.NoError(t, err)

	// the injected output drives routing; the score node itself never ran
	assert.Equal(t, []string{"high"}, order)
	assert.Equal(t, "exec-fixed", run.ExecutionID)
	assert.Equal(t, flow.StatusReplayed, run.Nodes["score"]["status"])
	assert.Equal(t, flow.StatusSuccess, run.Nodes["high"]["status"])
	assert.Equal(t, "replayed", em.events[len(em.events)-1].Status)
}

func TestExecuteSequentialMode(t *testing.T) {
	var order []string
	registry := recordingRegistry(&order, map[string]map[string]interface{}{
		"first":  {"n": float64(1)},
		"second": {"n": float64(2)},
		"third":  {"n": float64(3)},
	})
	exec, _ := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-seq"},
		Nodes: []flow.Node{
			{ID: "a", Type: "first"},
			{ID: "b", Type: "second"},
			{ID: "c", Type: "third"},
		},
	}

	_, err := exec.Execute(context.Background(), proc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestExecuteEmptyProcess(t *testing.T) {
	exec, em := newTestExecutor(activity.NewRegistry())

	proc := &flow.Process{Definition: flow.Definition{ID: "proc-empty"}}
	run, err := exec.Execute(context.Background(), proc, nil)
	require.NoError(t, err)
	assert.Empty(t, run.Nodes)
	assert.Equal(t, "completed", em.events[len(em.events)-1].Status)
}

func TestExecuteCycleDetection(t *testing.T) {
	var order []string
	registry := recordingRegistry(&order, map[string]map[string]interface{}{
		"step": {"ok": true},
	})
	exec, _ := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-cycle"},
		Nodes: []flow.Node{
			{ID: "a", Type: "step"},
			{ID: "b", Type: "step"},
			{ID: "c", Type: "step"},
		},
		Transitions: []flow.Transition{
			{From: "a", To: "b", Type: flow.TransitionSuccess},
			{From: "b", To: "c", Type: flow.TransitionSuccess},
			{From: "c", To: "b", Type: flow.TransitionSuccess},
		},
	}

	_, err := exec.Execute(context.Background(), proc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestExecuteNoStartNode(t *testing.T) {
	exec, _ := newTestExecutor(activity.NewRegistry())

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-loop"},
		Nodes: []flow.Node{
			{ID: "a", Type: "step"},
			{ID: "b", Type: "step"},
		},
		Transitions: []flow.Transition{
			{From: "a", To: "b", Type: flow.TransitionSuccess},
			{From: "b", To: "a", Type: flow.TransitionSuccess},
		},
	}

	_, err := exec.Execute(context.Background(), proc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start node")
}

func TestExecuteRetryPolicy(t *testing.T) {
	attempts := 0
	registry := activity.NewRegistry()
	registry.Register(&stubHandler{name: "flaky", fn: func(_, _ map[string]interface{}, _ *flow.ExecutionContext) (map[string]interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, assert.AnError
		}
		return map[string]interface{}{"ok": true}, nil
	}})
	exec, _ := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-retry"},
		Nodes: []flow.Node{
			{ID: "work", Type: "flaky", RetryPolicy: &flow.RetryPolicy{MaxAttempts: 3, Interval: "1ms"}},
		},
	}

	run, err := exec.Execute(context.Background(), proc, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, flow.StatusSuccess, run.Nodes["work"]["status"])
}

func TestExecuteUnknownActivityType(t *testing.T) {
	exec, _ := newTestExecutor(activity.NewRegistry())

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-unknown"},
		Nodes:      []flow.Node{{ID: "mystery", Type: "teleport"}},
	}

	run, err := exec.Execute(context.Background(), proc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown activity")
	assert.Equal(t, flow.StatusError, run.Nodes["mystery"]["status"])
}

func TestExecuteInputMappingResolution(t *testing.T) {
	var seen map[string]interface{}
	registry := activity.NewRegistry()
	registry.Register(&stubHandler{name: "sink", fn: func(input, _ map[string]interface{}, _ *flow.ExecutionContext) (map[string]interface{}, error) {
		seen = input
		return map[string]interface{}{"ok": true}, nil
	}})
	exec, _ := newTestExecutor(registry)

	proc := &flow.Process{
		Definition: flow.Definition{ID: "proc-map"},
		Nodes: []flow.Node{
			{ID: "sink", Type: "sink", InputMapping: map[string]interface{}{
				"email":   "$.trigger.body.email",
				"literal": "hello",
				"number":  float64(7),
			}},
		},
	}

	_, err := exec.Execute(context.Background(), proc, map[string]interface{}{
		"body": map[string]interface{}{"email": "sam@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sam@example.com", seen["email"])
	assert.Equal(t, "hello", seen["literal"])
	assert.Equal(t, float64(7), seen["number"])
}

func TestExecuteFromJSONMalformed(t *testing.T) {
	exec, _ := newTestExecutor(activity.NewRegistry())
	_, err := exec.ExecuteFromJSON(context.Background(), []byte(`{"definition":`), nil)
	require.Error(t, err)
}

func TestEvaluateCondition(t *testing.T) {
	run := flow.NewExecutionContext("e", "p")
	run.SetTriggerData(map[string]interface{}{"kind": "order"})
	run.SetNodeOutput("score", map[string]interface{}{"value": float64(75), "tags": []interface{}{"a", "b"}})

	log := New(activity.NewRegistry(), audit.NopEmitter{}, secret.NopResolver{}).log

	cases := []struct {
		expr string
		want bool
	}{
		{"$.nodes.score.output.value > 50", true},
		{"$.nodes.score.output.value > 100", false},
		{`$.trigger.kind == "order"`, true},
		{`$.nodes.score.output.tags[1] == "b"`, true},
		{"$.nodes.missing.output.value > 1", false}, // unresolvable -> undefined -> false
		{"this is not javascript {{", false},        // parse error -> false
		{"1 + 1", true},                             // truthy non-boolean coerces
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, evaluateCondition(tc.expr, run, log), tc.expr)
	}
}
