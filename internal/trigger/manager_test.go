package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// mockRunner counts executions and can be forced to fail.
type mockRunner struct {
	mu       sync.Mutex
	calls    atomic.Int64
	fail     bool
	lastData map[string]interface{}
}

func (m *mockRunner) Execute(_ context.Context, proc *flow.Process, data map[string]interface{}) (*flow.ExecutionContext, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.lastData = data
	m.mu.Unlock()
	if m.fail {
		return nil, assert.AnError
	}
	run := flow.NewExecutionContext("exec-123", proc.Definition.ID)
	run.SetNodeOutput("done", map[string]interface{}{"ok": true})
	run.SetNodeStatus("done", flow.StatusSuccess)
	return run, nil
}

func (m *mockRunner) data() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastData
}

func manualProcess(id string) *flow.Process {
	return &flow.Process{
		Definition: flow.Definition{ID: id, Name: id},
		Trigger:    flow.Trigger{ID: "t", Type: "manual"},
	}
}

func newTestManager() (*Manager, *mockRunner) {
	runner := &mockRunner{}
	return NewManager(runner, NewRESTRegistry(), NewSOAPRegistry()), runner
}

func TestManagerDeployAndStop(t *testing.T) {
	m, _ := newTestManager()

	require.NoError(t, m.Deploy(manualProcess("p1")))
	assert.True(t, m.IsRunning("p1"))
	assert.Equal(t, "manual", m.TriggerType("p1"))

	require.NoError(t, m.Stop("p1"))
	assert.False(t, m.IsRunning("p1"))
	assert.Equal(t, "", m.TriggerType("p1"))
}

func TestManagerStopUnknownProcess(t *testing.T) {
	m, _ := newTestManager()
	err := m.Stop("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not deployed")
}

func TestManagerRedeployReplacesHandler(t *testing.T) {
	m, _ := newTestManager()

	proc := &flow.Process{
		Definition: flow.Definition{ID: "p1"},
		Trigger: flow.Trigger{Type: "rest", Config: map[string]interface{}{
			"path": "/orders",
		}},
	}
	require.NoError(t, m.Deploy(proc))

	// same process, new route: the old registration must be gone
	proc2 := &flow.Process{
		Definition: flow.Definition{ID: "p1"},
		Trigger: flow.Trigger{Type: "rest", Config: map[string]interface{}{
			"path": "/orders/v2",
		}},
	}
	require.NoError(t, m.Deploy(proc2))
	assert.True(t, m.IsRunning("p1"))

	assert.NotContains(t, m.rest.routes, "POST /orders")
	assert.Contains(t, m.rest.routes, "POST /orders/v2")
}

func TestManagerUnknownTriggerType(t *testing.T) {
	m, _ := newTestManager()
	proc := &flow.Process{
		Definition: flow.Definition{ID: "p1"},
		Trigger:    flow.Trigger{Type: "telepathy"},
	}
	err := m.Deploy(proc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger type")
	assert.False(t, m.IsRunning("p1"))
}

func TestManagerStopAll(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.Deploy(manualProcess("p1")))
	require.NoError(t, m.Deploy(manualProcess("p2")))

	m.StopAll()
	assert.False(t, m.IsRunning("p1"))
	assert.False(t, m.IsRunning("p2"))
}
