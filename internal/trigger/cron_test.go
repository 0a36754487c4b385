package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/internal/flow"
)

func cronProcess(schedule string) *flow.Process {
	return &flow.Process{
		Definition: flow.Definition{ID: "p1"},
		Trigger: flow.Trigger{Type: "cron", Config: map[string]interface{}{
			"expression": schedule,
		}},
	}
}

func TestCronHandlerValidatesExpression(t *testing.T) {
	_, err := NewCronHandler(cronProcess("not a schedule"), &mockRunner{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	_, err = NewCronHandler(&flow.Process{
		Definition: flow.Definition{ID: "p1"},
		Trigger:    flow.Trigger{Type: "cron", Config: map[string]interface{}{}},
	}, &mockRunner{})
	require.Error(t, err)
}

func TestCronHandlerFires(t *testing.T) {
	runner := &mockRunner{}
	h, err := NewCronHandler(cronProcess("* * * * * *"), runner)
	require.NoError(t, err)

	require.NoError(t, h.Start())
	defer h.Stop()

	deadline := time.After(3 * time.Second)
	for runner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("cron trigger did not fire")
		case <-time.After(50 * time.Millisecond):
		}
	}

	datetime, ok := runner.data()["datetime"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, datetime)
	assert.NoError(t, err)
}

func TestCronHandlerStopIsIdempotent(t *testing.T) {
	h, err := NewCronHandler(cronProcess("0 0 0 1 1 *"), &mockRunner{})
	require.NoError(t, err)

	// stop before start is a no-op
	require.NoError(t, h.Stop())

	require.NoError(t, h.Start())
	require.NoError(t, h.Stop())
}
