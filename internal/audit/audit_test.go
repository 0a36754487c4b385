package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONShape(t *testing.T) {
	ev := Event{
		ExecutionID: "e1",
		FlowID:      "flow-1",
		NodeID:      "fetch",
		NodeType:    "http",
		Status:      "success",
		Timestamp:   "2026-08-25T10:00:00Z",
		Input:       map[string]interface{}{"url": "https://api"},
		Output:      map[string]interface{}{"status_code": 200},
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "e1", decoded["execution_id"])
	assert.Equal(t, "flow-1", decoded["flow_id"])
	assert.Equal(t, "fetch", decoded["node_id"])
	assert.Equal(t, "http", decoded["node_type"])
	// empty error is omitted entirely
	assert.NotContains(t, decoded, "error")
}

func TestEventErrorIncludedWhenSet(t *testing.T) {
	raw, err := json.Marshal(Event{ExecutionID: "e1", Error: "boom"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error":"boom"`)
}

func TestNopEmitter(t *testing.T) {
	assert.NotPanics(t, func() {
		NopEmitter{}.Emit(Event{ExecutionID: "e1"})
	})
}
