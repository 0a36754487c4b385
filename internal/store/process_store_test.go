package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/internal/flow"
)

const orderFlowDSL = `{
	"definition": {"id": "order-flow", "version": "1.2.0", "name": "Order intake"},
	"trigger": {"id": "t1", "type": "rest", "config": {"path": "/orders"}},
	"nodes": [
		{"id": "validate", "type": "script", "script": "({ok: true})"},
		{"id": "notify", "type": "http", "config": {"url": "https://api.example.com"}}
	],
	"transitions": [
		{"from": "validate", "to": "notify", "type": "success"}
	]
}`

func TestParseDSL(t *testing.T) {
	rec := &ProcessRecord{ID: "order-flow", DSL: json.RawMessage(orderFlowDSL)}

	proc, err := rec.ParseDSL()
	require.NoError(t, err)
	assert.Equal(t, "order-flow", proc.Definition.ID)
	assert.Equal(t, "rest", proc.Trigger.Type)
	require.Len(t, proc.Nodes, 2)
	assert.Equal(t, "validate", proc.Nodes[0].ID)
	require.Len(t, proc.Transitions, 1)
	assert.Equal(t, flow.TransitionSuccess, proc.Transitions[0].Type)
}

func TestParseDSLMalformed(t *testing.T) {
	rec := &ProcessRecord{ID: "broken", DSL: json.RawMessage(`{"definition":`)}
	_, err := rec.ParseDSL()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestProcessRecordJSONShape(t *testing.T) {
	rec := ProcessRecord{
		ID: "p1", Version: "1.0.0", Name: "demo",
		DSL: json.RawMessage(`{}`), Status: StatusDraft,
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "p1", decoded["id"])
	assert.Equal(t, "draft", decoded["status"])
	assert.Contains(t, decoded, "dsl")
	assert.Contains(t, decoded, "updated_at")
}

func TestSummaryJSONShape(t *testing.T) {
	raw, err := json.Marshal(ProcessSummary{ID: "p1", TriggerType: "cron", Status: StatusDeployed})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"trigger_type":"cron"`)
	assert.Contains(t, string(raw), `"status":"deployed"`)
}
