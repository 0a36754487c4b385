// Package audit publishes execution events to the message bus. A separate
// consumer service persists them; the engine only guarantees that every run
// produces at least one event and that secrets never enter a payload.
package audit

import (
	"encoding/json"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subject is the bus topic all engine audit events are published to.
const Subject = "audit.logs"

// Node types used for lifecycle events (node_id carries the process id).
const (
	NodeTypeProcess   = "process"
	NodeTypeLifecycle = "lifecycle"
)

// Event is one audit record. Lifecycle events use NodeType "process" or
// "lifecycle" with NodeID set to the process id.
type Event struct {
	ExecutionID string                 `json:"execution_id"`
	FlowID      string                 `json:"flow_id"`
	NodeID      string                 `json:"node_id"`
	NodeType    string                 `json:"node_type"`
	Status      string                 `json:"status"`
	Timestamp   string                 `json:"timestamp"`
	Input       map[string]interface{} `json:"input"`
	Output      map[string]interface{} `json:"output"`
	Error       string                 `json:"error,omitempty"`
}

// Emitter publishes audit events. Emit must never block flow execution on
// delivery guarantees; failures are logged and dropped.
type Emitter interface {
	Emit(ev Event)
}

// NopEmitter discards every event. Used when no bus is configured.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// NATSEmitter publishes events to Subject over a shared NATS connection.
// nats.Conn is safe for concurrent use, so one emitter serves all runs.
type NATSEmitter struct {
	conn *nats.Conn
	log  *logrus.Entry
}

// NewNATSEmitter wraps an established NATS connection.
func NewNATSEmitter(conn *nats.Conn) *NATSEmitter {
	return &NATSEmitter{
		conn: conn,
		log:  logrus.WithField("component", "audit"),
	}
}

// Emit stamps and publishes the event. When the payload cannot be
// serialised (an activity output holding a channel, say), it retries once
// with input and output nulled so the run still leaves a trace.
func (e *NATSEmitter) Emit(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.WithError(err).Warn("audit event not serialisable, retrying metadata-only")
		ev.Input = nil
		ev.Output = nil
		payload, err = json.Marshal(ev)
		if err != nil {
			e.log.WithError(err).Error("audit event dropped")
			return
		}
	}

	if err := e.conn.Publish(Subject, payload); err != nil {
		e.log.WithError(err).Warn("audit publish failed")
	}
}
