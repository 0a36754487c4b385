// Package trigger starts flow runs from the outside world: cron schedules,
// REST and SOAP endpoints, RabbitMQ queues, and MCP tool calls. The manager
// owns one handler per deployed process.
package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// Runner is the slice of the executor the trigger layer needs. Handlers call
// it once per firing.
type Runner interface {
	Execute(ctx context.Context, proc *flow.Process, triggerData map[string]interface{}) (*flow.ExecutionContext, error)
}

// Handler is one live trigger bound to one deployed process.
type Handler interface {
	Start() error
	Stop() error
	Type() string
}

// Manager tracks the handler of every deployed process. Deploying a process
// that is already running replaces its handler.
type Manager struct {
	mu       sync.Mutex
	handlers map[string]Handler

	runner Runner
	rest   *RESTRegistry
	soap   *SOAPRegistry
	log    *logrus.Entry
}

// NewManager wires a manager. rest and soap are the shared endpoint
// registries mounted on the API server.
func NewManager(runner Runner, rest *RESTRegistry, soap *SOAPRegistry) *Manager {
	return &Manager{
		handlers: map[string]Handler{},
		runner:   runner,
		rest:     rest,
		soap:     soap,
		log:      logrus.WithField("component", "triggers"),
	}
}

// Deploy builds and starts the handler for proc's trigger type, stopping and
// replacing any handler already running for the same process id.
func (m *Manager) Deploy(proc *flow.Process) error {
	handler, err := m.build(proc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.handlers[proc.Definition.ID]; ok {
		if err := old.Stop(); err != nil {
			m.log.WithError(err).WithField("process", proc.Definition.ID).Warn("stopping previous trigger failed")
		}
		delete(m.handlers, proc.Definition.ID)
	}

	if err := handler.Start(); err != nil {
		return fmt.Errorf("trigger: start %s trigger for %q: %w", handler.Type(), proc.Definition.ID, err)
	}
	m.handlers[proc.Definition.ID] = handler

	m.log.WithFields(logrus.Fields{
		"process": proc.Definition.ID,
		"type":    handler.Type(),
	}).Info("trigger deployed")
	return nil
}

// Stop halts and forgets the trigger of processID. Stopping an unknown
// process is an error so the API can report it.
func (m *Manager) Stop(processID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	handler, ok := m.handlers[processID]
	if !ok {
		return fmt.Errorf("trigger: process %q is not deployed", processID)
	}
	delete(m.handlers, processID)
	if err := handler.Stop(); err != nil {
		return fmt.Errorf("trigger: stop %s trigger for %q: %w", handler.Type(), processID, err)
	}
	return nil
}

// IsRunning reports whether processID has a live trigger.
func (m *Manager) IsRunning(processID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[processID]
	return ok
}

// TriggerType returns the trigger type of a deployed process, or "".
func (m *Manager) TriggerType(processID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handler, ok := m.handlers[processID]; ok {
		return handler.Type()
	}
	return ""
}

// StopAll stops every handler, best effort. Used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, handler := range m.handlers {
		if err := handler.Stop(); err != nil {
			m.log.WithError(err).WithField("process", id).Warn("trigger stop failed during shutdown")
		}
		delete(m.handlers, id)
	}
}

func (m *Manager) build(proc *flow.Process) (Handler, error) {
	switch proc.Trigger.Type {
	case "cron":
		return NewCronHandler(proc, m.runner)
	case "rest":
		return NewRESTHandler(proc, m.runner, m.rest)
	case "soap":
		return NewSOAPHandler(proc, m.runner, m.soap)
	case "rabbitmq":
		return NewRabbitMQHandler(proc, m.runner)
	case "mcp":
		return NewMCPHandler(proc, m.runner)
	case "manual", "":
		return &ManualHandler{}, nil
	default:
		return nil, fmt.Errorf("trigger: unknown trigger type %q", proc.Trigger.Type)
	}
}

// ManualHandler is the no-op trigger: manual flows only run through the API.
type ManualHandler struct{}

func (*ManualHandler) Start() error { return nil }
func (*ManualHandler) Stop() error  { return nil }
func (*ManualHandler) Type() string { return "manual" }
