// Package api is the HTTP management surface of the engine: ad-hoc flow
// execution, the process and secret stores, deployment control, and the
// mounts for the REST and SOAP trigger registries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/activity"
	"github.com/flowmesh/flowmesh/internal/flow"
	"github.com/flowmesh/flowmesh/internal/secret"
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/internal/trigger"
)

// Executor is the slice of the engine the API needs.
type Executor interface {
	Execute(ctx context.Context, proc *flow.Process, triggerData map[string]interface{}) (*flow.ExecutionContext, error)
	ExecuteFromJSON(ctx context.Context, dsl []byte, triggerData map[string]interface{}) (*flow.ExecutionContext, error)
	ExecuteFromNode(ctx context.Context, proc *flow.Process, startNodeID string, output map[string]interface{}, executionID string) (*flow.ExecutionContext, error)
}

// SecretStore is the slice of the secret store the API needs.
type SecretStore interface {
	Upsert(ctx context.Context, in secret.Input) error
	List(ctx context.Context) ([]secret.Meta, error)
	Delete(ctx context.Context, id string) error
}

// Server wires the HTTP handlers. Store-backed routes answer 503 when the
// engine runs without a database.
type Server struct {
	executor  Executor
	registry  *activity.Registry
	processes *store.ProcessStore
	secrets   SecretStore
	manager   *trigger.Manager
	rest      *trigger.RESTRegistry
	soap      *trigger.SOAPRegistry
	timeout   time.Duration
	log       *logrus.Entry
}

// New builds a server. processes and secrets may be nil in stateless mode.
func New(executor Executor, registry *activity.Registry, processes *store.ProcessStore, secrets SecretStore, manager *trigger.Manager, rest *trigger.RESTRegistry, soap *trigger.SOAPRegistry, timeout time.Duration) *Server {
	return &Server{
		executor:  executor,
		registry:  registry,
		processes: processes,
		secrets:   secrets,
		manager:   manager,
		rest:      rest,
		soap:      soap,
		timeout:   timeout,
		log:       logrus.WithField("component", "api"),
	}
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/activities", s.handleActivities)
	mux.HandleFunc("POST /v1/flow", s.handleAdhocFlow)
	mux.HandleFunc("POST /v1/test", s.handleNodeTest)

	mux.HandleFunc("GET /api/v1/processes", s.handleListProcesses)
	mux.HandleFunc("POST /api/v1/processes", s.handleUpsertProcess)
	mux.HandleFunc("GET /api/v1/processes/{id}", s.handleGetProcess)
	mux.HandleFunc("DELETE /api/v1/processes/{id}", s.handleDeleteProcess)
	mux.HandleFunc("POST /api/v1/processes/{id}/deploy", s.handleDeployProcess)
	mux.HandleFunc("POST /api/v1/processes/{id}/stop", s.handleStopProcess)
	mux.HandleFunc("POST /api/v1/processes/{id}/run", s.handleRunProcess)
	mux.HandleFunc("POST /api/v1/processes/{id}/replay", s.handleReplayProcess)

	mux.HandleFunc("GET /api/v1/secrets", s.handleListSecrets)
	mux.HandleFunc("POST /api/v1/secrets", s.handleUpsertSecret)
	mux.HandleFunc("DELETE /api/v1/secrets/{id}", s.handleDeleteSecret)

	mux.Handle("/triggers/", http.StripPrefix("/triggers", s.rest))
	mux.Handle("/soap/", http.StripPrefix("/soap", s.soap))

	return withCORS(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleActivities(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{"activities": s.registry.List()})
}

// handleAdhocFlow runs a DSL document without persisting it. The optional
// trigger_data key seeds the execution context.
func (s *Server) handleAdhocFlow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Flow        json.RawMessage        `json:"flow"`
		TriggerData map[string]interface{} `json:"trigger_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Flow) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("missing flow document"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	run, err := s.executor.ExecuteFromJSON(ctx, req.Flow, req.TriggerData)
	if err != nil {
		s.respondRunError(w, run, err)
		return
	}
	s.respondRun(w, run)
}

// handleNodeTest executes one node in isolation, used by the designer's
// "test this step" button.
func (s *Server) handleNodeTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type   string                 `json:"type"`
		Config map[string]interface{} `json:"config"`
		Input  map[string]interface{} `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	handler, ok := s.registry.Get(req.Type)
	if !ok {
		s.respondError(w, http.StatusBadRequest, errors.New("unknown activity type "+req.Type))
		return
	}
	if req.Config == nil {
		req.Config = map[string]interface{}{}
	}
	if req.Input == nil {
		req.Input = map[string]interface{}{}
	}

	run := flow.NewExecutionContext("test", "test")
	output, err := handler.Execute(req.Input, req.Config, run)
	if err != nil {
		s.respond(w, http.StatusOK, map[string]interface{}{"status": flow.StatusError, "error": err.Error()})
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"status": flow.StatusSuccess, "output": output})
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		s.respondNoStore(w)
		return
	}
	list, err := s.processes.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []store.ProcessSummary{}
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"processes": list})
}

func (s *Server) handleUpsertProcess(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		s.respondNoStore(w)
		return
	}
	raw, err := rawBody(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	proc, err := flow.ParseProcess(raw)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if proc.Definition.ID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("definition.id is required"))
		return
	}
	rec, err := s.processes.Upsert(r.Context(), proc)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, rec)
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		s.respondNoStore(w)
		return
	}
	rec, err := s.processes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.respond(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteProcess(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		s.respondNoStore(w)
		return
	}
	err := s.processes.Delete(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrDeployed):
		s.respondError(w, http.StatusConflict, err)
	case err != nil:
		s.respondError(w, http.StatusNotFound, err)
	default:
		s.respond(w, http.StatusOK, map[string]interface{}{"deleted": r.PathValue("id")})
	}
}

func (s *Server) handleDeployProcess(w http.ResponseWriter, r *http.Request) {
	proc, ok := s.loadProcess(w, r)
	if !ok {
		return
	}
	if err := s.manager.Deploy(proc); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := s.processes.UpdateStatus(r.Context(), proc.Definition.ID, store.StatusDeployed); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"id":     proc.Definition.ID,
		"status": store.StatusDeployed,
		"type":   s.manager.TriggerType(proc.Definition.ID),
	})
}

func (s *Server) handleStopProcess(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		s.respondNoStore(w)
		return
	}
	id := r.PathValue("id")
	if err := s.manager.Stop(id); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := s.processes.UpdateStatus(r.Context(), id, store.StatusStopped); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"id": id, "status": store.StatusStopped})
}

// handleRunProcess starts a stored flow manually. The request body, when
// present, becomes the trigger data.
func (s *Server) handleRunProcess(w http.ResponseWriter, r *http.Request) {
	proc, ok := s.loadProcess(w, r)
	if !ok {
		return
	}
	var data map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&data)

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	run, err := s.executor.Execute(ctx, proc, data)
	if err != nil {
		s.respondRunError(w, run, err)
		return
	}
	s.respondRun(w, run)
}

// handleReplayProcess resumes a stored flow after node_id, injecting the
// given output instead of re-running the node.
func (s *Server) handleReplayProcess(w http.ResponseWriter, r *http.Request) {
	proc, ok := s.loadProcess(w, r)
	if !ok {
		return
	}
	var req struct {
		NodeID      string                 `json:"node_id"`
		Output      map[string]interface{} `json:"output"`
		ExecutionID string                 `json:"execution_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.NodeID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("node_id is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	run, err := s.executor.ExecuteFromNode(ctx, proc, req.NodeID, req.Output, req.ExecutionID)
	if err != nil {
		s.respondRunError(w, run, err)
		return
	}
	s.respondRun(w, run)
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		s.respondNoStore(w)
		return
	}
	list, err := s.secrets.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []secret.Meta{}
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"secrets": list})
}

func (s *Server) handleUpsertSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		s.respondNoStore(w)
		return
	}
	var in secret.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.secrets.Upsert(r.Context(), in); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	// never echo the value back
	s.respond(w, http.StatusOK, map[string]interface{}{"id": in.ID, "name": in.Name, "type": in.Type})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		s.respondNoStore(w)
		return
	}
	if err := s.secrets.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"deleted": r.PathValue("id")})
}

// loadProcess fetches and parses the stored DSL for the {id} route segment.
func (s *Server) loadProcess(w http.ResponseWriter, r *http.Request) (*flow.Process, bool) {
	if s.processes == nil {
		s.respondNoStore(w)
		return nil, false
	}
	rec, err := s.processes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return nil, false
	}
	proc, err := rec.ParseDSL()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return proc, true
}

func (s *Server) respondRun(w http.ResponseWriter, run *flow.ExecutionContext) {
	s.respond(w, http.StatusOK, map[string]interface{}{
		"execution_id": run.ExecutionID,
		"nodes":        run.Nodes,
	})
}

// respondRunError reports a failed run, including partial node results when
// the executor got far enough to produce any.
func (s *Server) respondRunError(w http.ResponseWriter, run *flow.ExecutionContext, err error) {
	payload := map[string]interface{}{"error": err.Error()}
	if run != nil {
		payload["execution_id"] = run.ExecutionID
		payload["nodes"] = run.Nodes
	}
	s.respond(w, http.StatusUnprocessableEntity, payload)
}

func (s *Server) respondNoStore(w http.ResponseWriter) {
	s.respondError(w, http.StatusServiceUnavailable, errors.New("no configuration database configured"))
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.WithError(err).Error("request failed")
	}
	s.respond(w, status, map[string]interface{}{"error": err.Error()})
}

func (s *Server) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Warn("response encoding failed")
	}
}

func rawBody(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// withCORS lets the browser-based designer talk to the API from another
// origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
