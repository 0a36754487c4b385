package trigger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// RESTRegistry is the shared routing table behind the /triggers mount. It is
// an http.Handler; REST trigger handlers register and deregister routes as
// their processes deploy and stop. Mount it with http.StripPrefix so the
// configured paths are matched as-is.
type RESTRegistry struct {
	mu     sync.RWMutex
	routes map[string]*RESTHandler // "METHOD /path"
	log    *logrus.Entry
}

// NewRESTRegistry returns an empty registry.
func NewRESTRegistry() *RESTRegistry {
	return &RESTRegistry{
		routes: map[string]*RESTHandler{},
		log:    logrus.WithFields(logrus.Fields{"component": "triggers", "trigger": "rest"}),
	}
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func (r *RESTRegistry) register(h *RESTHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := routeKey(h.method, h.path)
	if existing, ok := r.routes[key]; ok && existing.proc.Definition.ID != h.proc.Definition.ID {
		return fmt.Errorf("trigger: route %q already bound to process %q", key, existing.proc.Definition.ID)
	}
	r.routes[key] = h
	return nil
}

func (r *RESTRegistry) deregister(h *RESTHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, routeKey(h.method, h.path))
}

// ServeHTTP dispatches to the registered route, runs the flow synchronously,
// and answers 200 with the run's node map or 422 when the run failed. When no
// route matches the request method exactly, the path's POST route is the
// fallback.
func (r *RESTRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	handler, ok := r.routes[routeKey(req.Method, req.URL.Path)]
	if !ok {
		handler, ok = r.routes[routeKey(http.MethodPost, req.URL.Path)]
	}
	r.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "no trigger registered for this route"})
		return
	}

	// body falls back to an empty map so $.trigger.body paths stay resolvable
	var body interface{} = map[string]interface{}{}
	if req.Body != nil {
		var decoded interface{}
		if err := json.NewDecoder(req.Body).Decode(&decoded); err == nil && decoded != nil {
			body = decoded
		}
	}

	headers := map[string]interface{}{}
	for name, values := range req.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	data := map[string]interface{}{
		"method":  req.Method,
		"headers": headers,
		"body":    body,
		"auth":    req.Header.Get("Authorization"),
	}

	run, err := handler.runner.Execute(req.Context(), handler.proc, data)
	if err != nil {
		r.log.WithError(err).WithField("process", handler.proc.Definition.ID).Warn("triggered run failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"execution_id": run.ExecutionID,
		"nodes":        run.Nodes,
	})
}

// RESTHandler binds one process to one "METHOD path" route.
//
// trigger config:
//
//	path:   endpoint path under /triggers (required)
//	method: HTTP method, default POST
type RESTHandler struct {
	proc     *flow.Process
	runner   Runner
	registry *RESTRegistry
	method   string
	path     string
}

// NewRESTHandler validates the route config at deploy time.
func NewRESTHandler(proc *flow.Process, runner Runner, registry *RESTRegistry) (*RESTHandler, error) {
	path, _ := proc.Trigger.Config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("trigger: rest trigger of %q needs config field 'path'", proc.Definition.ID)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	method := http.MethodPost
	if m, _ := proc.Trigger.Config["method"].(string); m != "" {
		method = strings.ToUpper(m)
	}
	return &RESTHandler{
		proc:     proc,
		runner:   runner,
		registry: registry,
		method:   method,
		path:     path,
	}, nil
}

func (h *RESTHandler) Type() string { return "rest" }

func (h *RESTHandler) Start() error {
	return h.registry.register(h)
}

func (h *RESTHandler) Stop() error {
	h.registry.deregister(h)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
