// Package activity implements the runnable node types of the flow DSL and
// the registry that maps DSL type names to their handlers.
package activity

import (
	"sort"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// Handler is the uniform contract every node type implements. input is the
// node's resolved input mapping, config its (cloned) DSL config with secret
// data merged in, and run the execution context of the current invocation.
type Handler interface {
	Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error)
	Name() string
}

// Registry maps DSL node type names to handlers. It is populated once at
// startup and only read afterwards, so no locking is needed.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a registry with every built-in activity registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: map[string]Handler{}}

	for _, h := range []Handler{
		&HTTPHandler{},
		&SQLHandler{},
		&SFTPHandler{},
		&S3Handler{},
		&SMBHandler{},
		&MailHandler{},
		&RabbitMQHandler{},
		&ScriptHandler{},
		&LogHandler{},
		&TransformHandler{},
		&FileHandler{},
	} {
		r.Register(h)
	}

	// Legacy DSL type names still emitted by older designer exports.
	r.Alias("code", &ScriptHandler{})
	r.Alias("script_ts", &ScriptHandler{})
	r.Alias("logger", &LogHandler{})
	r.Alias("http_request", &HTTPHandler{})

	return r
}

// Register adds h under its canonical name.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Alias registers h under an additional type name.
func (r *Registry) Alias(name string, h Handler) {
	r.handlers[name] = h
}

// Get looks up the handler for a DSL type name. The second return value is
// false when the type is unknown; the executor turns that into an
// error-status node outcome.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// List returns the registered type names, sorted for stable output.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
