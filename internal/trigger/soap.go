package trigger

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// SOAPRegistry is the shared table behind the /soap mount. Each SOAP trigger
// owns one path; GET with ?wsdl serves the configured contract, POST carries
// the envelope. Mount with http.StripPrefix.
type SOAPRegistry struct {
	mu     sync.RWMutex
	routes map[string]*SOAPHandler
	log    *logrus.Entry
}

// NewSOAPRegistry returns an empty registry.
func NewSOAPRegistry() *SOAPRegistry {
	return &SOAPRegistry{
		routes: map[string]*SOAPHandler{},
		log:    logrus.WithFields(logrus.Fields{"component": "triggers", "trigger": "soap"}),
	}
}

func (r *SOAPRegistry) register(h *SOAPHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.routes[h.path]; ok && existing.proc.Definition.ID != h.proc.Definition.ID {
		return fmt.Errorf("trigger: soap path %q already bound to process %q", h.path, existing.proc.Definition.ID)
	}
	r.routes[h.path] = h
	return nil
}

func (r *SOAPRegistry) deregister(h *SOAPHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, h.path)
}

func (r *SOAPRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	handler, ok := r.routes[req.URL.Path]
	r.mu.RUnlock()
	if !ok {
		http.NotFound(w, req)
		return
	}

	switch {
	case req.Method == http.MethodGet && req.URL.Query().Has("wsdl"):
		if handler.wsdl == "" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, handler.wsdl)
	case req.Method == http.MethodPost:
		handler.serve(w, req, r.log)
	default:
		writeSOAPFault(w, http.StatusMethodNotAllowed, "Client", "only POST is accepted")
	}
}

// SOAPHandler exposes one process as a SOAP endpoint. The envelope's Body
// content is forwarded to the flow verbatim; the SOAPAction header (quotes
// stripped) becomes the trigger method.
//
// trigger config:
//
//	path: endpoint path under /soap (required)
//	wsdl: contract document served on ?wsdl (optional; 404 when absent)
type SOAPHandler struct {
	proc     *flow.Process
	runner   Runner
	registry *SOAPRegistry
	path     string
	wsdl     string
}

// NewSOAPHandler validates the endpoint config at deploy time.
func NewSOAPHandler(proc *flow.Process, runner Runner, registry *SOAPRegistry) (*SOAPHandler, error) {
	path, _ := proc.Trigger.Config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("trigger: soap trigger of %q needs config field 'path'", proc.Definition.ID)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	wsdl, _ := proc.Trigger.Config["wsdl"].(string)
	return &SOAPHandler{
		proc:     proc,
		runner:   runner,
		registry: registry,
		path:     path,
		wsdl:     wsdl,
	}, nil
}

func (h *SOAPHandler) Type() string { return "soap" }

func (h *SOAPHandler) Start() error {
	return h.registry.register(h)
}

func (h *SOAPHandler) Stop() error {
	h.registry.deregister(h)
	return nil
}

func (h *SOAPHandler) serve(w http.ResponseWriter, req *http.Request, log *logrus.Entry) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		writeSOAPFault(w, http.StatusBadRequest, "Client", "unreadable request body")
		return
	}

	body, err := soapBodyContent(raw)
	if err != nil {
		writeSOAPFault(w, http.StatusBadRequest, "Client", err.Error())
		return
	}

	data := map[string]interface{}{
		"method": strings.Trim(req.Header.Get("SOAPAction"), `"`),
		"body":   body,
	}
	run, err := h.runner.Execute(req.Context(), h.proc, data)
	if err != nil {
		log.WithError(err).WithField("process", h.proc.Definition.ID).Warn("soap run failed")
		writeSOAPFault(w, http.StatusInternalServerError, "Server", err.Error())
		return
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`)
	buf.WriteString(`<ExecuteResponse><executionId>`)
	_ = xml.EscapeText(&buf, []byte(run.ExecutionID))
	buf.WriteString(`</executionId><status>completed</status></ExecuteResponse>`)
	buf.WriteString(`</soap:Body></soap:Envelope>`)

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(buf.Bytes())
}

// soapBodyContent extracts the inner XML of the envelope's Body element.
// Elements are matched by local name only, which covers SOAP 1.1 and 1.2.
func soapBodyContent(raw []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))

	var start int64 = -1
	depth := 0
	for {
		before := decoder.InputOffset()
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed SOAP envelope: %v", err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			if start < 0 {
				if t.Name.Local == "Body" {
					start = decoder.InputOffset()
					depth = 1
				}
			} else {
				depth++
			}
		case xml.EndElement:
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				if t.Name.Local != "Body" {
					return "", fmt.Errorf("malformed SOAP envelope: unbalanced Body element")
				}
				return strings.TrimSpace(string(raw[start:before])), nil
			}
		}
	}
	return "", fmt.Errorf("no SOAP Body element in request")
}

// writeSOAPFault renders a SOAP 1.1 fault. The fault string is XML-escaped so
// internal error text cannot break the envelope.
func writeSOAPFault(w http.ResponseWriter, status int, code, message string) {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(message))

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`+
		`<soap:Fault><faultcode>soap:%s</faultcode><faultstring>%s</faultstring></soap:Fault>`+
		`</soap:Body></soap:Envelope>`, code, escaped.String())
}
