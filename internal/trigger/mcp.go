package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// JSON-RPC 2.0 error codes used by the MCP endpoint.
const (
	mcpParseError     = -32700
	mcpInvalidRequest = -32600
	mcpExecutionError = -32000
)

// MCPHandler exposes a flow to model-context-protocol clients over JSON-RPC
// 2.0. Unlike REST and SOAP triggers it runs its own listener: POST
// /mcp/{process-id} invokes the flow, GET /mcp/{process-id}/capabilities
// describes it.
//
// trigger config:
//
//	addr: listen address, default ":9091"
type MCPHandler struct {
	proc    *flow.Process
	runner  Runner
	address string
	server  *http.Server
	log     *logrus.Entry
}

type mcpRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type mcpResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *mcpError   `json:"error,omitempty"`
}

// NewMCPHandler builds the endpoint; the listener starts in Start.
func NewMCPHandler(proc *flow.Process, runner Runner) (*MCPHandler, error) {
	address, _ := proc.Trigger.Config["addr"].(string)
	if address == "" {
		address, _ = proc.Trigger.Config["address"].(string)
	}
	if address == "" {
		address = ":9091"
	}
	return &MCPHandler{
		proc:    proc,
		runner:  runner,
		address: address,
		log: logrus.WithFields(logrus.Fields{
			"component": "triggers",
			"trigger":   "mcp",
			"process":   proc.Definition.ID,
		}),
	}, nil
}

func (h *MCPHandler) Type() string { return "mcp" }

func (h *MCPHandler) Start() error {
	h.server = &http.Server{Addr: h.address, Handler: h.Handler()}
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.WithError(err).Error("mcp listener failed")
		}
	}()
	h.log.WithField("address", h.address).Info("mcp trigger started")
	return nil
}

func (h *MCPHandler) Stop() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// Handler builds the route table, separate from Start so tests can drive it
// without a listener.
func (h *MCPHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	base := "/mcp/" + h.proc.Definition.ID
	mux.HandleFunc("GET "+base+"/capabilities", h.handleCapabilities)
	mux.HandleFunc("POST "+base, h.handleRPC)
	return mux
}

func (h *MCPHandler) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"protocol": "jsonrpc-2.0",
		"process": map[string]interface{}{
			"id":          h.proc.Definition.ID,
			"name":        h.proc.Definition.Name,
			"description": h.proc.Definition.Description,
		},
	})
}

func (h *MCPHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req mcpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, mcpResponse{JSONRPC: "2.0", Error: &mcpError{
			Code: mcpParseError, Message: "parse error",
		}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusOK, mcpResponse{JSONRPC: "2.0", ID: req.ID, Error: &mcpError{
			Code: mcpInvalidRequest, Message: "invalid JSON-RPC 2.0 request",
		}})
		return
	}

	var params map[string]interface{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusOK, mcpResponse{JSONRPC: "2.0", ID: req.ID, Error: &mcpError{
				Code: mcpInvalidRequest, Message: "params must be an object",
			}})
			return
		}
	}

	data := map[string]interface{}{
		"tool_request": map[string]interface{}{
			"method":    req.Method,
			"params":    params,
			"arguments": params["arguments"],
		},
		"client_context": map[string]interface{}{
			"jsonrpc": req.JSONRPC,
			"id":      req.ID,
		},
	}

	run, err := h.runner.Execute(r.Context(), h.proc, data)
	if err != nil {
		writeJSON(w, http.StatusOK, mcpResponse{JSONRPC: "2.0", ID: req.ID, Error: &mcpError{
			Code: mcpExecutionError, Message: err.Error(),
		}})
		return
	}
	writeJSON(w, http.StatusOK, mcpResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{
		"execution_id": run.ExecutionID,
		"nodes":        run.Nodes,
	}})
}
