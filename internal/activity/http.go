package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// HTTPHandler implements the `http` node type.
//
// config fields:
//
//	url:      request URL (required)
//	method:   HTTP method, default GET
//	timeout:  int seconds, default 30
//	headers:  map of header name → value
//	token:    bearer token for Authorization injection
//	user, password: basic-auth credentials (used when token is absent)
//
// Transport failures and non-2xx responses are NOT activity errors: they come
// back as successful outputs carrying status_code, body, headers, and error,
// so downstream condition edges can route on them. Only a missing url fails
// the node.
type HTTPHandler struct{}

func (h *HTTPHandler) Name() string { return "http" }

func (h *HTTPHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("http activity: missing required config field 'url'")
	}

	method := http.MethodGet
	if m, ok := config["method"].(string); ok && m != "" {
		method = m
	}

	timeout := 30 * time.Second
	switch v := config["timeout"].(type) {
	case int:
		timeout = time.Duration(v) * time.Second
	case float64:
		timeout = time.Duration(v) * time.Second
	}

	var bodyReader io.Reader
	if body := requestBody(input, config); body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("http activity: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("http activity: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	// Injected auth first, so an explicit headers.Authorization below wins.
	if token, ok := config["token"].(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		user, _ := config["user"].(string)
		password, _ := config["password"].(string)
		if user != "" {
			req.SetBasicAuth(user, password)
		}
	}

	applyHeaders(req, input["headers"])
	applyHeaders(req, config["headers"])

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return map[string]interface{}{
			"status_code": 0,
			"body":        nil,
			"headers":     map[string]interface{}{},
			"error":       err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http activity: read response body: %w", err)
	}

	// JSON responses are decoded so downstream paths can address into them;
	// anything else is passed through as a string.
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        decoded,
		"headers":     headers,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		output["error"] = fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)
	}
	return output, nil
}

// requestBody prefers the resolved input's body over a literal config body.
func requestBody(input, config map[string]interface{}) interface{} {
	if b, ok := input["body"]; ok && b != nil {
		return b
	}
	if b, ok := config["body"]; ok && b != nil {
		return b
	}
	return nil
}

func applyHeaders(req *http.Request, raw interface{}) {
	headers, ok := raw.(map[string]interface{})
	if !ok {
		return
	}
	for name, value := range headers {
		if s, ok := value.(string); ok {
			req.Header.Set(name, s)
		}
	}
}
