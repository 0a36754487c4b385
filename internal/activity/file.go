package activity

import (
	"fmt"
	"os"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// FileHandler implements the `file` node type for local filesystem steps.
//
// config fields:
//
//	operation: "create" | "read" | "delete" (required)
//	path:      file path (required)
//	content:   written on create (also accepted from the resolved input)
//	mode:      "overwrite" (default) | "append", create only
type FileHandler struct{}

func (h *FileHandler) Name() string { return "file" }

func (h *FileHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	operation, ok := config["operation"].(string)
	if !ok || operation == "" {
		return nil, fmt.Errorf("file activity: missing required config field 'operation'")
	}
	path, ok := config["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("file activity: missing required config field 'path'")
	}

	switch operation {
	case "create":
		return fileCreate(path, input, config)
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("file activity: read %q: %w", path, err)
		}
		return map[string]interface{}{"content": string(data), "path": path}, nil
	case "delete":
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("file activity: delete %q: %w", path, err)
		}
		return map[string]interface{}{"deleted": true, "path": path}, nil
	default:
		return nil, fmt.Errorf("file activity: unknown operation %q (use create, read, delete)", operation)
	}
}

func fileCreate(path string, input, config map[string]interface{}) (map[string]interface{}, error) {
	content, _ := config["content"].(string)
	if c, ok := input["content"].(string); ok {
		content = c
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if mode, _ := config["mode"].(string); mode == "append" {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file activity: open %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return nil, fmt.Errorf("file activity: write %q: %w", path, err)
	}
	return map[string]interface{}{"created": true, "path": path}, nil
}
