package activity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// LogHandler implements the `log` node type. The level is normalized to
// upper case (default INFO); the message comes from input with a config
// fallback. Non-string messages are rendered as JSON.
type LogHandler struct{}

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	level := "INFO"
	if raw, ok := config["level"].(string); ok && raw != "" {
		level = strings.ToUpper(raw)
	}

	message, err := logMessage(input, config)
	if err != nil {
		return nil, err
	}

	entry := logrus.WithFields(logrus.Fields{
		"component": "activity.log",
		"level_tag": level,
	})
	switch level {
	case "DEBUG":
		entry.Debug(message)
	case "WARN", "WARNING":
		entry.Warn(message)
	case "ERROR":
		entry.Error(message)
	default:
		entry.Info(message)
	}

	return map[string]interface{}{
		"logged":  true,
		"level":   level,
		"message": message,
	}, nil
}

func logMessage(input, config map[string]interface{}) (string, error) {
	raw, ok := input["message"]
	if !ok {
		raw, ok = config["message"]
	}
	if !ok {
		// No explicit message: log the whole resolved input.
		raw = input
	}

	if s, ok := raw.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("log activity: marshal message: %w", err)
	}
	return string(b), nil
}
