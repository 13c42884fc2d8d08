package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FullLogger extends Logger with the levels the logging handler uses.
type FullLogger interface {
	Logger
	Info(msg string, keyvals ...interface{})
	Debug(msg string, keyvals ...interface{})
}

// LoggingHandler returns a handler that logs every event it receives at
// the given level ("debug", "info", or "warn"; default "info").
func LoggingHandler(logger FullLogger, level string) Handler {
	if level == "" {
		level = "info"
	}
	return func(ev Event) error {
		if logger == nil {
			return nil
		}
		msg := fmt.Sprintf("[event] %s", ev.Type)
		keyvals := make([]interface{}, 0, len(ev.Data)*2+8)
		keyvals = append(keyvals, "event_type", string(ev.Type))
		if ev.WorkflowID != "" {
			keyvals = append(keyvals, "workflow_id", ev.WorkflowID)
		}
		if ev.StepID != "" {
			keyvals = append(keyvals, "step_id", ev.StepID)
		}
		if ev.AgentID != "" {
			keyvals = append(keyvals, "agent_id", ev.AgentID)
		}
		for k, v := range ev.Data {
			keyvals = append(keyvals, k, v)
		}

		switch level {
		case "debug":
			logger.Debug(msg, keyvals...)
		case "warn":
			logger.Warn(msg, keyvals...)
		default:
			logger.Info(msg, keyvals...)
		}
		return nil
	}
}

// WebhookHandler returns a handler that POSTs each event as JSON to url.
// A zero timeout defaults to 10 seconds.
func WebhookHandler(url string, timeout time.Duration) Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return func(ev Event) error {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook post failed: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	}
}
