package event

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoggingHandler(t *testing.T) {
	logger := &testLogger{}
	h := LoggingHandler(logger, "warn")

	ev := New(WorkflowStarted, map[string]interface{}{"workflow": "launch-plan"})
	ev.WorkflowID = "wf-1"
	if err := h(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if logger.warningCount() != 1 {
		t.Fatalf("expected 1 log line, got %d", logger.warningCount())
	}
}

func TestLoggingHandler_NilLogger(t *testing.T) {
	h := LoggingHandler(nil, "")
	if err := h(New(StepStarted, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWebhookHandler(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := WebhookHandler(srv.URL, time.Second)
	ev := New(WorkflowCompleted, map[string]interface{}{"duration": "4s"})
	ev.WorkflowID = "wf-9"

	if err := h(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.Type != WorkflowCompleted {
		t.Errorf("expected WorkflowCompleted, got %s", received.Type)
	}
	if received.WorkflowID != "wf-9" {
		t.Errorf("expected workflow id wf-9, got %q", received.WorkflowID)
	}
}

func TestWebhookHandler_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := WebhookHandler(srv.URL, time.Second)
	if err := h(New(StepFailed, nil)); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
