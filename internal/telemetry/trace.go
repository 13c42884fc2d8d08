package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
)

type traceKey struct{}

// TraceContext carries correlation IDs through a run. A root context is
// created per orchestrated run; child spans fan out per workflow, task,
// or debate.
type TraceContext struct {
	RunID      string `json:"run_id"`
	TraceID    string `json:"trace_id"`
	SpanID     string `json:"span_id"`
	ParentID   string `json:"parent_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	DebateID   string `json:"debate_id,omitempty"`
}

// NewTraceContext creates a root trace context with a fresh TraceID and SpanID.
func NewTraceContext(runID string) *TraceContext {
	return &TraceContext{
		RunID:   runID,
		TraceID: randomID(),
		SpanID:  randomID(),
	}
}

// ChildSpan creates a child trace context inheriting the TraceID, RunID,
// and entity ids.
func (tc *TraceContext) ChildSpan() *TraceContext {
	child := *tc
	child.SpanID = randomID()
	child.ParentID = tc.SpanID
	return &child
}

// WithWorkflow returns a copy scoped to one workflow.
func (tc *TraceContext) WithWorkflow(id string) *TraceContext {
	child := *tc
	child.WorkflowID = id
	return &child
}

// WithTask returns a copy scoped to one task.
func (tc *TraceContext) WithTask(id string) *TraceContext {
	child := *tc
	child.TaskID = id
	return &child
}

// WithDebate returns a copy scoped to one debate.
func (tc *TraceContext) WithDebate(id string) *TraceContext {
	child := *tc
	child.DebateID = id
	return &child
}

// ErrorID derives the correlation id that keys recovery retry budgets:
// stable across retries of the same operation, distinct across entities.
func (tc *TraceContext) ErrorID() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{tc.RunID, tc.WorkflowID, tc.DebateID, tc.TaskID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return tc.TraceID
	}
	return strings.Join(parts, "/")
}

// Fields returns key-value pairs suitable for structured logging.
func (tc *TraceContext) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"run_id":   tc.RunID,
		"trace_id": tc.TraceID,
		"span_id":  tc.SpanID,
	}
	if tc.ParentID != "" {
		fields["parent_id"] = tc.ParentID
	}
	if tc.WorkflowID != "" {
		fields["workflow_id"] = tc.WorkflowID
	}
	if tc.TaskID != "" {
		fields["task_id"] = tc.TaskID
	}
	if tc.DebateID != "" {
		fields["debate_id"] = tc.DebateID
	}
	return fields
}

// ContextWithTrace stores a TraceContext in the context.
func ContextWithTrace(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, tc)
}

// TraceFromContext extracts a TraceContext from the context, or nil.
func TraceFromContext(ctx context.Context) *TraceContext {
	tc, _ := ctx.Value(traceKey{}).(*TraceContext)
	return tc
}

// WithTrace returns a logger enriched with trace fields from the context.
func (l *Logger) WithTrace(ctx context.Context) *Logger {
	tc := TraceFromContext(ctx)
	if tc == nil {
		return l
	}
	return l.WithFields(tc.Fields())
}

func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
