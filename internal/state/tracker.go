package state

import (
	"fmt"
	"sync"

	"github.com/rostrum-oss/rostrum/internal/event"
)

// TransitionError reports a rejected lifecycle transition, naming the
// attempted edge.
type TransitionError struct {
	Entity string // "workflow", "task", or "debate"
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// Logger is a minimal logging interface so the tracker doesn't depend on
// telemetry.
type Logger interface {
	Info(msg string, keyvals ...interface{})
}

// Tracker holds the lifecycle state of every workflow, task, and debate.
// State is never assigned directly: a Set call validates the edge against
// the transition table, writes the map, then announces the change on the
// bus — all under one mutex, so event order matches acceptance order and a
// handler that queries the tracker sees the post-transition state.
type Tracker struct {
	mu        sync.Mutex
	bus       *event.Bus
	logger    Logger
	workflows map[string]WorkflowStatus
	tasks     map[string]TaskStatus
	debates   map[string]DebateStatus
}

// NewTracker creates an empty tracker publishing to bus. Both arguments
// may be nil (nil bus drops events, nil logger is silent).
func NewTracker(bus *event.Bus, logger Logger) *Tracker {
	return &Tracker{
		bus:       bus,
		logger:    logger,
		workflows: make(map[string]WorkflowStatus),
		tasks:     make(map[string]TaskStatus),
		debates:   make(map[string]DebateStatus),
	}
}

// SetWorkflowState transitions a workflow. Ids never seen before start at
// pending. Setting the current status again is an idempotent no-op: no
// write, no event. An illegal edge returns *TransitionError and leaves the
// map untouched. Detail, if non-nil, is merged into the event payload.
func (t *Tracker) SetWorkflowState(id string, next WorkflowStatus, detail map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.workflows[id]
	if !ok {
		current = WorkflowPending
	}
	if current == next {
		return nil
	}
	if !current.CanTransitionTo(next) {
		return &TransitionError{Entity: "workflow", ID: id, From: string(current), To: string(next)}
	}

	t.workflows[id] = next
	if t.logger != nil {
		t.logger.Info("Workflow state changed", "workflow_id", id, "from", string(current), "to", string(next))
	}

	if typ, ok := workflowEventType(next); ok {
		ev := event.New(typ, payload(string(next), detail))
		ev.WorkflowID = id
		t.bus.Publish(ev)
	}
	return nil
}

// SetTaskState transitions a task; same contract as SetWorkflowState.
func (t *Tracker) SetTaskState(id string, next TaskStatus, detail map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.tasks[id]
	if !ok {
		current = TaskPending
	}
	if current == next {
		return nil
	}
	if !current.CanTransitionTo(next) {
		return &TransitionError{Entity: "task", ID: id, From: string(current), To: string(next)}
	}

	t.tasks[id] = next
	if t.logger != nil {
		t.logger.Info("Task state changed", "task_id", id, "from", string(current), "to", string(next))
	}

	if typ, ok := taskEventType(next); ok {
		ev := event.New(typ, payload(string(next), detail))
		ev.StepID = id
		if wf, ok := detail["workflow_id"].(string); ok {
			ev.WorkflowID = wf
		}
		t.bus.Publish(ev)
	}
	return nil
}

// SetDebateState transitions a debate; same contract as SetWorkflowState.
func (t *Tracker) SetDebateState(id string, next DebateStatus, detail map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.debates[id]
	if !ok {
		current = DebatePending
	}
	if current == next {
		return nil
	}
	if !current.CanTransitionTo(next) {
		return &TransitionError{Entity: "debate", ID: id, From: string(current), To: string(next)}
	}

	t.debates[id] = next
	if t.logger != nil {
		t.logger.Info("Debate state changed", "debate_id", id, "from", string(current), "to", string(next))
	}

	if typ, ok := debateEventType(next); ok {
		data := payload(string(next), detail)
		data["debate_id"] = id
		t.bus.Publish(event.New(typ, data))
	}
	return nil
}

// GetWorkflowState returns the tracked status, if any.
func (t *Tracker) GetWorkflowState(id string) (WorkflowStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.workflows[id]
	return st, ok
}

// GetTaskState returns the tracked status, if any.
func (t *Tracker) GetTaskState(id string) (TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.tasks[id]
	return st, ok
}

// GetDebateState returns the tracked status, if any.
func (t *Tracker) GetDebateState(id string) (DebateStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.debates[id]
	return st, ok
}

// WorkflowStates returns a copy of the workflow state map.
func (t *Tracker) WorkflowStates() map[string]WorkflowStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]WorkflowStatus, len(t.workflows))
	for k, v := range t.workflows {
		out[k] = v
	}
	return out
}

// TaskStates returns a copy of the task state map.
func (t *Tracker) TaskStates() map[string]TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TaskStatus, len(t.tasks))
	for k, v := range t.tasks {
		out[k] = v
	}
	return out
}

// DebateStates returns a copy of the debate state map.
func (t *Tracker) DebateStates() map[string]DebateStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]DebateStatus, len(t.debates))
	for k, v := range t.debates {
		out[k] = v
	}
	return out
}

// ClearStates wipes all three maps. Used for teardown; there is no
// per-entity removal.
func (t *Tracker) ClearStates() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workflows = make(map[string]WorkflowStatus)
	t.tasks = make(map[string]TaskStatus)
	t.debates = make(map[string]DebateStatus)
}

// workflowEventType maps an accepted workflow transition to its announcement.
// Paused, cancelled, and terminated have no event in the closed type set;
// a paused→in_progress resume announces as started again.
func workflowEventType(st WorkflowStatus) (event.EventType, bool) {
	switch st {
	case WorkflowInProgress:
		return event.WorkflowStarted, true
	case WorkflowCompleted:
		return event.WorkflowCompleted, true
	case WorkflowFailed:
		return event.WorkflowFailed, true
	}
	return "", false
}

func taskEventType(st TaskStatus) (event.EventType, bool) {
	switch st {
	case TaskInProgress:
		return event.StepStarted, true
	case TaskCompleted:
		return event.StepCompleted, true
	case TaskFailed:
		return event.StepFailed, true
	}
	return "", false
}

// debateEventType maps debate transitions; failed and terminated both
// announce as ended, distinguished by status in the payload.
func debateEventType(st DebateStatus) (event.EventType, bool) {
	switch st {
	case DebateInProgress:
		return event.DebateStarted, true
	case DebateConsensus:
		return event.ConsensusReached, true
	case DebateFailed, DebateTerminated:
		return event.DebateEnded, true
	}
	return "", false
}

func payload(status string, detail map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(detail)+1)
	for k, v := range detail {
		data[k] = v
	}
	data["status"] = status
	return data
}
