package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Workflow lifecycle
	WorkflowStarted   EventType = "workflow.started"
	WorkflowCompleted EventType = "workflow.completed"
	WorkflowFailed    EventType = "workflow.failed"

	// Step lifecycle
	StepStarted   EventType = "step.started"
	StepCompleted EventType = "step.completed"
	StepFailed    EventType = "step.failed"

	// Agent task lifecycle
	AgentTaskStarted   EventType = "agent.task.started"
	AgentTaskCompleted EventType = "agent.task.completed"
	AgentTaskFailed    EventType = "agent.task.failed"

	// Debate lifecycle
	DebateStarted     EventType = "debate.started"
	ArgumentSubmitted EventType = "debate.argument"
	EvidencePresented EventType = "debate.evidence"
	RoundCompleted    EventType = "debate.round"
	ConsensusReached  EventType = "debate.consensus"
	DebateEnded       EventType = "debate.ended"
)

// Types returns every lifecycle event type, in declaration order. Useful
// for registering one handler across the whole stream.
func Types() []EventType {
	return []EventType{
		WorkflowStarted, WorkflowCompleted, WorkflowFailed,
		StepStarted, StepCompleted, StepFailed,
		AgentTaskStarted, AgentTaskCompleted, AgentTaskFailed,
		DebateStarted, ArgumentSubmitted, EvidencePresented,
		RoundCompleted, ConsensusReached, DebateEnded,
	}
}

// Event carries data about a lifecycle occurrence. WorkflowID, StepID, and
// AgentID correlate the event with the entities it concerns; Data holds
// type-specific payload. Handlers receive the struct by value but share the
// Data map, so handlers must not mutate it.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	StepID     string                 `json:"step_id,omitempty"`
	AgentID    string                 `json:"agent_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// New creates an event with a fresh id and the current timestamp.
func New(t EventType, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
