package state

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowPaused     WorkflowStatus = "paused"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
	WorkflowTerminated WorkflowStatus = "terminated"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// TaskStatus is the lifecycle state of a task. A task becomes ready when
// every dependency has completed and it enters the scheduler's queue.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskTerminated TaskStatus = "terminated"
)

// DebateStatus is the lifecycle state of a debate session.
type DebateStatus string

const (
	DebatePending    DebateStatus = "pending"
	DebateInProgress DebateStatus = "in_progress"
	DebateConsensus  DebateStatus = "consensus_reached"
	DebateFailed     DebateStatus = "failed"
	DebateTerminated DebateStatus = "terminated"
)

// Transition tables. A transition is legal only if the target appears in
// the source's edge list; everything else is rejected. Cancellation is
// legal from every state where work can still run; completed and failed
// keep a teardown edge to terminated.
var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowPending:    {WorkflowInProgress, WorkflowFailed, WorkflowCancelled},
	WorkflowInProgress: {WorkflowCompleted, WorkflowFailed, WorkflowTerminated, WorkflowPaused, WorkflowCancelled},
	WorkflowPaused:     {WorkflowInProgress, WorkflowCancelled},
	WorkflowCompleted:  {WorkflowTerminated},
	WorkflowFailed:     {WorkflowTerminated},
	WorkflowTerminated: {},
	WorkflowCancelled:  {},
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskReady, TaskInProgress, TaskFailed},
	TaskReady:      {TaskInProgress, TaskFailed, TaskTerminated},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskTerminated},
	TaskCompleted:  {TaskTerminated},
	TaskFailed:     {TaskTerminated},
	TaskTerminated: {},
}

var debateTransitions = map[DebateStatus][]DebateStatus{
	DebatePending:    {DebateInProgress, DebateFailed},
	DebateInProgress: {DebateConsensus, DebateFailed, DebateTerminated},
	DebateConsensus:  {DebateTerminated},
	DebateFailed:     {DebateTerminated},
	DebateTerminated: {},
}

// CanTransitionTo reports whether the edge from s to next exists.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the workflow has finished its active life.
// Terminated remains reachable from completed and failed as teardown.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowTerminated, WorkflowCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge from s to next exists.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the task has finished.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTerminated:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge from s to next exists.
func (s DebateStatus) CanTransitionTo(next DebateStatus) bool {
	for _, allowed := range debateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the debate has finished.
func (s DebateStatus) Terminal() bool {
	switch s {
	case DebateConsensus, DebateFailed, DebateTerminated:
		return true
	}
	return false
}

// WorkflowTransitions returns a copy of the workflow edge table.
func WorkflowTransitions() map[WorkflowStatus][]WorkflowStatus {
	out := make(map[WorkflowStatus][]WorkflowStatus, len(workflowTransitions))
	for from, to := range workflowTransitions {
		out[from] = append([]WorkflowStatus(nil), to...)
	}
	return out
}

// TaskTransitions returns a copy of the task edge table.
func TaskTransitions() map[TaskStatus][]TaskStatus {
	out := make(map[TaskStatus][]TaskStatus, len(taskTransitions))
	for from, to := range taskTransitions {
		out[from] = append([]TaskStatus(nil), to...)
	}
	return out
}

// DebateTransitions returns a copy of the debate edge table.
func DebateTransitions() map[DebateStatus][]DebateStatus {
	out := make(map[DebateStatus][]DebateStatus, len(debateTransitions))
	for from, to := range debateTransitions {
		out[from] = append([]DebateStatus(nil), to...)
	}
	return out
}
