package state

import "testing"

var allWorkflowStatuses = []WorkflowStatus{
	WorkflowPending, WorkflowInProgress, WorkflowPaused, WorkflowCompleted,
	WorkflowFailed, WorkflowTerminated, WorkflowCancelled,
}

var allTaskStatuses = []TaskStatus{
	TaskPending, TaskReady, TaskInProgress, TaskCompleted, TaskFailed, TaskTerminated,
}

var allDebateStatuses = []DebateStatus{
	DebatePending, DebateInProgress, DebateConsensus, DebateFailed, DebateTerminated,
}

func TestWorkflowTransitions_TableMatchesCanTransitionTo(t *testing.T) {
	table := WorkflowTransitions()
	for _, from := range allWorkflowStatuses {
		allowed := make(map[WorkflowStatus]bool)
		for _, to := range table[from] {
			allowed[to] = true
		}
		for _, to := range allWorkflowStatuses {
			got := from.CanTransitionTo(to)
			if got != allowed[to] {
				t.Errorf("workflow %s -> %s: CanTransitionTo=%v, table says %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestTaskTransitions_TableMatchesCanTransitionTo(t *testing.T) {
	table := TaskTransitions()
	for _, from := range allTaskStatuses {
		allowed := make(map[TaskStatus]bool)
		for _, to := range table[from] {
			allowed[to] = true
		}
		for _, to := range allTaskStatuses {
			got := from.CanTransitionTo(to)
			if got != allowed[to] {
				t.Errorf("task %s -> %s: CanTransitionTo=%v, table says %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestDebateTransitions_TableMatchesCanTransitionTo(t *testing.T) {
	table := DebateTransitions()
	for _, from := range allDebateStatuses {
		allowed := make(map[DebateStatus]bool)
		for _, to := range table[from] {
			allowed[to] = true
		}
		for _, to := range allDebateStatuses {
			got := from.CanTransitionTo(to)
			if got != allowed[to] {
				t.Errorf("debate %s -> %s: CanTransitionTo=%v, table says %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestWorkflowTransitions_CoreEdges(t *testing.T) {
	legal := []struct{ from, to WorkflowStatus }{
		{WorkflowPending, WorkflowInProgress},
		{WorkflowPending, WorkflowFailed},
		{WorkflowInProgress, WorkflowCompleted},
		{WorkflowInProgress, WorkflowFailed},
		{WorkflowInProgress, WorkflowPaused},
		{WorkflowInProgress, WorkflowTerminated},
		{WorkflowPaused, WorkflowInProgress},
		{WorkflowCompleted, WorkflowTerminated},
		{WorkflowFailed, WorkflowTerminated},
	}
	for _, tc := range legal {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to WorkflowStatus }{
		{WorkflowPending, WorkflowCompleted},
		{WorkflowPending, WorkflowPaused},
		{WorkflowCompleted, WorkflowInProgress},
		{WorkflowTerminated, WorkflowInProgress},
		{WorkflowCancelled, WorkflowInProgress},
		{WorkflowPaused, WorkflowCompleted},
	}
	for _, tc := range illegal {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestWorkflowTransitions_CancelFromAnyNonTerminal(t *testing.T) {
	for _, from := range allWorkflowStatuses {
		want := !from.Terminal()
		if got := from.CanTransitionTo(WorkflowCancelled); got != want {
			t.Errorf("cancel from %s: got %v, want %v", from, got, want)
		}
	}
}

func TestTaskTransitions_ReadyPath(t *testing.T) {
	if !TaskPending.CanTransitionTo(TaskReady) {
		t.Error("pending -> ready should be legal")
	}
	if !TaskReady.CanTransitionTo(TaskInProgress) {
		t.Error("ready -> in_progress should be legal")
	}
	if TaskReady.CanTransitionTo(TaskCompleted) {
		t.Error("ready -> completed should be illegal")
	}
	if TaskCompleted.CanTransitionTo(TaskInProgress) {
		t.Error("completed -> in_progress should be illegal")
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, st := range []WorkflowStatus{WorkflowCompleted, WorkflowFailed, WorkflowTerminated, WorkflowCancelled} {
		if !st.Terminal() {
			t.Errorf("workflow %s should be terminal", st)
		}
	}
	for _, st := range []WorkflowStatus{WorkflowPending, WorkflowInProgress, WorkflowPaused} {
		if st.Terminal() {
			t.Errorf("workflow %s should not be terminal", st)
		}
	}
	if !TaskCompleted.Terminal() || TaskReady.Terminal() {
		t.Error("task terminal classification wrong")
	}
	if !DebateConsensus.Terminal() || DebateInProgress.Terminal() {
		t.Error("debate terminal classification wrong")
	}
}

func TestTransitionTables_ReturnCopies(t *testing.T) {
	table := WorkflowTransitions()
	table[WorkflowTerminated] = append(table[WorkflowTerminated], WorkflowInProgress)
	if WorkflowTerminated.CanTransitionTo(WorkflowInProgress) {
		t.Error("mutating the returned table must not affect the real graph")
	}
}
