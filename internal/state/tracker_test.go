package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rostrum-oss/rostrum/internal/event"
)

var allEventTypes = []event.EventType{
	event.WorkflowStarted, event.WorkflowCompleted, event.WorkflowFailed,
	event.StepStarted, event.StepCompleted, event.StepFailed,
	event.AgentTaskStarted, event.AgentTaskCompleted, event.AgentTaskFailed,
	event.DebateStarted, event.ArgumentSubmitted, event.EvidencePresented,
	event.RoundCompleted, event.ConsensusReached, event.DebateEnded,
}

// capture records every event published to the bus.
type capture struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *capture) handler() event.Handler {
	return func(ev event.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, ev)
		return nil
	}
}

func (c *capture) all() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]event.Event, len(c.events))
	copy(cp, c.events)
	return cp
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestTracker(t *testing.T) (*Tracker, *capture) {
	t.Helper()
	bus := event.NewBusSize(nil, 64, 10*time.Millisecond)
	t.Cleanup(func() { bus.Stop(context.Background()) })

	cap := &capture{}
	for _, typ := range allEventTypes {
		bus.Register(typ, cap.handler())
	}
	return NewTracker(bus, nil), cap
}

func waitForEvents(t *testing.T, c *capture, n int) []event.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return c.all()
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, c.count())
	return nil
}

func TestTracker_WorkflowLifecycle(t *testing.T) {
	tracker, cap := newTestTracker(t)

	if err := tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.SetWorkflowState("wf-1", WorkflowCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, ok := tracker.GetWorkflowState("wf-1")
	if !ok || st != WorkflowCompleted {
		t.Errorf("expected completed, got %s (ok=%v)", st, ok)
	}

	events := waitForEvents(t, cap, 2)
	if events[0].Type != event.WorkflowStarted || events[1].Type != event.WorkflowCompleted {
		t.Errorf("unexpected event sequence: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].WorkflowID != "wf-1" {
		t.Errorf("expected workflow id wf-1, got %q", events[0].WorkflowID)
	}
	if events[1].Data["status"] != "completed" {
		t.Errorf("expected status completed in payload, got %v", events[1].Data["status"])
	}
}

func TestTracker_SameStateIsNoOp(t *testing.T) {
	tracker, cap := newTestTracker(t)

	if err := tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil); err != nil {
		t.Fatalf("same-state transition should be a no-op, got %v", err)
	}

	waitForEvents(t, cap, 1)
	time.Sleep(30 * time.Millisecond)
	if cap.count() != 1 {
		t.Errorf("expected exactly 1 event, got %d", cap.count())
	}
}

func TestTracker_InvalidTransition(t *testing.T) {
	tracker, cap := newTestTracker(t)

	tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil)
	tracker.SetWorkflowState("wf-1", WorkflowCompleted, nil)

	err := tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil)
	if err == nil {
		t.Fatal("expected error for completed -> in_progress")
	}

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if te.Entity != "workflow" || te.ID != "wf-1" || te.From != "completed" || te.To != "in_progress" {
		t.Errorf("transition error does not name the attempted edge: %+v", te)
	}

	// The map must be untouched and no event published for the rejection.
	st, _ := tracker.GetWorkflowState("wf-1")
	if st != WorkflowCompleted {
		t.Errorf("state changed on rejected transition: %s", st)
	}
	waitForEvents(t, cap, 2)
	time.Sleep(30 * time.Millisecond)
	if cap.count() != 2 {
		t.Errorf("expected 2 events, got %d", cap.count())
	}
}

func TestTracker_UnknownIdStartsAtPending(t *testing.T) {
	tracker, _ := newTestTracker(t)

	// pending -> completed is not an edge, so a fresh id can't jump there.
	err := tracker.SetWorkflowState("new", WorkflowCompleted, nil)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %v", err)
	}
	if te.From != "pending" {
		t.Errorf("expected validation from pending, got %s", te.From)
	}

	if _, ok := tracker.GetWorkflowState("new"); ok {
		t.Error("rejected transition must not create the entry")
	}
}

func TestTracker_TaskLifecycle(t *testing.T) {
	tracker, cap := newTestTracker(t)

	if err := tracker.SetTaskState("t-1", TaskReady, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.SetTaskState("t-1", TaskInProgress, map[string]interface{}{"workflow_id": "wf-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.SetTaskState("t-1", TaskCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// ready publishes nothing; started and completed do.
	events := waitForEvents(t, cap, 2)
	if events[0].Type != event.StepStarted || events[1].Type != event.StepCompleted {
		t.Errorf("unexpected sequence: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].StepID != "t-1" {
		t.Errorf("expected step id t-1, got %q", events[0].StepID)
	}
	if events[0].WorkflowID != "wf-1" {
		t.Errorf("expected workflow id from detail, got %q", events[0].WorkflowID)
	}
}

func TestTracker_TaskFailureCarriesError(t *testing.T) {
	tracker, cap := newTestTracker(t)

	tracker.SetTaskState("t-9", TaskInProgress, nil)
	detail := map[string]interface{}{"error": "executor crashed"}
	if err := tracker.SetTaskState("t-9", TaskFailed, detail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := waitForEvents(t, cap, 2)
	failed := events[1]
	if failed.Type != event.StepFailed {
		t.Fatalf("expected step.failed, got %s", failed.Type)
	}
	if failed.Data["error"] != "executor crashed" {
		t.Errorf("expected error message in payload, got %v", failed.Data["error"])
	}
}

func TestTracker_DebateLifecycle(t *testing.T) {
	tracker, cap := newTestTracker(t)

	tracker.SetDebateState("d-1", DebateInProgress, nil)
	tracker.SetDebateState("d-1", DebateConsensus, nil)

	events := waitForEvents(t, cap, 2)
	if events[0].Type != event.DebateStarted || events[1].Type != event.ConsensusReached {
		t.Errorf("unexpected sequence: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].Data["debate_id"] != "d-1" {
		t.Errorf("expected debate_id in payload, got %v", events[0].Data["debate_id"])
	}
}

func TestTracker_DebateFailureAnnouncesEnded(t *testing.T) {
	tracker, cap := newTestTracker(t)

	tracker.SetDebateState("d-2", DebateInProgress, nil)
	tracker.SetDebateState("d-2", DebateFailed, nil)

	events := waitForEvents(t, cap, 2)
	if events[1].Type != event.DebateEnded {
		t.Fatalf("expected debate.ended, got %s", events[1].Type)
	}
	if events[1].Data["status"] != "failed" {
		t.Errorf("expected failed status in payload, got %v", events[1].Data["status"])
	}
}

func TestTracker_HandlerSeesPostTransitionState(t *testing.T) {
	bus := event.NewBusSize(nil, 64, 10*time.Millisecond)
	t.Cleanup(func() { bus.Stop(context.Background()) })
	tracker := NewTracker(bus, nil)

	observed := make(chan WorkflowStatus, 1)
	bus.Register(event.WorkflowStarted, func(ev event.Event) error {
		st, _ := tracker.GetWorkflowState(ev.WorkflowID)
		observed <- st
		return nil
	})

	tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil)

	select {
	case st := <-observed:
		if st != WorkflowInProgress {
			t.Errorf("handler saw %s, expected in_progress", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestTracker_ClearStates(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil)
	tracker.SetTaskState("t-1", TaskReady, nil)
	tracker.SetDebateState("d-1", DebateInProgress, nil)

	tracker.ClearStates()

	if len(tracker.WorkflowStates()) != 0 || len(tracker.TaskStates()) != 0 || len(tracker.DebateStates()) != 0 {
		t.Error("clear should wipe all three maps")
	}
}

func TestTracker_SnapshotAndRestore(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil)
	tracker.SetTaskState("t-1", TaskCompleted, map[string]interface{}{})
	tracker.SetDebateState("d-1", DebateInProgress, nil)

	snap := tracker.Snapshot(map[string]interface{}{"active_tasks": 1})
	if snap.Timestamp.IsZero() {
		t.Error("snapshot timestamp should be set")
	}
	if snap.Resources["active_tasks"] != 1 {
		t.Errorf("expected resources in snapshot, got %v", snap.Resources)
	}

	// Drift the live state, then restore.
	tracker.SetWorkflowState("wf-1", WorkflowFailed, nil)
	tracker.SetWorkflowState("wf-2", WorkflowInProgress, nil)

	tracker.Restore(snap)

	st, _ := tracker.GetWorkflowState("wf-1")
	if st != WorkflowInProgress {
		t.Errorf("expected restored in_progress, got %s", st)
	}
	if _, ok := tracker.GetWorkflowState("wf-2"); ok {
		t.Error("restore must drop entries absent from the snapshot")
	}
	if ts, _ := tracker.GetTaskState("t-1"); ts != TaskCompleted {
		t.Errorf("expected task completed after restore, got %s", ts)
	}
}

func TestTracker_SnapshotIsDetached(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil)

	snap := tracker.Snapshot(nil)
	snap.WorkflowStates["wf-1"] = WorkflowFailed

	st, _ := tracker.GetWorkflowState("wf-1")
	if st != WorkflowInProgress {
		t.Error("mutating a snapshot must not affect the tracker")
	}
}

func TestTracker_NilBusSafe(t *testing.T) {
	tracker := NewTracker(nil, nil)
	if err := tracker.SetWorkflowState("wf-1", WorkflowInProgress, nil); err != nil {
		t.Fatalf("tracker with nil bus should still track: %v", err)
	}
	st, ok := tracker.GetWorkflowState("wf-1")
	if !ok || st != WorkflowInProgress {
		t.Errorf("expected in_progress, got %s", st)
	}
}
