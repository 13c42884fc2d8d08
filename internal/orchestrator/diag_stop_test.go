package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rostrum-oss/rostrum/internal/event"
	"github.com/rostrum-oss/rostrum/internal/state"
)

func TestDiagStopDebate(t *testing.T) {
	alice := &scriptedDebater{id: "alice", confidences: []float64{0.2}}
	bob := &scriptedDebater{id: "bob", confidences: []float64{0.2}, gate: make(chan struct{})}
	o := newTestOrchestrator(t, newScriptExecutor(), Options{})
	cap := watchEvents(t, o)

	done := make(chan error, 1)
	go func() {
		_, err := o.RunDebate(context.Background(), &DebateSession{
			ID:        "halted",
			Topic:     "drop python 2 support",
			Rounds:    2,
			Proponent: alice,
			Opponent:  bob,
		})
		done <- err
	}()

	waitFor(t, "bob's turn to begin", func() bool { return bob.callCount() == 1 })
	st, ok := o.DebateStatus("halted")
	t.Logf("pre-stop state: %s ok=%v", st, ok)
	if err := o.StopDebate(context.Background(), "halted"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st, ok = o.DebateStatus("halted")
	t.Logf("post-stop state: %s ok=%v", st, ok)
	close(bob.gate)
	<-done
	time.Sleep(200 * time.Millisecond)
	for i, ev := range cap.all() {
		t.Logf("event %d: type=%s data=%v", i, ev.Type, ev.Data)
	}
	t.Logf("bus published=%d dropped=%d", o.Bus().Published(), o.Bus().Dropped())
	_ = state.DebateTerminated
	_ = event.DebateEnded
}
