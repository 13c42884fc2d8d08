// Package testutil provides a wired kernel harness and scripted mocks
// for integration-style tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/event"
	"github.com/rostrum-oss/rostrum/internal/recovery"
	"github.com/rostrum-oss/rostrum/internal/state"
	"github.com/rostrum-oss/rostrum/internal/telemetry"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

// Harness wires a bus, tracker, checkpoint store, recovery manager, and
// scheduler around a scripted executor, and captures every published
// event for assertions.
type Harness struct {
	T         *testing.T
	Logger    *telemetry.Logger
	Bus       *event.Bus
	Tracker   *state.Tracker
	Store     checkpoint.Store
	Manager   *recovery.Manager
	Scheduler *workflow.Scheduler
	Executor  *MockExecutor

	mu     sync.Mutex
	events []event.Event
}

// NewHarness builds a fully wired harness with the default recovery
// policies. Components stop via t.Cleanup.
func NewHarness(t *testing.T) *Harness {
	return NewHarnessPolicies(t, nil)
}

// NewHarnessPolicies builds a harness with explicit recovery policies,
// letting tests drop the default retry delays.
func NewHarnessPolicies(t *testing.T, policies map[rostrumErrors.Kind]recovery.Action) *Harness {
	t.Helper()

	logger := TestLogger()
	bus := event.NewBusSize(logger, 256, 10*time.Millisecond)
	tracker := state.NewTracker(bus, logger)
	store := checkpoint.NewMemoryStore()

	manager, err := recovery.NewManager(recovery.Config{
		Tracker:  tracker,
		Store:    store,
		Logger:   logger,
		Policies: policies,
	})
	if err != nil {
		t.Fatalf("recovery manager: %v", err)
	}

	h := &Harness{
		T:        t,
		Logger:   logger,
		Bus:      bus,
		Tracker:  tracker,
		Store:    store,
		Manager:  manager,
		Executor: NewMockExecutor(),
	}

	for _, et := range event.Types() {
		bus.Register(et, h.capture)
	}

	chained := workflow.Chain(h.Executor,
		workflow.WithRecovery(manager),
		workflow.WithLogging(logger),
		workflow.WithAgentEvents(bus),
	)
	sched, err := workflow.NewScheduler(workflow.Config{
		Tracker:                tracker,
		Executor:               chained,
		Logger:                 logger,
		MaxConcurrentWorkflows: 4,
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	h.Scheduler = sched

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sched.Stop(ctx); err != nil {
			t.Errorf("scheduler stop: %v", err)
		}
		if err := bus.Stop(ctx); err != nil {
			t.Errorf("bus stop: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Errorf("store close: %v", err)
		}
	})

	return h
}

func (h *Harness) capture(ev event.Event) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return nil
}

// Events returns a copy of every captured event in publish order.
func (h *Harness) Events() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.events))
	copy(out, h.events)
	return out
}

// EventCount returns the number of captured events with the given type.
func (h *Harness) EventCount(t event.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// AssertEventEmitted checks that at least one event of the given type
// was captured.
func (h *Harness) AssertEventEmitted(t event.EventType) {
	h.T.Helper()
	if h.EventCount(t) == 0 {
		h.T.Errorf("expected event %q to be emitted", t)
	}
}

// AssertNoEvent checks that no event of the given type was captured.
func (h *Harness) AssertNoEvent(t event.EventType) {
	h.T.Helper()
	if n := h.EventCount(t); n > 0 {
		h.T.Errorf("expected no %q events, got %d", t, n)
	}
}

// WaitForEvent blocks until at least n events of the given type have
// been captured, failing the test after two seconds.
func (h *Harness) WaitForEvent(t event.EventType, n int) {
	h.T.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.EventCount(t) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.T.Fatalf("timed out waiting for %d %q events, have %d", n, t, h.EventCount(t))
}

// AwaitWorkflow blocks until the workflow reaches a terminal state and
// returns it, failing the test after five seconds.
func (h *Harness) AwaitWorkflow(id string) state.WorkflowStatus {
	h.T.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := h.Tracker.GetWorkflowState(id); ok && st.Terminal() {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	st, _ := h.Tracker.GetWorkflowState(id)
	h.T.Fatalf("workflow %s never reached a terminal state, still %q", id, st)
	return st
}

// Run registers and starts a workflow definition.
func (h *Harness) Run(ctx context.Context, def *workflow.Definition) {
	h.T.Helper()
	if err := h.Scheduler.Register(def); err != nil {
		h.T.Fatalf("register %s: %v", def.ID, err)
	}
	if err := h.Scheduler.Start(ctx, def.ID); err != nil {
		h.T.Fatalf("start %s: %v", def.ID, err)
	}
}
