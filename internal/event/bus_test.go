package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger records warn messages.
type testLogger struct {
	mu       sync.Mutex
	warnings []string
}

func (l *testLogger) Warn(msg string, keyvals ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, msg)
}

func (l *testLogger) Info(msg string, keyvals ...interface{})  {}
func (l *testLogger) Debug(msg string, keyvals ...interface{}) {}

func (l *testLogger) warningCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warnings)
}

// collector records handled events.
type collector struct {
	mu      sync.Mutex
	handled []Event
}

func (c *collector) handler() Handler {
	return func(ev Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handled = append(c.handled, ev)
		return nil
	}
}

func (c *collector) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]Event, len(c.handled))
	copy(cp, c.handled)
	return cp
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handled)
}

func newTestBus(logger Logger) *Bus {
	return NewBusSize(logger, 16, 10*time.Millisecond)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBus_PublishDispatches(t *testing.T) {
	bus := newTestBus(nil)
	defer bus.Stop(context.Background())

	col := &collector{}
	bus.Register(StepStarted, col.handler())

	if !bus.Publish(New(StepStarted, map[string]interface{}{"task": "a"})) {
		t.Fatal("publish should be accepted")
	}

	waitFor(t, time.Second, "event dispatch", func() bool { return col.count() == 1 })

	handled := col.events()
	if handled[0].Type != StepStarted {
		t.Errorf("expected StepStarted, got %s", handled[0].Type)
	}
	if handled[0].ID == "" {
		t.Error("expected event id to be assigned")
	}
}

func TestBus_RoutingByEventType(t *testing.T) {
	bus := newTestBus(nil)
	defer bus.Stop(context.Background())

	stepCol := &collector{}
	wfCol := &collector{}
	bus.Register(StepStarted, stepCol.handler())
	bus.Register(StepCompleted, stepCol.handler())
	bus.Register(WorkflowStarted, wfCol.handler())

	bus.Publish(New(StepStarted, nil))
	bus.Publish(New(WorkflowStarted, nil))
	bus.Publish(New(StepCompleted, nil))

	waitFor(t, time.Second, "all dispatches", func() bool {
		return stepCol.count() == 2 && wfCol.count() == 1
	})
}

func TestBus_StrictOrderAcrossEvents(t *testing.T) {
	bus := newTestBus(nil)
	defer bus.Stop(context.Background())

	var mu sync.Mutex
	var seen []int
	bus.Register(StepStarted, func(ev Event) error {
		// Uneven handler latency must not reorder dispatch.
		n := ev.Data["n"].(int)
		time.Sleep(time.Duration(n%3) * time.Millisecond)
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return nil
	})

	const total = 50
	for i := 0; i < total; i++ {
		if !bus.Publish(New(StepStarted, map[string]interface{}{"n": i})) {
			t.Fatalf("publish %d rejected", i)
		}
	}

	waitFor(t, 5*time.Second, "all events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == total
	})

	mu.Lock()
	defer mu.Unlock()
	for i, n := range seen {
		if n != i {
			t.Fatalf("events dispatched out of order: position %d holds %d", i, n)
		}
	}
}

func TestBus_HandlersFanOutWithinEvent(t *testing.T) {
	bus := newTestBus(nil)
	defer bus.Stop(context.Background())

	// Each handler waits for the other to start. This only completes if
	// both run concurrently.
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})
	var met atomic.Int32

	rendezvous := func(mine chan struct{}, other chan struct{}) Handler {
		return func(Event) error {
			close(mine)
			select {
			case <-other:
				met.Add(1)
			case <-time.After(2 * time.Second):
			}
			return nil
		}
	}
	bus.Register(WorkflowStarted, rendezvous(aStarted, bStarted))
	bus.Register(WorkflowStarted, rendezvous(bStarted, aStarted))

	bus.Publish(New(WorkflowStarted, nil))

	waitFor(t, 3*time.Second, "rendezvous", func() bool { return met.Load() == 2 })
}

func TestBus_NextEventWaitsForAllHandlers(t *testing.T) {
	bus := newTestBus(nil)
	defer bus.Stop(context.Background())

	var slowDone atomic.Bool
	var sawSlowDone atomic.Bool
	var recorded atomic.Bool

	bus.Register(StepStarted, func(Event) error {
		time.Sleep(60 * time.Millisecond)
		slowDone.Store(true)
		return nil
	})
	bus.Register(StepCompleted, func(Event) error {
		sawSlowDone.Store(slowDone.Load())
		recorded.Store(true)
		return nil
	})

	bus.Publish(New(StepStarted, nil))
	bus.Publish(New(StepCompleted, nil))

	waitFor(t, 2*time.Second, "second event", func() bool { return recorded.Load() })
	if !sawSlowDone.Load() {
		t.Error("second event dispatched before first event's slow handler finished")
	}
}

func TestBus_HandlerErrorIsolated(t *testing.T) {
	logger := &testLogger{}
	bus := newTestBus(logger)
	defer bus.Stop(context.Background())

	col := &collector{}
	bus.Register(StepStarted, func(Event) error {
		return fmt.Errorf("handler error")
	})
	bus.Register(StepStarted, col.handler())

	bus.Publish(New(StepStarted, nil))
	bus.Publish(New(StepStarted, nil))

	waitFor(t, time.Second, "sibling and subsequent dispatch", func() bool {
		return col.count() == 2
	})
	waitFor(t, time.Second, "warning logged", func() bool {
		return logger.warningCount() >= 2
	})
	if got := bus.HandlerErrors(); got != 2 {
		t.Errorf("HandlerErrors() = %d, want 2", got)
	}
}

func TestBus_HandlerPanicIsolated(t *testing.T) {
	logger := &testLogger{}
	bus := newTestBus(logger)
	defer bus.Stop(context.Background())

	col := &collector{}
	bus.Register(StepFailed, func(Event) error {
		panic("handler panic")
	})
	bus.Register(StepFailed, col.handler())

	bus.Publish(New(StepFailed, nil))
	bus.Publish(New(StepFailed, nil))

	waitFor(t, time.Second, "loop survives panic", func() bool {
		return col.count() == 2
	})
	if logger.warningCount() == 0 {
		t.Error("expected panic warning to be logged")
	}
	waitFor(t, time.Second, "panics counted", func() bool {
		return bus.HandlerErrors() == 2
	})
}

func TestBus_PublishNeverBlocksWhenFull(t *testing.T) {
	bus := NewBusSize(nil, 2, 10*time.Millisecond)
	defer bus.Stop(context.Background())

	release := make(chan struct{})
	blocked := make(chan struct{})
	var once sync.Once
	bus.Register(StepStarted, func(Event) error {
		once.Do(func() { close(blocked) })
		<-release
		return nil
	})

	// First event occupies the loop; the next two fill the queue.
	bus.Publish(New(StepStarted, nil))
	<-blocked
	if !bus.Publish(New(StepStarted, nil)) {
		t.Fatal("second publish should fit in the queue")
	}
	if !bus.Publish(New(StepStarted, nil)) {
		t.Fatal("third publish should fit in the queue")
	}

	start := time.Now()
	accepted := bus.Publish(New(StepStarted, nil))
	if accepted {
		t.Error("publish into a full queue should report a drop")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("publish blocked for %v", elapsed)
	}
	if bus.Dropped() != 1 {
		t.Errorf("expected 1 dropped event, got %d", bus.Dropped())
	}

	close(release)
}

func TestBus_Unregister(t *testing.T) {
	bus := newTestBus(nil)
	defer bus.Stop(context.Background())

	col := &collector{}
	keep := &collector{}
	sub := bus.Register(StepStarted, col.handler())
	bus.Register(StepStarted, keep.handler())

	bus.Publish(New(StepStarted, nil))
	waitFor(t, time.Second, "first dispatch", func() bool { return keep.count() == 1 })

	bus.Unregister(sub)
	bus.Publish(New(StepStarted, nil))
	waitFor(t, time.Second, "second dispatch", func() bool { return keep.count() == 2 })

	if col.count() != 1 {
		t.Errorf("unregistered handler received %d events, expected 1", col.count())
	}

	// Zero-value and repeated unregister are no-ops.
	bus.Unregister(Subscription{})
	bus.Unregister(sub)
}

func TestBus_PublishWithoutHandlers(t *testing.T) {
	bus := newTestBus(nil)
	defer bus.Stop(context.Background())

	if !bus.Publish(New(DebateStarted, nil)) {
		t.Error("publish without handlers should still be accepted")
	}
	if bus.Published() != 1 {
		t.Errorf("expected 1 published event, got %d", bus.Published())
	}
}

func TestBus_StopWaitsForInFlightEvent(t *testing.T) {
	bus := newTestBus(nil)

	started := make(chan struct{})
	var finished atomic.Bool
	bus.Register(StepStarted, func(Event) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	bus.Publish(New(StepStarted, nil))
	<-started

	if err := bus.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !finished.Load() {
		t.Error("stop returned before the in-flight handler finished")
	}
}

func TestBus_StopThenRestart(t *testing.T) {
	bus := newTestBus(nil)
	defer bus.Stop(context.Background())

	col := &collector{}
	bus.Register(StepStarted, col.handler())

	bus.Publish(New(StepStarted, nil))
	waitFor(t, time.Second, "first dispatch", func() bool { return col.count() == 1 })

	if err := bus.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	// Stop twice is a no-op.
	if err := bus.Stop(context.Background()); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}

	// Publish restarts the drain loop.
	bus.Publish(New(StepStarted, nil))
	waitFor(t, time.Second, "dispatch after restart", func() bool { return col.count() == 2 })
}

func TestBus_NilBusSafe(t *testing.T) {
	var bus *Bus

	// All operations should be no-ops, not panic.
	bus.Register(StepStarted, func(Event) error { return nil })
	bus.Unregister(Subscription{})
	bus.Drain()
	if bus.Publish(New(StepStarted, nil)) {
		t.Error("nil bus should not accept events")
	}
	if err := bus.Stop(context.Background()); err != nil {
		t.Errorf("nil bus Stop should return nil error, got %v", err)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBusSize(nil, 256, 10*time.Millisecond)
	defer bus.Stop(context.Background())

	var count int64
	bus.Register(StepStarted, func(Event) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(New(StepStarted, nil))
		}()
	}
	wg.Wait()

	waitFor(t, 2*time.Second, "all dispatches", func() bool {
		return atomic.LoadInt64(&count) == 100
	})
	if bus.Published() != 100 {
		t.Errorf("expected 100 published, got %d", bus.Published())
	}
}
