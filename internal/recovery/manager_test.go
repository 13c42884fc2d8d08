package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/state"
)

// fastPolicies mirrors the default table with millisecond delays so retry
// tests finish quickly.
func fastPolicies() map[rostrumErrors.Kind]Action {
	return map[rostrumErrors.Kind]Action{
		rostrumErrors.KindTransient: {Level: LevelRetry, MaxRetries: 3, Delay: time.Millisecond},
		rostrumErrors.KindResource:  {Level: LevelCheckpoint, MaxRetries: 2, Delay: time.Millisecond},
		rostrumErrors.KindAgent:     {Level: LevelRetry, MaxRetries: 2, Delay: time.Millisecond},
	}
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *state.Tracker) {
	t.Helper()
	tracker := state.NewTracker(nil, nil)
	cfg := Config{Tracker: tracker, Policies: fastPolicies()}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, tracker
}

func TestNewManager_RequiresTracker(t *testing.T) {
	_, err := NewManager(Config{})
	if err == nil {
		t.Fatal("expected error for missing tracker")
	}
	if rostrumErrors.AsCode(err) != rostrumErrors.CodeConfigInvalid {
		t.Fatalf("error code = %s, want %s", rostrumErrors.AsCode(err), rostrumErrors.CodeConfigInvalid)
	}
}

func TestManager_Categorize(t *testing.T) {
	mgr, _ := newTestManager(t, nil)

	cases := []struct {
		name string
		err  error
		want rostrumErrors.Kind
	}{
		{"nil", nil, rostrumErrors.KindUnknown},
		{"tagged transient", rostrumErrors.New(rostrumErrors.KindTransient, rostrumErrors.CodeTimeout, "t"), rostrumErrors.KindTransient},
		{"tagged resource", rostrumErrors.New(rostrumErrors.KindResource, rostrumErrors.CodeWorkflowCapacity, "r"), rostrumErrors.KindResource},
		{"tagged validation", rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid, "v"), rostrumErrors.KindValidation},
		{"transition error", &state.TransitionError{Entity: "workflow", ID: "wf", From: "pending", To: "completed"}, rostrumErrors.KindState},
		{"wrapped transition error", fmt.Errorf("saving: %w", &state.TransitionError{Entity: "task", ID: "t", From: "pending", To: "completed"}), rostrumErrors.KindState},
		{"plain error", errors.New("something broke"), rostrumErrors.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mgr.Categorize(tc.err); got != tc.want {
				t.Fatalf("Categorize(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestManager_HandleNilError(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	if err := mgr.Handle(context.Background(), nil, Context{ErrorID: "x"}); err != nil {
		t.Fatalf("Handle(nil) = %v, want nil", err)
	}
	if mgr.Attempts("x") != 0 {
		t.Fatalf("nil error consumed budget: attempts = %d", mgr.Attempts("x"))
	}
}

func TestManager_RetryBudgetThenOriginalError(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	cause := rostrumErrors.New(rostrumErrors.KindTransient, rostrumErrors.CodeTimeout, "connection reset")
	rctx := Context{ErrorID: "wf-1/t1", Component: "workflow", Operation: "execute_task"}

	for i := 1; i <= 3; i++ {
		if err := mgr.Handle(context.Background(), cause, rctx); err != nil {
			t.Fatalf("attempt %d: Handle = %v, want nil", i, err)
		}
		if got := mgr.Attempts(rctx.ErrorID); got != i {
			t.Fatalf("attempt %d: Attempts = %d, want %d", i, got, i)
		}
	}

	err := mgr.Handle(context.Background(), cause, rctx)
	if err != cause {
		t.Fatalf("exhausted Handle = %v, want the original error", err)
	}
	if got := mgr.Attempts(rctx.ErrorID); got != 3 {
		t.Fatalf("Attempts after exhaustion = %d, want 3", got)
	}
}

func TestManager_RetryHonorsContextCancellation(t *testing.T) {
	mgr, _ := newTestManager(t, func(cfg *Config) {
		cfg.Policies = map[rostrumErrors.Kind]Action{
			rostrumErrors.KindTransient: {Level: LevelRetry, MaxRetries: 3, Delay: time.Hour},
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cause := rostrumErrors.New(rostrumErrors.KindTransient, rostrumErrors.CodeTimeout, "slow")
	start := time.Now()
	err := mgr.Handle(ctx, cause, Context{ErrorID: "slow-retry"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Handle = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Handle waited out the delay despite cancellation")
	}
}

func TestManager_ValidationTerminatesImmediately(t *testing.T) {
	var mu sync.Mutex
	cleanups := 0
	mgr, _ := newTestManager(t, func(cfg *Config) {
		cfg.Cleanup = func(context.Context) error {
			mu.Lock()
			cleanups++
			mu.Unlock()
			return nil
		}
	})

	cause := rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid, "bad definition")
	err := mgr.Handle(context.Background(), cause, Context{ErrorID: "v1"})
	if err != cause {
		t.Fatalf("Handle = %v, want the original error", err)
	}
	if cleanups != 1 {
		t.Fatalf("cleanup calls = %d, want 1", cleanups)
	}
}

func TestManager_EmergencyRunsCleanupAndSurfaces(t *testing.T) {
	cleanups := 0
	mgr, _ := newTestManager(t, func(cfg *Config) {
		cfg.Cleanup = func(context.Context) error {
			cleanups++
			return nil
		}
	})

	cause := rostrumErrors.New(rostrumErrors.KindSystem, rostrumErrors.CodeStoreUnavailable, "disk gone")
	err := mgr.Handle(context.Background(), cause, Context{ErrorID: "sys1"})
	if err != cause {
		t.Fatalf("Handle = %v, want the original error", err)
	}
	if cleanups != 1 {
		t.Fatalf("cleanup calls = %d, want 1", cleanups)
	}
}

func TestManager_RollbackHookInvoked(t *testing.T) {
	var got Context
	rollbacks := 0
	mgr, _ := newTestManager(t, func(cfg *Config) {
		cfg.Rollback = func(_ context.Context, rctx Context) error {
			rollbacks++
			got = rctx
			return nil
		}
	})

	cause := &state.TransitionError{Entity: "workflow", ID: "wf", From: "pending", To: "completed"}
	rctx := Context{ErrorID: "st1", Component: "state", Operation: "transition"}

	if err := mgr.Handle(context.Background(), cause, rctx); err != nil {
		t.Fatalf("first Handle = %v, want nil", err)
	}
	if rollbacks != 1 {
		t.Fatalf("rollback calls = %d, want 1", rollbacks)
	}
	if got.Component != "state" || got.Operation != "transition" {
		t.Fatalf("rollback context = %+v", got)
	}

	// Budget of one: a second failure surfaces without another rollback.
	err := mgr.Handle(context.Background(), cause, rctx)
	if err == nil || !errors.As(err, new(*state.TransitionError)) {
		t.Fatalf("exhausted Handle = %v, want the transition error", err)
	}
	if rollbacks != 1 {
		t.Fatalf("rollback calls after exhaustion = %d, want 1", rollbacks)
	}
}

func TestManager_RollbackErrorSurfaces(t *testing.T) {
	hookErr := errors.New("rollback blew up")
	mgr, _ := newTestManager(t, func(cfg *Config) {
		cfg.Rollback = func(context.Context, Context) error { return hookErr }
	})

	cause := &state.TransitionError{Entity: "task", ID: "t1", From: "pending", To: "completed"}
	if err := mgr.Handle(context.Background(), cause, Context{ErrorID: "st2"}); !errors.Is(err, hookErr) {
		t.Fatalf("Handle = %v, want the rollback error", err)
	}
}

func TestManager_MissingRollbackHookStillConsumesBudget(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	cause := &state.TransitionError{Entity: "debate", ID: "d1", From: "pending", To: "consensus_reached"}
	rctx := Context{ErrorID: "st3"}

	if err := mgr.Handle(context.Background(), cause, rctx); err != nil {
		t.Fatalf("Handle without hook = %v, want nil", err)
	}
	if err := mgr.Handle(context.Background(), cause, rctx); err == nil {
		t.Fatal("expected exhaustion on the second state failure")
	}
}

func TestManager_CheckpointActionRestoresPinned(t *testing.T) {
	mgr, tracker := newTestManager(t, nil)
	ctx := context.Background()

	if err := tracker.SetWorkflowState("wf-cp", state.WorkflowInProgress, nil); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	id, err := mgr.CreateCheckpoint(ctx)
	if err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}
	if err := tracker.SetWorkflowState("wf-cp", state.WorkflowCompleted, nil); err != nil {
		t.Fatalf("advance state: %v", err)
	}

	cause := rostrumErrors.New(rostrumErrors.KindResource, rostrumErrors.CodeWorkflowCapacity, "pool exhausted")
	if herr := mgr.Handle(ctx, cause, Context{ErrorID: "res1", CheckpointID: id}); herr != nil {
		t.Fatalf("Handle = %v, want nil", herr)
	}

	st, ok := tracker.GetWorkflowState("wf-cp")
	if !ok || st != state.WorkflowInProgress {
		t.Fatalf("workflow state after restore = %s (%v), want in_progress", st, ok)
	}
}

func TestManager_CheckpointActionFallsBackToLatest(t *testing.T) {
	mgr, tracker := newTestManager(t, nil)
	ctx := context.Background()

	if err := tracker.SetWorkflowState("wf-a", state.WorkflowInProgress, nil); err != nil {
		t.Fatalf("seed wf-a: %v", err)
	}
	if _, err := mgr.CreateCheckpoint(ctx); err != nil {
		t.Fatalf("first checkpoint: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if err := tracker.SetWorkflowState("wf-b", state.WorkflowInProgress, nil); err != nil {
		t.Fatalf("seed wf-b: %v", err)
	}
	if _, err := mgr.CreateCheckpoint(ctx); err != nil {
		t.Fatalf("second checkpoint: %v", err)
	}

	if err := tracker.SetWorkflowState("wf-a", state.WorkflowCompleted, nil); err != nil {
		t.Fatalf("advance wf-a: %v", err)
	}

	cause := rostrumErrors.New(rostrumErrors.KindResource, rostrumErrors.CodeWorkflowCapacity, "pool exhausted")
	if herr := mgr.Handle(ctx, cause, Context{ErrorID: "res2"}); herr != nil {
		t.Fatalf("Handle = %v, want nil", herr)
	}

	// The newest checkpoint knows both workflows, with wf-a still running.
	if st, _ := tracker.GetWorkflowState("wf-a"); st != state.WorkflowInProgress {
		t.Fatalf("wf-a after restore = %s, want in_progress", st)
	}
	if _, ok := tracker.GetWorkflowState("wf-b"); !ok {
		t.Fatal("wf-b missing after restore; oldest checkpoint was used")
	}
}

func TestManager_CheckpointActionWithoutAnyCheckpoint(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	cause := rostrumErrors.New(rostrumErrors.KindResource, rostrumErrors.CodeWorkflowCapacity, "pool exhausted")

	err := mgr.Handle(context.Background(), cause, Context{ErrorID: "res3"})
	if err == nil {
		t.Fatal("expected error when no checkpoint exists")
	}
	if rostrumErrors.AsCode(err) != rostrumErrors.CodeCheckpointMissing {
		t.Fatalf("error code = %s, want %s", rostrumErrors.AsCode(err), rostrumErrors.CodeCheckpointMissing)
	}
}

func TestManager_EmptyErrorIDNeverPoolsBudget(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	cause := rostrumErrors.New(rostrumErrors.KindTransient, rostrumErrors.CodeTimeout, "blip")

	// Five unkeyed failures against a budget of three: each call gets a
	// fresh id, so none of them exhausts.
	for i := 0; i < 5; i++ {
		if err := mgr.Handle(context.Background(), cause, Context{}); err != nil {
			t.Fatalf("call %d: Handle = %v, want nil", i, err)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{time.Second, 1, time.Second},
		{time.Second, 2, 2 * time.Second},
		{time.Second, 3, 4 * time.Second},
		{time.Second, 10, 30 * time.Second},
		{20 * time.Second, 2, 30 * time.Second},
		{0, 3, 0},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.base, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(%s, %d) = %s, want %s", tc.base, tc.attempt, got, tc.want)
		}
	}
}
