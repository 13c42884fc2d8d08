//go:build integration

package integration

import (
	"context"
	"testing"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/event"
	"github.com/rostrum-oss/rostrum/internal/recovery"
	"github.com/rostrum-oss/rostrum/internal/state"
	"github.com/rostrum-oss/rostrum/internal/testutil"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

// fastPolicies drops the retry delays so failure paths resolve quickly.
func fastPolicies() map[rostrumErrors.Kind]recovery.Action {
	return map[rostrumErrors.Kind]recovery.Action{
		rostrumErrors.KindTransient: {Level: recovery.LevelRetry, MaxRetries: 3},
		rostrumErrors.KindAgent:     {Level: recovery.LevelRetry, MaxRetries: 0},
	}
}

func TestSequentialWorkflow(t *testing.T) {
	h := testutil.NewHarness(t)

	def := &workflow.Definition{
		ID:   "seq",
		Name: "Sequential",
		Tasks: []workflow.TaskDefinition{
			{ID: "implement", Name: "Implement feature", OwnerGroup: "dev"},
			{ID: "review", Name: "Review code", OwnerGroup: "reviewer", DependsOn: []string{"implement"}},
		},
	}
	h.Run(context.Background(), def)

	if st := h.AwaitWorkflow("seq"); st != state.WorkflowCompleted {
		t.Fatalf("expected completed, got %s", st)
	}
	for _, id := range []string{"implement", "review"} {
		if st, _ := h.Tracker.GetTaskState(id); st != state.TaskCompleted {
			t.Errorf("expected task %s completed, got %s", id, st)
		}
	}

	calls := h.Executor.Calls()
	if len(calls) != 2 || calls[0] != "implement" || calls[1] != "review" {
		t.Errorf("expected implement before review, got %v", calls)
	}
}

func TestSequentialWorkflow_Events(t *testing.T) {
	h := testutil.NewHarness(t)

	def := &workflow.Definition{
		ID:   "evented",
		Name: "Evented",
		Tasks: []workflow.TaskDefinition{
			{ID: "build", OwnerGroup: "engineering"},
			{ID: "ship", OwnerGroup: "engineering", DependsOn: []string{"build"}},
		},
	}
	h.Run(context.Background(), def)
	h.AwaitWorkflow("evented")
	h.WaitForEvent(event.WorkflowCompleted, 1)

	h.AssertEventEmitted(event.WorkflowStarted)
	h.AssertEventEmitted(event.StepStarted)
	h.AssertEventEmitted(event.StepCompleted)
	h.AssertEventEmitted(event.AgentTaskStarted)
	h.AssertEventEmitted(event.AgentTaskCompleted)
	h.AssertNoEvent(event.StepFailed)
	h.AssertNoEvent(event.WorkflowFailed)

	if n := h.EventCount(event.StepCompleted); n != 2 {
		t.Errorf("expected 2 step.completed events, got %d", n)
	}
}

func TestFailedTaskStarvesDependents(t *testing.T) {
	h := testutil.NewHarnessPolicies(t, fastPolicies())
	h.Executor.Script("build", testutil.Outcome{
		Err: rostrumErrors.New(rostrumErrors.KindAgent, rostrumErrors.CodeExecutorFailed, "compiler crashed"),
	})

	def := &workflow.Definition{
		ID:   "starved",
		Name: "Starved",
		Tasks: []workflow.TaskDefinition{
			{ID: "build", OwnerGroup: "engineering"},
			{ID: "deploy", OwnerGroup: "engineering", DependsOn: []string{"build"}},
			{ID: "docs", OwnerGroup: "writing"},
		},
	}
	h.Run(context.Background(), def)

	// The independent branch finishes; the failed task's dependent never
	// dispatches; the workflow stays active awaiting the caller's verdict.
	h.WaitForEvent(event.StepFailed, 1)
	h.WaitForEvent(event.StepCompleted, 1)
	if st, _ := h.Tracker.GetWorkflowState("starved"); st != state.WorkflowInProgress {
		t.Fatalf("expected workflow still in_progress, got %s", st)
	}
	if n := h.Executor.CallCount("deploy"); n != 0 {
		t.Errorf("expected deploy to starve, ran %d times", n)
	}
	if _, tracked := h.Tracker.GetTaskState("deploy"); tracked {
		t.Error("expected deploy to stay untracked")
	}

	cause := rostrumErrors.New(rostrumErrors.KindAgent, rostrumErrors.CodeWorkflowFailed, "build failed")
	if err := h.Scheduler.Fail(context.Background(), "starved", cause); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if st := h.AwaitWorkflow("starved"); st != state.WorkflowFailed {
		t.Fatalf("expected failed, got %s", st)
	}
	h.WaitForEvent(event.WorkflowFailed, 1)
}

func TestTransientFailureRetriesInPlace(t *testing.T) {
	h := testutil.NewHarnessPolicies(t, fastPolicies())
	flake := rostrumErrors.New(rostrumErrors.KindTransient, rostrumErrors.CodeTimeout, "upstream busy")
	h.Executor.Script("flaky",
		testutil.Outcome{Err: flake},
		testutil.Outcome{Err: flake},
	)

	def := &workflow.Definition{
		ID:    "retried",
		Name:  "Retried",
		Tasks: []workflow.TaskDefinition{{ID: "flaky", OwnerGroup: "network"}},
	}
	h.Run(context.Background(), def)

	if st := h.AwaitWorkflow("retried"); st != state.WorkflowCompleted {
		t.Fatalf("expected completed after retries, got %s", st)
	}
	h.WaitForEvent(event.WorkflowCompleted, 1)
	if n := h.Executor.CallCount("flaky"); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	// Retries happen inside the executor chain: one dispatch, one failure
	// never surfaces as a task state.
	h.AssertNoEvent(event.StepFailed)
	if n := h.EventCount(event.AgentTaskFailed); n != 2 {
		t.Errorf("expected 2 agent failure events, got %d", n)
	}
}

func TestPanickingTaskIsIsolated(t *testing.T) {
	h := testutil.NewHarnessPolicies(t, fastPolicies())
	h.Executor.Script("wild", testutil.Outcome{PanicMsg: "nil map write"})

	def := &workflow.Definition{
		ID:   "panicky",
		Name: "Panicky",
		Tasks: []workflow.TaskDefinition{
			{ID: "wild", OwnerGroup: "engineering"},
			{ID: "calm", OwnerGroup: "engineering"},
		},
	}
	h.Run(context.Background(), def)

	h.WaitForEvent(event.StepFailed, 1)
	h.WaitForEvent(event.StepCompleted, 1)
	if st, _ := h.Tracker.GetTaskState("wild"); st != state.TaskFailed {
		t.Errorf("expected wild failed, got %s", st)
	}
	if st, _ := h.Tracker.GetTaskState("calm"); st != state.TaskCompleted {
		t.Errorf("expected calm completed, got %s", st)
	}

	// The scheduler survives the panic and keeps serving other workflows.
	second := &workflow.Definition{
		ID:    "after-panic",
		Name:  "After",
		Tasks: []workflow.TaskDefinition{{ID: "steady", OwnerGroup: "engineering"}},
	}
	h.Run(context.Background(), second)
	if st := h.AwaitWorkflow("after-panic"); st != state.WorkflowCompleted {
		t.Fatalf("expected completed, got %s", st)
	}
}

func TestParallelBranchesBothRun(t *testing.T) {
	h := testutil.NewHarness(t)

	def := &workflow.Definition{
		ID:   "diamond",
		Name: "Diamond",
		Tasks: []workflow.TaskDefinition{
			{ID: "plan", OwnerGroup: "lead"},
			{ID: "research", OwnerGroup: "analysis", DependsOn: []string{"plan"}},
			{ID: "draft", OwnerGroup: "writing", DependsOn: []string{"plan"}},
			{ID: "publish", OwnerGroup: "lead", DependsOn: []string{"research", "draft"}},
		},
	}
	h.Run(context.Background(), def)

	if st := h.AwaitWorkflow("diamond"); st != state.WorkflowCompleted {
		t.Fatalf("expected completed, got %s", st)
	}

	calls := h.Executor.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected 4 executions, got %v", calls)
	}
	if calls[0] != "plan" || calls[3] != "publish" {
		t.Errorf("expected plan first and publish last, got %v", calls)
	}
}
