package workflow

import (
	"context"
	"time"
)

// Executor runs a single task and returns its result. Implementations are
// external collaborators; the scheduler only sees the returned value and
// error. Executors must honor context cancellation for long work.
type Executor interface {
	Execute(ctx context.Context, task *TaskDefinition, meta map[string]interface{}) (interface{}, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *TaskDefinition, meta map[string]interface{}) (interface{}, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *TaskDefinition, meta map[string]interface{}) (interface{}, error) {
	return f(ctx, task, meta)
}

// NewSkeletonExecutor returns the stand-in executor used when no real one
// is wired: each task sleeps its estimated duration and completes.
func NewSkeletonExecutor() Executor {
	return skeletonExecutor{}
}

// skeletonExecutor stands in when no executor is configured. It sleeps for
// the task's estimated duration so schedules stay observable end to end
// without any real work behind them.
type skeletonExecutor struct{}

func (skeletonExecutor) Execute(ctx context.Context, task *TaskDefinition, _ map[string]interface{}) (interface{}, error) {
	if task.EstimatedDuration <= 0 {
		return nil, nil
	}
	timer := time.NewTimer(task.EstimatedDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}
