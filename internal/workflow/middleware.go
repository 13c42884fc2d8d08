package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rostrum-oss/rostrum/internal/event"
	"github.com/rostrum-oss/rostrum/internal/recovery"
)

// ExecutorMiddleware wraps an Executor with additional behavior. Middlewares
// compose explicitly at the call site; there is no implicit decoration.
type ExecutorMiddleware func(Executor) Executor

// Chain applies middlewares around exec so the first listed is outermost.
// Chain(e, A, B) yields A(B(e)).
func Chain(exec Executor, mw ...ExecutorMiddleware) Executor {
	for i := len(mw) - 1; i >= 0; i-- {
		exec = mw[i](exec)
	}
	return exec
}

// WithAgentEvents publishes agent.task.* events around each execution so
// subscribers can follow what the owning group is doing.
func WithAgentEvents(bus *event.Bus) ExecutorMiddleware {
	return func(next Executor) Executor {
		return ExecutorFunc(func(ctx context.Context, task *TaskDefinition, meta map[string]interface{}) (interface{}, error) {
			bus.Publish(agentEvent(event.AgentTaskStarted, task, meta, map[string]interface{}{
				"task_name": task.Name,
			}))
			out, err := next.Execute(ctx, task, meta)
			if err != nil {
				bus.Publish(agentEvent(event.AgentTaskFailed, task, meta, map[string]interface{}{
					"error": err.Error(),
				}))
				return nil, err
			}
			bus.Publish(agentEvent(event.AgentTaskCompleted, task, meta, nil))
			return out, nil
		})
	}
}

func agentEvent(t event.EventType, task *TaskDefinition, meta, data map[string]interface{}) event.Event {
	e := event.New(t, data)
	e.WorkflowID = metaString(meta, "workflow_id")
	e.StepID = task.ID
	e.AgentID = task.OwnerGroup
	return e
}

func metaString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

// WithLogging records each execution's outcome and duration.
func WithLogging(logger Logger) ExecutorMiddleware {
	return func(next Executor) Executor {
		return ExecutorFunc(func(ctx context.Context, task *TaskDefinition, meta map[string]interface{}) (interface{}, error) {
			start := time.Now()
			logger.Debug("executing task", "task_id", task.ID, "workflow_id", metaString(meta, "workflow_id"))
			out, err := next.Execute(ctx, task, meta)
			elapsed := time.Since(start)
			if err != nil {
				logger.Error("task execution failed",
					"task_id", task.ID,
					"workflow_id", metaString(meta, "workflow_id"),
					"duration", elapsed.String(),
					"error", err)
				return nil, err
			}
			logger.Info("task executed",
				"task_id", task.ID,
				"workflow_id", metaString(meta, "workflow_id"),
				"duration", elapsed.String())
			return out, nil
		})
	}
}

// TaskMetrics receives task execution outcomes. The telemetry collector
// implements it; tests substitute their own.
type TaskMetrics interface {
	TaskStarted(workflowID string)
	TaskCompleted(workflowID string, elapsed time.Duration)
	TaskFailed(workflowID string, elapsed time.Duration)
}

// WithMetrics reports execution counts and durations to m.
func WithMetrics(m TaskMetrics) ExecutorMiddleware {
	return func(next Executor) Executor {
		return ExecutorFunc(func(ctx context.Context, task *TaskDefinition, meta map[string]interface{}) (interface{}, error) {
			wfID := metaString(meta, "workflow_id")
			m.TaskStarted(wfID)
			start := time.Now()
			out, err := next.Execute(ctx, task, meta)
			if err != nil {
				m.TaskFailed(wfID, time.Since(start))
				return nil, err
			}
			m.TaskCompleted(wfID, time.Since(start))
			return out, nil
		})
	}
}

// WithRecovery retries failed executions under the recovery manager's
// policy. The manager decides per error category whether another attempt
// is allowed; once it gives up, the original error surfaces.
func WithRecovery(mgr *recovery.Manager) ExecutorMiddleware {
	return func(next Executor) Executor {
		return ExecutorFunc(func(ctx context.Context, task *TaskDefinition, meta map[string]interface{}) (interface{}, error) {
			rctx := recovery.Context{
				ErrorID:   fmt.Sprintf("%s/%s", metaString(meta, "workflow_id"), task.ID),
				Component: "workflow",
				Operation: "execute_task",
			}
			for {
				out, err := next.Execute(ctx, task, meta)
				if err == nil {
					return out, nil
				}
				if herr := mgr.Handle(ctx, err, rctx); herr != nil {
					return nil, herr
				}
			}
		})
	}
}
