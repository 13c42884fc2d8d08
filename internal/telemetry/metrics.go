package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects kernel runtime counters: tasks and workflows by
// outcome, checkpoint activity, recovery attempts by level, and bus
// throughput. Its task methods satisfy the scheduler middleware's
// TaskMetrics interface.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	TasksStarted        int64
	TasksCompleted      int64
	TasksFailed         int64
	WorkflowsStarted    int64
	WorkflowsCompleted  int64
	WorkflowsFailed     int64
	WorkflowsCancelled  int64
	CheckpointsCreated  int64
	CheckpointsRestored int64

	// Gauges
	ActiveTasks          int64
	ActiveWorkflows      int64
	EventsPublished      int64
	EventsDropped        int64
	EventHandlerFailures int64

	// Histograms (simplified)
	taskDurations []time.Duration

	recoveryAttempts map[string]int64

	// Exporter (optional)
	exporter MetricsExporter
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		taskDurations:    make([]time.Duration, 0, 1000),
		recoveryAttempts: make(map[string]int64),
	}
}

// TaskStarted increments the tasks started counter.
func (m *Metrics) TaskStarted(workflowID string) {
	atomic.AddInt64(&m.TasksStarted, 1)
	atomic.AddInt64(&m.ActiveTasks, 1)
}

// TaskCompleted increments the tasks completed counter and records the
// task duration.
func (m *Metrics) TaskCompleted(workflowID string, elapsed time.Duration) {
	atomic.AddInt64(&m.TasksCompleted, 1)
	atomic.AddInt64(&m.ActiveTasks, -1)
	m.recordTaskDuration(elapsed)
}

// TaskFailed increments the tasks failed counter and records the task
// duration.
func (m *Metrics) TaskFailed(workflowID string, elapsed time.Duration) {
	atomic.AddInt64(&m.TasksFailed, 1)
	atomic.AddInt64(&m.ActiveTasks, -1)
	m.recordTaskDuration(elapsed)
}

// WorkflowStarted increments the workflows started counter.
func (m *Metrics) WorkflowStarted() {
	atomic.AddInt64(&m.WorkflowsStarted, 1)
	atomic.AddInt64(&m.ActiveWorkflows, 1)
}

// WorkflowCompleted increments the workflows completed counter.
func (m *Metrics) WorkflowCompleted() {
	atomic.AddInt64(&m.WorkflowsCompleted, 1)
	atomic.AddInt64(&m.ActiveWorkflows, -1)
}

// WorkflowFailed increments the workflows failed counter.
func (m *Metrics) WorkflowFailed() {
	atomic.AddInt64(&m.WorkflowsFailed, 1)
	atomic.AddInt64(&m.ActiveWorkflows, -1)
}

// WorkflowCancelled increments the workflows cancelled counter.
func (m *Metrics) WorkflowCancelled() {
	atomic.AddInt64(&m.WorkflowsCancelled, 1)
	atomic.AddInt64(&m.ActiveWorkflows, -1)
}

// CheckpointCreated increments the checkpoint write counter.
func (m *Metrics) CheckpointCreated() {
	atomic.AddInt64(&m.CheckpointsCreated, 1)
}

// CheckpointRestored increments the checkpoint restore counter.
func (m *Metrics) CheckpointRestored() {
	atomic.AddInt64(&m.CheckpointsRestored, 1)
}

// RecoveryAttempt counts one recovery action by level.
func (m *Metrics) RecoveryAttempt(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveryAttempts[level]++
}

// RecordBusStats stores the bus's published, dropped, and handler-error
// totals.
func (m *Metrics) RecordBusStats(published, dropped, handlerErrors int64) {
	atomic.StoreInt64(&m.EventsPublished, published)
	atomic.StoreInt64(&m.EventsDropped, dropped)
	atomic.StoreInt64(&m.EventHandlerFailures, handlerErrors)
}

func (m *Metrics) recordTaskDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskDurations = append(m.taskDurations, d)
}

// Summary returns a point-in-time view of all collected metrics.
func (m *Metrics) Summary() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := map[string]interface{}{
		"tasks_started":        atomic.LoadInt64(&m.TasksStarted),
		"tasks_completed":      atomic.LoadInt64(&m.TasksCompleted),
		"tasks_failed":         atomic.LoadInt64(&m.TasksFailed),
		"workflows_started":    atomic.LoadInt64(&m.WorkflowsStarted),
		"workflows_completed":  atomic.LoadInt64(&m.WorkflowsCompleted),
		"workflows_failed":     atomic.LoadInt64(&m.WorkflowsFailed),
		"workflows_cancelled":  atomic.LoadInt64(&m.WorkflowsCancelled),
		"checkpoints_created":  atomic.LoadInt64(&m.CheckpointsCreated),
		"checkpoints_restored": atomic.LoadInt64(&m.CheckpointsRestored),
		"active_tasks":         atomic.LoadInt64(&m.ActiveTasks),
		"active_workflows":     atomic.LoadInt64(&m.ActiveWorkflows),
		"events_published":     atomic.LoadInt64(&m.EventsPublished),
		"events_dropped":       atomic.LoadInt64(&m.EventsDropped),
		"handler_errors":       atomic.LoadInt64(&m.EventHandlerFailures),
	}

	for level, n := range m.recoveryAttempts {
		summary["recovery_"+level] = n
	}

	if len(m.taskDurations) > 0 {
		var total time.Duration
		for _, d := range m.taskDurations {
			total += d
		}
		summary["avg_task_duration_ms"] = total.Milliseconds() / int64(len(m.taskDurations))
	}

	return summary
}

// Reset zeroes all metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.StoreInt64(&m.TasksStarted, 0)
	atomic.StoreInt64(&m.TasksCompleted, 0)
	atomic.StoreInt64(&m.TasksFailed, 0)
	atomic.StoreInt64(&m.WorkflowsStarted, 0)
	atomic.StoreInt64(&m.WorkflowsCompleted, 0)
	atomic.StoreInt64(&m.WorkflowsFailed, 0)
	atomic.StoreInt64(&m.WorkflowsCancelled, 0)
	atomic.StoreInt64(&m.CheckpointsCreated, 0)
	atomic.StoreInt64(&m.CheckpointsRestored, 0)
	atomic.StoreInt64(&m.ActiveTasks, 0)
	atomic.StoreInt64(&m.ActiveWorkflows, 0)
	atomic.StoreInt64(&m.EventsPublished, 0)
	atomic.StoreInt64(&m.EventsDropped, 0)
	atomic.StoreInt64(&m.EventHandlerFailures, 0)

	m.taskDurations = m.taskDurations[:0]
	m.recoveryAttempts = make(map[string]int64)
}

// SetExporter attaches a metrics exporter.
func (m *Metrics) SetExporter(e MetricsExporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exporter = e
}

// Flush exports the current metrics snapshot with the given event label.
func (m *Metrics) Flush(event string, labels map[string]string) {
	m.mu.RLock()
	exporter := m.exporter
	m.mu.RUnlock()

	if exporter == nil {
		return
	}

	snapshot := MetricsSnapshot{
		Timestamp: time.Now(),
		Event:     event,
		Metrics:   m.Summary(),
		Labels:    labels,
	}
	// Best-effort export.
	_ = exporter.Export(snapshot)
}
