package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes kernel metrics to Prometheus. It mirrors the Metrics
// counters as registered vectors and satisfies the same TaskMetrics shape,
// so both can sit in one executor middleware chain.
type Collector struct {
	gatherer prometheus.Gatherer
	factory  promauto.Factory

	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	workflowsTotal   *prometheus.CounterVec
	checkpointsTotal *prometheus.CounterVec
	recoveryAttempts *prometheus.CounterVec
	activeTasks      prometheus.Gauge
	activeWorkflows  prometheus.Gauge
}

// NewCollector registers the kernel metric vectors on the default
// Prometheus registry.
func NewCollector() *Collector {
	return newCollector(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewCollectorRegistry registers on an explicit registry. Tests use this
// to avoid duplicate registration panics across collectors.
func NewCollectorRegistry(reg *prometheus.Registry) *Collector {
	return newCollector(reg, reg)
}

func newCollector(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		gatherer: gatherer,
		factory:  factory,
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rostrum_tasks_total",
				Help: "Total number of executed tasks by workflow and outcome",
			},
			[]string{"workflow", "outcome"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rostrum_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		workflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rostrum_workflows_total",
				Help: "Total number of workflows by outcome",
			},
			[]string{"outcome"},
		),
		checkpointsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rostrum_checkpoints_total",
				Help: "Total number of checkpoint operations",
			},
			[]string{"operation"},
		),
		recoveryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rostrum_recovery_attempts_total",
				Help: "Total number of recovery actions by level",
			},
			[]string{"level"},
		),
		activeTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rostrum_active_tasks",
				Help: "Number of tasks currently executing",
			},
		),
		activeWorkflows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rostrum_active_workflows",
				Help: "Number of workflows currently active",
			},
		),
	}
}

// TaskStarted marks one task as in flight.
func (c *Collector) TaskStarted(workflowID string) {
	c.activeTasks.Inc()
}

// TaskCompleted records a successful task execution.
func (c *Collector) TaskCompleted(workflowID string, elapsed time.Duration) {
	c.activeTasks.Dec()
	c.tasksTotal.WithLabelValues(workflowID, "completed").Inc()
	c.taskDuration.WithLabelValues("completed").Observe(elapsed.Seconds())
}

// TaskFailed records a failed task execution.
func (c *Collector) TaskFailed(workflowID string, elapsed time.Duration) {
	c.activeTasks.Dec()
	c.tasksTotal.WithLabelValues(workflowID, "failed").Inc()
	c.taskDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
}

// WorkflowStarted counts a workflow entering the active set.
func (c *Collector) WorkflowStarted() {
	c.workflowsTotal.WithLabelValues("started").Inc()
	c.activeWorkflows.Inc()
}

// WorkflowCompleted counts a workflow finishing successfully.
func (c *Collector) WorkflowCompleted() {
	c.workflowsTotal.WithLabelValues("completed").Inc()
	c.activeWorkflows.Dec()
}

// WorkflowFailed counts a workflow finishing in failure.
func (c *Collector) WorkflowFailed() {
	c.workflowsTotal.WithLabelValues("failed").Inc()
	c.activeWorkflows.Dec()
}

// WorkflowCancelled counts a workflow cancelled before finishing.
func (c *Collector) WorkflowCancelled() {
	c.workflowsTotal.WithLabelValues("cancelled").Inc()
	c.activeWorkflows.Dec()
}

// CheckpointCreated counts a checkpoint write.
func (c *Collector) CheckpointCreated() {
	c.checkpointsTotal.WithLabelValues("created").Inc()
}

// CheckpointRestored counts a checkpoint restore.
func (c *Collector) CheckpointRestored() {
	c.checkpointsTotal.WithLabelValues("restored").Inc()
}

// RecoveryAttempt counts one recovery action by level.
func (c *Collector) RecoveryAttempt(level string) {
	c.recoveryAttempts.WithLabelValues(level).Inc()
}

// RegisterBusStats exposes the event bus's monotonic publish, drop, and
// handler-error totals as counters read at scrape time.
func (c *Collector) RegisterBusStats(published, dropped, handlerErrors func() int64) {
	c.factory.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "rostrum_events_published_total",
			Help: "Total number of events accepted by the bus",
		},
		func() float64 { return float64(published()) },
	)
	c.factory.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "rostrum_events_dropped_total",
			Help: "Total number of events dropped on a full queue",
		},
		func() float64 { return float64(dropped()) },
	)
	c.factory.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "rostrum_event_handler_errors_total",
			Help: "Total number of handler invocations that errored or panicked",
		},
		func() float64 { return float64(handlerErrors()) },
	)
}

// Handler returns the scrape handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the context is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if logger != nil {
			logger.Info("Serving metrics", "addr", addr)
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
