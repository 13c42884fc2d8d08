// Package orchestrator wires the kernel together: event bus, state
// tracker, checkpoint store, recovery manager, scheduler, and telemetry
// behind one facade that runs workflow definitions and debate sessions
// end to end.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	"github.com/rostrum-oss/rostrum/internal/config"
	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/event"
	"github.com/rostrum-oss/rostrum/internal/recovery"
	"github.com/rostrum-oss/rostrum/internal/state"
	"github.com/rostrum-oss/rostrum/internal/telemetry"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

// Options tunes an Orchestrator beyond what the environment provides.
// The zero value is a working default.
type Options struct {
	// Collector mirrors metrics into Prometheus when non-nil. One
	// collector serves at most one orchestrator; its vectors register
	// on construction and cannot register twice.
	Collector *telemetry.Collector

	// Middlewares wrap the executor inside the standard chain, closest
	// to the executor itself.
	Middlewares []workflow.ExecutorMiddleware

	// ContinueOnTaskFailure leaves a workflow running after a task fails
	// instead of failing it on the first step.failed event. Dependents of
	// the failed task stay pending either way.
	ContinueOnTaskFailure bool

	// Policies overrides recovery policy entries per error category.
	Policies map[rostrumErrors.Kind]recovery.Action

	// Cleanup runs during terminate and emergency recovery.
	Cleanup recovery.CleanupFunc

	// Rollback runs for state-category errors.
	Rollback recovery.RollbackFunc

	// Logger overrides the logger built from configuration.
	Logger *telemetry.Logger
}

// verdict is what a RunWorkflow waiter receives when its workflow reaches
// a terminal state.
type verdict struct {
	status state.WorkflowStatus
	detail map[string]interface{}
}

// Orchestrator owns one wired kernel instance. All methods are safe for
// concurrent use.
type Orchestrator struct {
	cfg       *config.Config
	opts      Options
	logger    *telemetry.Logger
	ownLogger bool
	bus       *event.Bus
	tracker   *state.Tracker
	store     checkpoint.Store
	metrics   *telemetry.Metrics
	collector *telemetry.Collector
	exporter  *telemetry.JSONFileExporter
	manager   *recovery.Manager
	sched     *workflow.Scheduler
	trace     *telemetry.TraceContext

	mu      sync.Mutex
	waiters map[string][]chan verdict
	subs    []event.Subscription
}

// New builds a fully wired Orchestrator. A nil cfg loads configuration
// from the environment; a nil executor selects the built-in stand-in
// that sleeps each task's estimated duration.
func New(cfg *config.Config, executor workflow.Executor, opts Options) (*Orchestrator, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	ownLogger := false
	if logger == nil {
		logger = telemetry.NewLoggerFormat(cfg.Log.Level == "debug", cfg.Log.Format)
		if cfg.Log.File != "" {
			if err := logger.WithFile(cfg.Log.File); err != nil {
				return nil, rostrumErrors.Wrap(rostrumErrors.KindSystem, rostrumErrors.CodeConfigInvalid,
					"cannot open log file", err)
			}
		}
		ownLogger = true
	}

	o := &Orchestrator{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		ownLogger: ownLogger,
		metrics:   telemetry.NewMetrics(),
		collector: opts.Collector,
		trace:     telemetry.NewTraceContext(uuid.NewString()),
		waiters:   make(map[string][]chan verdict),
	}
	o.bus = event.NewBusSize(logger, cfg.Bus.QueueSize, cfg.Bus.PollInterval)
	o.tracker = state.NewTracker(o.bus, logger)

	store, err := checkpoint.Open(cfg.Store())
	if err != nil {
		return nil, err
	}
	o.store = store

	if cfg.Metrics.File != "" {
		exporter, err := telemetry.NewJSONFileExporter(cfg.Metrics.File)
		if err != nil {
			o.closeFiles()
			return nil, rostrumErrors.Wrap(rostrumErrors.KindSystem, rostrumErrors.CodeConfigInvalid,
				"cannot open metrics file", err)
		}
		o.exporter = exporter
		o.metrics.SetExporter(exporter)
	}

	manager, err := recovery.NewManager(recovery.Config{
		Tracker:   o.tracker,
		Store:     store,
		Resources: o.resourceMap,
		Cleanup:   opts.Cleanup,
		Rollback:  opts.Rollback,
		Logger:    logger,
		Metrics:   o.recoveryMetrics(),
		CacheSize: cfg.Recovery.CacheSize,
		Policies:  opts.Policies,
	})
	if err != nil {
		o.closeFiles()
		return nil, err
	}
	o.manager = manager

	if executor == nil {
		executor = workflow.NewSkeletonExecutor()
	}
	mws := []workflow.ExecutorMiddleware{
		workflow.WithRecovery(manager),
		workflow.WithMetrics(o.metrics),
	}
	if o.collector != nil {
		mws = append(mws, workflow.WithMetrics(o.collector))
	}
	mws = append(mws, workflow.WithLogging(logger), workflow.WithAgentEvents(o.bus))
	mws = append(mws, opts.Middlewares...)

	sched, err := workflow.NewScheduler(workflow.Config{
		Tracker:                o.tracker,
		Executor:               workflow.Chain(executor, mws...),
		Logger:                 logger,
		MaxConcurrentWorkflows: cfg.Scheduler.MaxConcurrentWorkflows,
	})
	if err != nil {
		o.closeFiles()
		return nil, err
	}
	o.sched = sched

	if o.collector != nil {
		o.collector.RegisterBusStats(o.bus.Published, o.bus.Dropped, o.bus.HandlerErrors)
	}

	o.subs = append(o.subs,
		o.bus.Register(event.WorkflowCompleted, o.terminalHandler(state.WorkflowCompleted)),
		o.bus.Register(event.WorkflowFailed, o.terminalHandler(state.WorkflowFailed)),
		o.bus.Register(event.StepFailed, o.propagateTaskFailure),
	)
	return o, nil
}

// RunWorkflow registers def, checkpoints the system, starts the workflow,
// and blocks until it finishes. A failed run goes through the recovery
// policy: while the budget for this run lasts, the pre-run checkpoint is
// restored and the workflow starts over. Cancellation is final. Workflow
// ids are single use per orchestrator: the lifecycle graph has no edge
// out of a terminal state, so a finished id cannot run again.
func (o *Orchestrator) RunWorkflow(ctx context.Context, def *workflow.Definition) error {
	if def == nil {
		return rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow definition is nil")
	}
	if err := o.sched.Register(def); err != nil {
		return err
	}

	preRun, err := o.manager.CreateCheckpoint(ctx)
	if err != nil {
		o.logger.Warn("pre-run checkpoint failed, running without a restore point",
			"workflow_id", def.ID, "error", err)
		preRun = ""
	}

	trace := o.trace.WithWorkflow(def.ID)
	log := o.logger.WithFields(trace.Fields())
	rctx := recovery.Context{
		ErrorID:      trace.ErrorID(),
		Component:    "orchestrator",
		Operation:    "run_workflow",
		CheckpointID: preRun,
	}

	for {
		ch := o.addWaiter(def.ID)
		if err := o.sched.Start(ctx, def.ID); err != nil {
			o.removeWaiter(def.ID, ch)
			return err
		}
		o.countStarted()

		var v verdict
		got := false
		select {
		case v = <-ch:
			got = true
		case <-ctx.Done():
		}
		o.removeWaiter(def.ID, ch)
		if !got {
			// One last look: the verdict may have landed with the deadline.
			select {
			case v = <-ch:
				got = true
			default:
			}
		}
		if !got {
			if cerr := o.CancelWorkflow(context.Background(), def.ID); cerr != nil {
				log.Warn("cancel on context expiry failed", "error", cerr)
			}
			return ctx.Err()
		}

		switch v.status {
		case state.WorkflowCompleted:
			o.countCompleted()
			o.syncBusStats()
			o.metrics.Flush(string(event.WorkflowCompleted), map[string]string{"workflow_id": def.ID})
			return nil

		case state.WorkflowCancelled:
			return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeWorkflowCancelled,
				"workflow %s was cancelled", def.ID)
		}

		o.countFailed()
		o.syncBusStats()
		o.metrics.Flush(string(event.WorkflowFailed), map[string]string{"workflow_id": def.ID})
		failErr := failureFromVerdict(def.ID, v)
		if preRun == "" {
			return failErr
		}
		if herr := o.manager.Handle(ctx, failErr, rctx); herr != nil {
			return herr
		}
		if aerr := o.awaitDrain(ctx, def.ID); aerr != nil {
			return failErr
		}
		if o.sched.ResourceUsage().ActiveWorkflows > 0 {
			// A restore replaces the whole tracker; with unrelated
			// workflows still active that would corrupt their state.
			log.Warn("skipping checkpoint restore with other workflows active", "workflow_id", def.ID)
			return failErr
		}
		if _, rerr := o.manager.RestoreCheckpoint(ctx, preRun); rerr != nil {
			log.Error("pre-run checkpoint restore failed", "checkpoint_id", preRun, "error", rerr)
			return failErr
		}
		log.Info("retrying workflow after restore", "workflow_id", def.ID, "checkpoint_id", preRun)
	}
}

// PauseWorkflow parks a running workflow: queued tasks stop dispatching,
// in-flight tasks run to completion.
func (o *Orchestrator) PauseWorkflow(ctx context.Context, id string) error {
	return o.sched.Pause(ctx, id)
}

// ResumeWorkflow lifts a pause.
func (o *Orchestrator) ResumeWorkflow(ctx context.Context, id string) error {
	return o.sched.Resume(ctx, id)
}

// CancelWorkflow stops a workflow and resolves any RunWorkflow call
// blocked on it. Cancellation publishes no lifecycle event, so waiters
// are told directly.
func (o *Orchestrator) CancelWorkflow(ctx context.Context, id string) error {
	st, _ := o.sched.Status(id)
	if err := o.sched.Cancel(ctx, id); err != nil {
		return err
	}
	if st.State == state.WorkflowInProgress || st.State == state.WorkflowPaused {
		o.countCancelled()
	}
	o.notify(id, verdict{status: state.WorkflowCancelled})
	return nil
}

// FailWorkflow marks a workflow failed with the given cause. This is the
// caller-side lever for task failures the scheduler leaves standing.
func (o *Orchestrator) FailWorkflow(ctx context.Context, id string, cause error) error {
	return o.sched.Fail(ctx, id, cause)
}

// WorkflowStatus reports where a workflow stands.
func (o *Orchestrator) WorkflowStatus(id string) (workflow.Status, bool) {
	return o.sched.Status(id)
}

// Usage returns the scheduler's load counters.
func (o *Orchestrator) Usage() workflow.ResourceUsage {
	return o.sched.ResourceUsage()
}

// Snapshot captures the current system state without persisting it.
func (o *Orchestrator) Snapshot() state.SystemState {
	return o.tracker.Snapshot(o.resourceMap())
}

// Bus exposes the event bus so embedders can register their own handlers.
func (o *Orchestrator) Bus() *event.Bus {
	return o.bus
}

// Metrics exposes the in-process metrics counters, with the bus totals
// synced as of this call.
func (o *Orchestrator) Metrics() *telemetry.Metrics {
	o.syncBusStats()
	return o.metrics
}

// syncBusStats copies the bus's monotonic counters into the metrics
// snapshot so Summary and Flush carry them.
func (o *Orchestrator) syncBusStats() {
	o.metrics.RecordBusStats(o.bus.Published(), o.bus.Dropped(), o.bus.HandlerErrors())
}

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() *config.Config {
	return o.cfg
}

// CreateCheckpoint persists the current system state and returns its id.
func (o *Orchestrator) CreateCheckpoint(ctx context.Context) (string, error) {
	return o.manager.CreateCheckpoint(ctx)
}

// RestoreCheckpoint replaces the system state with a stored snapshot.
func (o *Orchestrator) RestoreCheckpoint(ctx context.Context, id string) (state.SystemState, error) {
	return o.manager.RestoreCheckpoint(ctx, id)
}

// ListCheckpoints returns up to n checkpoints, newest first. n <= 0
// lists everything.
func (o *Orchestrator) ListCheckpoints(ctx context.Context, n int) ([]checkpoint.Meta, error) {
	return o.manager.ListCheckpoints(ctx, n)
}

// LatestCheckpoint returns the newest checkpoint's metadata.
func (o *Orchestrator) LatestCheckpoint(ctx context.Context) (checkpoint.Meta, error) {
	return o.manager.LatestCheckpoint(ctx)
}

// PruneCheckpoints deletes checkpoints older than the given age and
// reports how many were removed.
func (o *Orchestrator) PruneCheckpoints(ctx context.Context, olderThan time.Duration) (int, error) {
	return o.manager.PruneCheckpoints(ctx, olderThan)
}

// ServeMetrics exposes the Prometheus scrape endpoint on the configured
// address, blocking until ctx is cancelled. Without a collector or a
// configured address it returns immediately.
func (o *Orchestrator) ServeMetrics(ctx context.Context) error {
	if o.collector == nil || o.cfg.Metrics.Addr == "" {
		return nil
	}
	return o.collector.Serve(ctx, o.cfg.Metrics.Addr, o.logger)
}

// Shutdown winds the kernel down: the scheduler first so in-flight tasks
// can publish their last events, then the bus, then the persistence
// handles in parallel. The context bounds each stop.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, sub := range o.subs {
		o.bus.Unregister(sub)
	}
	if err := o.sched.Stop(ctx); err != nil {
		return err
	}
	if err := o.bus.Stop(ctx); err != nil {
		return err
	}
	o.syncBusStats()
	o.metrics.Flush("shutdown", nil)

	var g errgroup.Group
	g.Go(o.store.Close)
	if o.exporter != nil {
		g.Go(o.exporter.Close)
	}
	err := g.Wait()
	if o.ownLogger {
		if cerr := o.logger.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// terminalHandler resolves RunWorkflow waiters when their workflow
// reaches st.
func (o *Orchestrator) terminalHandler(st state.WorkflowStatus) event.Handler {
	return func(ev event.Event) error {
		o.notify(ev.WorkflowID, verdict{status: st, detail: ev.Data})
		return nil
	}
}

// propagateTaskFailure fails a watched workflow on its first task failure.
// The scheduler leaves failed tasks for the caller to judge; for
// workflows driven through RunWorkflow the orchestrator is that caller,
// and its default judgment is that one failed task fails the run.
func (o *Orchestrator) propagateTaskFailure(ev event.Event) error {
	if o.opts.ContinueOnTaskFailure || ev.WorkflowID == "" {
		return nil
	}
	o.mu.Lock()
	_, watched := o.waiters[ev.WorkflowID]
	o.mu.Unlock()
	if !watched {
		return nil
	}
	msg, _ := ev.Data["error"].(string)
	cause := rostrumErrors.Newf(rostrumErrors.KindAgent, rostrumErrors.CodeExecutorFailed,
		"task %s failed: %s", ev.StepID, msg)
	if err := o.sched.Fail(context.Background(), ev.WorkflowID, cause); err != nil {
		// Lost the race against a cancel or a sibling failure.
		o.logger.Debug("task failure propagation skipped",
			"workflow_id", ev.WorkflowID, "task_id", ev.StepID, "error", err)
	}
	return nil
}

func (o *Orchestrator) addWaiter(id string) chan verdict {
	ch := make(chan verdict, 1)
	o.mu.Lock()
	o.waiters[id] = append(o.waiters[id], ch)
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) removeWaiter(id string, ch chan verdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	regs := o.waiters[id]
	for i, c := range regs {
		if c == ch {
			o.waiters[id] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(o.waiters[id]) == 0 {
		delete(o.waiters, id)
	}
}

// notify delivers a verdict to every waiter on id. Sends never block: a
// waiter that already holds a verdict keeps the first one.
func (o *Orchestrator) notify(id string, v verdict) {
	o.mu.Lock()
	chans := append([]chan verdict(nil), o.waiters[id]...)
	o.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- v:
		default:
		}
	}
}

// awaitDrain waits for a finished run's in-flight tasks to wind down so
// the tracker is quiet before a restore.
func (o *Orchestrator) awaitDrain(ctx context.Context, id string) error {
	for {
		st, ok := o.sched.Status(id)
		if !ok || st.InFlight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// failureFromVerdict rebuilds a workflow failure error from the terminal
// event's payload.
func failureFromVerdict(id string, v verdict) error {
	if msg, ok := v.detail["error"].(string); ok && msg != "" {
		return rostrumErrors.Newf(rostrumErrors.KindAgent, rostrumErrors.CodeWorkflowFailed,
			"workflow %s failed: %s", id, msg)
	}
	return rostrumErrors.Newf(rostrumErrors.KindAgent, rostrumErrors.CodeWorkflowFailed,
		"workflow %s failed", id)
}

// resourceMap snapshots scheduler load for checkpoint payloads.
func (o *Orchestrator) resourceMap() map[string]interface{} {
	if o.sched == nil {
		return nil
	}
	return o.sched.ResourceUsage().Map()
}

// metricsFanout forwards recovery callbacks to every configured sink.
type metricsFanout []recovery.Metrics

func (f metricsFanout) RecoveryAttempt(level string) {
	for _, m := range f {
		m.RecoveryAttempt(level)
	}
}

func (f metricsFanout) CheckpointCreated() {
	for _, m := range f {
		m.CheckpointCreated()
	}
}

func (f metricsFanout) CheckpointRestored() {
	for _, m := range f {
		m.CheckpointRestored()
	}
}

func (o *Orchestrator) recoveryMetrics() recovery.Metrics {
	sinks := metricsFanout{o.metrics}
	if o.collector != nil {
		sinks = append(sinks, o.collector)
	}
	return sinks
}

func (o *Orchestrator) countStarted() {
	o.metrics.WorkflowStarted()
	if o.collector != nil {
		o.collector.WorkflowStarted()
	}
}

func (o *Orchestrator) countCompleted() {
	o.metrics.WorkflowCompleted()
	if o.collector != nil {
		o.collector.WorkflowCompleted()
	}
}

func (o *Orchestrator) countFailed() {
	o.metrics.WorkflowFailed()
	if o.collector != nil {
		o.collector.WorkflowFailed()
	}
}

func (o *Orchestrator) countCancelled() {
	o.metrics.WorkflowCancelled()
	if o.collector != nil {
		o.collector.WorkflowCancelled()
	}
}

func (o *Orchestrator) closeFiles() {
	if o.store != nil {
		_ = o.store.Close()
	}
	if o.exporter != nil {
		_ = o.exporter.Close()
	}
}
