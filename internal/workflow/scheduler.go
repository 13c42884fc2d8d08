package workflow

import (
	"container/heap"
	"context"
	"sync"
	"time"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/state"
)

// DefaultMaxConcurrentWorkflows caps how many workflows can be active at once.
const DefaultMaxConcurrentWorkflows = 10

// Logger is a minimal logging interface so the scheduler doesn't depend
// on telemetry.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Config wires a Scheduler's collaborators.
type Config struct {
	// Tracker records workflow and task state and announces transitions.
	// Required.
	Tracker *state.Tracker

	// Executor runs tasks. When nil the scheduler runs in skeleton mode:
	// each task sleeps its estimated duration and completes.
	Executor Executor

	// Logger receives scheduler diagnostics. Optional.
	Logger Logger

	// MaxConcurrentWorkflows caps active workflows. Zero means the default.
	MaxConcurrentWorkflows int
}

// run is the scheduler's per-workflow bookkeeping while a workflow is
// active. It lives from Start until the workflow reaches a terminal state
// and its last in-flight task has drained.
type run struct {
	def      *Definition
	byID     map[string]*TaskDefinition
	children map[string][]string

	scheduled   map[string]bool
	completed   map[string]bool
	remaining   int
	failedTasks int

	width    int
	inflight int

	paused    bool
	cancelled bool
	failed    bool

	// done is set once the workflow's terminal transition has been
	// recorded; the run is released when done and no task is in flight.
	done bool

	// deferred holds a terminal transition that happened while paused.
	// The pause graph has no edge to completed or failed, so the
	// announcement waits for resume.
	deferred *deferredTerminal

	// parked holds entries pulled off the queue that couldn't dispatch,
	// either because the workflow is paused or its width is saturated.
	parked []*entry

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

type deferredTerminal struct {
	status state.WorkflowStatus
	detail map[string]interface{}
}

func (r *run) active() bool {
	return !r.cancelled && !r.failed
}

func (r *run) depsCompleted(t *TaskDefinition) bool {
	for _, dep := range t.DependsOn {
		if !r.completed[dep] {
			return false
		}
	}
	return true
}

// Scheduler dispatches tasks from registered workflows in dependency order.
// One consumption loop pops the shared ready queue; execution happens on
// worker goroutines bounded per workflow by MaxParallelTasks.
type Scheduler struct {
	mu           sync.Mutex
	tracker      *state.Tracker
	executor     Executor
	logger       Logger
	maxWorkflows int

	defs  map[string]*Definition
	runs  map[string]*run
	queue readyQueue
	seq   uint64
	usage ResourceUsage

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wake    chan struct{}
	done    chan struct{}
	tasks   sync.WaitGroup
}

// NewScheduler builds a Scheduler from cfg.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Tracker == nil {
		return nil, rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"scheduler requires a state tracker")
	}
	executor := cfg.Executor
	if executor == nil {
		executor = skeletonExecutor{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	maxWorkflows := cfg.MaxConcurrentWorkflows
	if maxWorkflows <= 0 {
		maxWorkflows = DefaultMaxConcurrentWorkflows
	}
	return &Scheduler{
		tracker:      cfg.Tracker,
		executor:     executor,
		logger:       logger,
		maxWorkflows: maxWorkflows,
		defs:         make(map[string]*Definition),
		runs:         make(map[string]*run),
		wake:         make(chan struct{}, 1),
	}, nil
}

// Register validates def and stores it for later starts. Re-registering an
// id replaces the stored definition unless that workflow is currently
// active.
func (s *Scheduler) Register(def *Definition) error {
	if def == nil {
		return rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow definition is nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, active := s.runs[def.ID]; active {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow %s is currently active and cannot be replaced", def.ID)
	}
	s.defs[def.ID] = def
	return nil
}

// Start moves the workflow to in_progress and enqueues its root tasks.
// Workflows beyond the concurrency cap are rejected with a resource error
// rather than queued.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[id]
	if !ok {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeWorkflowNotFound,
			"unknown workflow: %s", id).
			WithSuggestion("Register the workflow before starting it")
	}
	if _, active := s.runs[id]; active {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow %s is already running", id)
	}
	if s.usage.ActiveWorkflows >= s.maxWorkflows {
		return rostrumErrors.Newf(rostrumErrors.KindResource, rostrumErrors.CodeWorkflowCapacity,
			"cannot start workflow %s: %d workflows already active", id, s.usage.ActiveWorkflows).
			WithSuggestion("Wait for a running workflow to finish or raise max_concurrent_workflows")
	}

	if err := s.tracker.SetWorkflowState(id, state.WorkflowInProgress, map[string]interface{}{
		"name": def.Name,
	}); err != nil {
		return err
	}

	s.ensureLoopLocked()

	runCtx, cancel := context.WithCancel(s.ctx)
	r := &run{
		def:       def,
		byID:      def.index(),
		children:  def.childIndex(),
		scheduled: make(map[string]bool, len(def.Tasks)),
		completed: make(map[string]bool, len(def.Tasks)),
		remaining: len(def.Tasks),
		width:     def.parallelWidth(),
		ctx:       runCtx,
		cancel:    cancel,
	}
	s.runs[id] = r
	s.usage.ActiveWorkflows++

	for _, t := range def.roots() {
		s.enqueueTaskLocked(r, t)
	}
	if def.Timeout > 0 {
		r.timer = time.AfterFunc(def.Timeout, func() { s.timeoutWorkflow(id) })
	}

	s.logger.Info("workflow started", "workflow_id", id, "tasks", len(def.Tasks), "width", r.width)
	s.wakeLoop()
	return nil
}

// Pause parks the workflow: queued tasks stop dispatching, in-flight tasks
// run to completion. Only legal from in_progress.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeWorkflowNotFound,
			"workflow %s is not active", id)
	}
	if r.paused {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow %s is already paused", id)
	}
	if err := s.tracker.SetWorkflowState(id, state.WorkflowPaused, nil); err != nil {
		return err
	}
	r.paused = true
	return nil
}

// Resume lifts a pause and re-queues parked tasks.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeWorkflowNotFound,
			"workflow %s is not active", id)
	}
	if !r.paused {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow %s is not paused", id)
	}
	if err := s.tracker.SetWorkflowState(id, state.WorkflowInProgress, nil); err != nil {
		return err
	}
	r.paused = false
	if r.deferred != nil {
		d := r.deferred
		r.deferred = nil
		s.announceTerminalLocked(r, d.status, d.detail)
		if r.inflight == 0 {
			s.releaseRunLocked(r)
		}
		return nil
	}
	s.repushParkedLocked(r)
	s.wakeLoop()
	return nil
}

// Cancel stops a workflow cooperatively: it leaves the active set now,
// queued tasks are discarded, and in-flight tasks finish without advancing
// the workflow any further.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		if _, registered := s.defs[id]; !registered {
			return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeWorkflowNotFound,
				"unknown workflow: %s", id)
		}
		// Registered but never started: cancel straight from pending.
		return s.tracker.SetWorkflowState(id, state.WorkflowCancelled, nil)
	}
	if !r.active() {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow %s is already finished", id)
	}
	if err := s.tracker.SetWorkflowState(id, state.WorkflowCancelled, nil); err != nil {
		return err
	}
	r.cancelled = true
	r.done = true
	s.usage.ActiveWorkflows--
	s.dropParkedLocked(r)
	s.stopTimerLocked(r)
	s.logger.Info("workflow cancelled", "workflow_id", id, "in_flight", r.inflight)
	if r.inflight == 0 {
		s.releaseRunLocked(r)
	}
	s.wakeLoop()
	return nil
}

// Fail marks a workflow failed on the caller's behalf. The scheduler never
// does this by itself when a task fails, so propagating a task failure to
// its workflow is always an explicit caller decision. Queued tasks are
// discarded and in-flight tasks finish without advancing the workflow.
// Failing a paused workflow takes effect when it resumes.
func (s *Scheduler) Fail(ctx context.Context, id string, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		if _, registered := s.defs[id]; !registered {
			return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeWorkflowNotFound,
				"unknown workflow: %s", id)
		}
		// Registered but never started: fail straight from pending.
		return s.tracker.SetWorkflowState(id, state.WorkflowFailed, failDetail(cause))
	}
	if !r.active() {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow %s is already finished", id)
	}
	r.failed = true
	s.dropParkedLocked(r)
	s.stopTimerLocked(r)
	s.terminalLocked(r, state.WorkflowFailed, failDetail(cause))
	s.logger.Info("workflow failed by caller", "workflow_id", id, "in_flight", r.inflight)
	if r.done && r.inflight == 0 {
		s.releaseRunLocked(r)
	}
	s.wakeLoop()
	return nil
}

func failDetail(cause error) map[string]interface{} {
	if cause == nil {
		return nil
	}
	return map[string]interface{}{"error": cause.Error()}
}

// Status reports where a workflow stands. The second return is false for
// ids the scheduler has never seen.
func (s *Scheduler) Status(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, tracked := s.tracker.GetWorkflowState(id)
	_, registered := s.defs[id]
	if !tracked && !registered {
		return Status{}, false
	}
	if !tracked {
		st = state.WorkflowPending
	}
	out := Status{ID: id, State: st}
	if def := s.defs[id]; def != nil {
		out.Total = len(def.Tasks)
	}
	if st == state.WorkflowCompleted {
		out.Completed = out.Total
	}
	if r, ok := s.runs[id]; ok {
		out.Completed = len(r.completed)
		out.Failed = r.failedTasks
		out.InFlight = r.inflight
		out.Queued = len(r.parked)
		for _, e := range s.queue {
			if e.workflowID == id {
				out.Queued++
			}
		}
	}
	return out, true
}

// Status is a point-in-time view of one workflow's progress.
type Status struct {
	ID        string
	State     state.WorkflowStatus
	Total     int
	Completed int
	Failed    int
	InFlight  int
	Queued    int
}

// ResourceUsage returns a snapshot of the scheduler's load counters.
func (s *Scheduler) ResourceUsage() ResourceUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Stop halts the consumption loop, cancels in-flight tasks, and waits for
// them to drain or for ctx to expire. The scheduler restarts on the next
// workflow start.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("workflow scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureLoopLocked starts the consumption loop if it isn't running.
// Callers must hold s.mu.
func (s *Scheduler) ensureLoopLocked() {
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	go s.loop(s.ctx, s.done)
}

// loop is the single consumption loop. It pops one entry at a time and
// hands it to a worker goroutine; entries that can't run yet are parked by
// nextRunnableLocked and never block other workflows.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	for {
		s.mu.Lock()
		e := s.nextRunnableLocked()
		if e == nil {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		r := s.runs[e.workflowID]
		r.inflight++
		s.usage.ActiveTasks++
		s.usage.QueuedTasks--
		s.tasks.Add(1)
		s.mu.Unlock()

		go s.runTask(r, e.task)
	}
}

// nextRunnableLocked pops until it finds an entry whose workflow can accept
// work. Entries for finished or cancelled workflows are dropped; entries
// for paused or width-saturated workflows are parked for later re-queueing.
func (s *Scheduler) nextRunnableLocked() *entry {
	for s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(*entry)
		r, ok := s.runs[e.workflowID]
		if !ok || !r.active() {
			s.usage.QueuedTasks--
			s.logger.Debug("dropping task for inactive workflow",
				"workflow_id", e.workflowID, "task_id", e.task.ID)
			continue
		}
		if r.paused || r.inflight >= r.width {
			r.parked = append(r.parked, e)
			continue
		}
		return e
	}
	return nil
}

// runTask executes one task on a worker goroutine and records the outcome
// through the tracker.
func (s *Scheduler) runTask(r *run, t *TaskDefinition) {
	defer s.tasks.Done()

	if err := s.tracker.SetTaskState(t.ID, state.TaskInProgress, map[string]interface{}{
		"workflow_id": r.def.ID,
	}); err != nil {
		s.finishTask(r, t, err)
		return
	}

	out, err := s.execute(r.ctx, t, s.taskMeta(r))
	if err != nil {
		if serr := s.tracker.SetTaskState(t.ID, state.TaskFailed, map[string]interface{}{
			"workflow_id": r.def.ID,
			"error":       err.Error(),
		}); serr != nil {
			s.logger.Error("task state update failed", "task_id", t.ID, "error", serr)
		}
		s.finishTask(r, t, err)
		return
	}

	detail := map[string]interface{}{"workflow_id": r.def.ID}
	if out != nil {
		detail["result"] = out
	}
	if serr := s.tracker.SetTaskState(t.ID, state.TaskCompleted, detail); serr != nil {
		s.logger.Error("task state update failed", "task_id", t.ID, "error", serr)
	}
	s.finishTask(r, t, nil)
}

// execute invokes the executor with panic recovery so a misbehaving
// executor fails one task instead of taking the process down.
func (s *Scheduler) execute(ctx context.Context, t *TaskDefinition, meta map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = rostrumErrors.Newf(rostrumErrors.KindAgent, rostrumErrors.CodeExecutorFailed,
				"panic executing task %s: %v", t.ID, rec)
		}
	}()
	return s.executor.Execute(ctx, t, meta)
}

// taskMeta builds the metadata map passed to the executor for one call.
// Each call gets a fresh map so concurrent tasks never share one.
func (s *Scheduler) taskMeta(r *run) map[string]interface{} {
	meta := make(map[string]interface{}, len(r.def.Metadata)+2)
	for k, v := range r.def.Metadata {
		meta[k] = v
	}
	meta["workflow_id"] = r.def.ID
	meta["workflow_name"] = r.def.Name
	return meta
}

// finishTask is the post-execution bookkeeping: counters, workflow
// progression, and freeing the worker slot. A task failure never fails
// the workflow on its own: the task's dependents starve, the rest of the
// workflow continues, and the workflow stays active until the caller
// decides through Fail or Cancel. Completions of cancelled or failed
// workflows are recorded but never advance them.
func (s *Scheduler) finishTask(r *run, t *TaskDefinition, taskErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.inflight--
	s.usage.ActiveTasks--
	if taskErr != nil {
		s.usage.FailedTasks++
	} else {
		s.usage.CompletedTasks++
	}

	switch {
	case taskErr != nil && r.active():
		r.failedTasks++

	case taskErr == nil && r.active():
		r.completed[t.ID] = true
		r.remaining--
		if r.remaining == 0 {
			s.stopTimerLocked(r)
			s.terminalLocked(r, state.WorkflowCompleted, nil)
		} else {
			s.enqueueReadyChildrenLocked(r, t.ID)
		}
	}

	if !r.paused && len(r.parked) > 0 {
		s.repushParkedLocked(r)
	}
	if r.done && r.inflight == 0 {
		s.releaseRunLocked(r)
	}
	s.wakeLoop()
}

// terminalLocked records a workflow-terminal transition, or defers it when
// the workflow is paused since the pause graph has no edge to completed or
// failed.
func (s *Scheduler) terminalLocked(r *run, st state.WorkflowStatus, detail map[string]interface{}) {
	if r.paused {
		r.deferred = &deferredTerminal{status: st, detail: detail}
		return
	}
	s.announceTerminalLocked(r, st, detail)
}

func (s *Scheduler) announceTerminalLocked(r *run, st state.WorkflowStatus, detail map[string]interface{}) {
	s.usage.ActiveWorkflows--
	r.done = true
	if err := s.tracker.SetWorkflowState(r.def.ID, st, detail); err != nil {
		s.logger.Error("workflow state update failed", "workflow_id", r.def.ID, "error", err)
	}
}

// enqueueReadyChildrenLocked queues dependents of a completed task whose
// dependencies are now all satisfied. The scheduled set guarantees a task
// is queued at most once per run.
func (s *Scheduler) enqueueReadyChildrenLocked(r *run, completedID string) {
	for _, childID := range r.children[completedID] {
		if r.scheduled[childID] {
			continue
		}
		child := r.byID[childID]
		if !r.depsCompleted(child) {
			continue
		}
		s.enqueueTaskLocked(r, child)
	}
}

// enqueueTaskLocked marks a task ready and pushes it onto the queue.
func (s *Scheduler) enqueueTaskLocked(r *run, t *TaskDefinition) {
	r.scheduled[t.ID] = true
	if err := s.tracker.SetTaskState(t.ID, state.TaskReady, map[string]interface{}{
		"workflow_id": r.def.ID,
	}); err != nil {
		s.logger.Error("task state update failed", "task_id", t.ID, "error", err)
	}
	s.seq++
	heap.Push(&s.queue, &entry{
		priority:   priorityOf(t),
		seq:        s.seq,
		workflowID: r.def.ID,
		task:       t,
	})
	s.usage.QueuedTasks++
}

// timeoutWorkflow fires when a workflow's deadline passes. In-flight tasks
// get their context cancelled; a workflow that already finished is left
// alone.
func (s *Scheduler) timeoutWorkflow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok || !r.active() {
		return
	}
	r.failed = true
	r.timer = nil
	s.dropParkedLocked(r)
	r.cancel()
	timeoutErr := rostrumErrors.Newf(rostrumErrors.KindTransient, rostrumErrors.CodeTimeout,
		"workflow %s timed out after %s", id, r.def.Timeout)
	s.terminalLocked(r, state.WorkflowFailed, map[string]interface{}{
		"error": timeoutErr.Error(),
	})
	s.logger.Warn("workflow timed out", "workflow_id", id, "timeout", r.def.Timeout.String())
	if r.done && r.inflight == 0 {
		s.releaseRunLocked(r)
	}
	s.wakeLoop()
}

func (s *Scheduler) repushParkedLocked(r *run) {
	for _, e := range r.parked {
		heap.Push(&s.queue, e)
	}
	r.parked = nil
}

func (s *Scheduler) dropParkedLocked(r *run) {
	s.usage.QueuedTasks -= len(r.parked)
	r.parked = nil
}

func (s *Scheduler) stopTimerLocked(r *run) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (s *Scheduler) releaseRunLocked(r *run) {
	s.stopTimerLocked(r)
	r.cancel()
	delete(s.runs, r.def.ID)
}

// wakeLoop nudges the consumption loop without blocking.
func (s *Scheduler) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
