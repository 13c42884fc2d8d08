// Package recovery maps categorized errors to recovery actions and manages
// system state checkpoints. The policy table is fixed at construction;
// retry budgets are tracked per error correlation id so unrelated failures
// never share a budget.
package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/state"
)

// Level names what a recovery action does.
type Level string

const (
	LevelRetry      Level = "retry"
	LevelRollback   Level = "rollback"
	LevelCheckpoint Level = "checkpoint"
	LevelTerminate  Level = "terminate"
	LevelEmergency  Level = "emergency"
)

// Action pairs a recovery level with its retry budget. Delay only applies
// to retry actions, where it grows exponentially per attempt.
type Action struct {
	Level      Level
	MaxRetries int
	Delay      time.Duration
}

// maxRetryDelay caps the exponential backoff.
const maxRetryDelay = 30 * time.Second

// DefaultCacheSize bounds the in-memory checkpoint cache.
const DefaultCacheSize = 32

func defaultPolicies() map[rostrumErrors.Kind]Action {
	return map[rostrumErrors.Kind]Action{
		rostrumErrors.KindTransient:  {Level: LevelRetry, MaxRetries: 3, Delay: time.Second},
		rostrumErrors.KindState:      {Level: LevelRollback, MaxRetries: 1},
		rostrumErrors.KindResource:   {Level: LevelCheckpoint, MaxRetries: 2, Delay: 2 * time.Second},
		rostrumErrors.KindValidation: {Level: LevelTerminate, MaxRetries: 0},
		rostrumErrors.KindAgent:      {Level: LevelRetry, MaxRetries: 2, Delay: time.Second},
		rostrumErrors.KindSystem:     {Level: LevelEmergency, MaxRetries: 0},
		rostrumErrors.KindUnknown:    {Level: LevelTerminate, MaxRetries: 0},
	}
}

// Context carries correlation data for one recovery attempt. ErrorID keys
// the retry budget; leaving it empty gets a fresh id per call, which means
// an unkeyed error never accumulates attempts.
type Context struct {
	ErrorID      string
	Component    string
	Operation    string
	CheckpointID string
	Detail       map[string]interface{}
}

// CleanupFunc releases resources during terminate and emergency handling.
type CleanupFunc func(ctx context.Context) error

// RollbackFunc undoes partial state changes for state-category errors.
type RollbackFunc func(ctx context.Context, rctx Context) error

// Logger is a minimal logging interface so the manager doesn't depend on
// telemetry.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Metrics receives recovery and checkpoint activity. Optional; the telemetry
// package's collectors satisfy it.
type Metrics interface {
	RecoveryAttempt(level string)
	CheckpointCreated()
	CheckpointRestored()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Config wires a Manager's collaborators.
type Config struct {
	// Tracker is where checkpoint restores land. Required.
	Tracker *state.Tracker

	// Store persists checkpoint blobs. Defaults to an in-memory store.
	Store checkpoint.Store

	// Resources supplies the free-form resource map captured alongside
	// tracker state in each checkpoint. Optional.
	Resources func() map[string]interface{}

	// Cleanup runs during terminate and emergency handling. Optional.
	Cleanup CleanupFunc

	// Rollback runs for state-category errors. Optional.
	Rollback RollbackFunc

	// Logger receives recovery diagnostics. Optional.
	Logger Logger

	// Metrics counts recovery actions and checkpoint activity. Optional.
	Metrics Metrics

	// CacheSize bounds the checkpoint read cache. Zero means the default.
	CacheSize int

	// Policies overrides individual entries of the default policy table.
	Policies map[rostrumErrors.Kind]Action
}

// Manager decides how to react to errors and owns checkpoint lifecycle.
type Manager struct {
	mu       sync.Mutex
	attempts map[string]int

	tracker   *state.Tracker
	store     checkpoint.Store
	resources func() map[string]interface{}
	cleanup   CleanupFunc
	rollback  RollbackFunc
	logger    Logger
	metrics   Metrics
	policies  map[rostrumErrors.Kind]Action
	cache     *lru.Cache[string, state.SystemState]
}

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Tracker == nil {
		return nil, rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"recovery manager requires a state tracker")
	}
	store := cfg.Store
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, state.SystemState](cacheSize)
	if err != nil {
		return nil, rostrumErrors.Wrap(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"invalid checkpoint cache size", err)
	}
	policies := defaultPolicies()
	for kind, action := range cfg.Policies {
		policies[kind] = action
	}
	return &Manager{
		attempts:  make(map[string]int),
		tracker:   cfg.Tracker,
		store:     store,
		resources: cfg.Resources,
		cleanup:   cfg.Cleanup,
		rollback:  cfg.Rollback,
		logger:    logger,
		metrics:   cfg.Metrics,
		policies:  policies,
		cache:     cache,
	}, nil
}

// Categorize maps an error to its recovery category. Tags placed at the
// construction site win; untagged state transition failures are recognized
// structurally; everything else is unknown.
func (m *Manager) Categorize(err error) rostrumErrors.Kind {
	if err == nil {
		return rostrumErrors.KindUnknown
	}
	if kind := rostrumErrors.KindOf(err); kind != rostrumErrors.KindUnknown {
		return kind
	}
	var te *state.TransitionError
	if errors.As(err, &te) {
		return rostrumErrors.KindState
	}
	return rostrumErrors.KindUnknown
}

// Handle reacts to err according to the policy table. A nil return means
// the action ran and the caller may try again; a non-nil return is final.
// Once the budget for rctx.ErrorID is spent, the original error comes back
// unchanged, with cleanup run first for terminate and emergency actions.
func (m *Manager) Handle(ctx context.Context, err error, rctx Context) error {
	if err == nil {
		return nil
	}
	kind := m.Categorize(err)
	action, ok := m.policies[kind]
	if !ok {
		action = m.policies[rostrumErrors.KindUnknown]
	}

	errorID := rctx.ErrorID
	if errorID == "" {
		errorID = uuid.NewString()
	}

	m.mu.Lock()
	attempts := m.attempts[errorID]
	if attempts >= action.MaxRetries {
		m.mu.Unlock()
		m.logger.Error("recovery exhausted",
			"error_id", errorID,
			"category", string(kind),
			"attempts", attempts,
			"error", err)
		if action.Level == LevelTerminate || action.Level == LevelEmergency {
			m.runCleanup(ctx)
		}
		return err
	}
	m.attempts[errorID] = attempts + 1
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecoveryAttempt(string(action.Level))
	}
	m.logger.Info("executing recovery action",
		"error_id", errorID,
		"category", string(kind),
		"level", string(action.Level),
		"attempt", attempts+1,
		"component", rctx.Component,
		"operation", rctx.Operation)

	switch action.Level {
	case LevelRetry:
		return m.pause(ctx, backoffDelay(action.Delay, attempts+1))

	case LevelRollback:
		if m.rollback == nil {
			return nil
		}
		return m.rollback(ctx, rctx)

	case LevelCheckpoint:
		id := rctx.CheckpointID
		if id == "" {
			latest, lerr := m.LatestCheckpoint(ctx)
			if lerr != nil {
				return lerr
			}
			id = latest.ID
		}
		if _, rerr := m.RestoreCheckpoint(ctx, id); rerr != nil {
			return rerr
		}
		return nil

	case LevelTerminate:
		m.runCleanup(ctx)
		return nil

	case LevelEmergency:
		m.runCleanup(ctx)
		return err
	}
	return err
}

// Attempts reports how much budget an error id has consumed.
func (m *Manager) Attempts(errorID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[errorID]
}

func (m *Manager) runCleanup(ctx context.Context) {
	if m.cleanup == nil {
		return
	}
	if err := m.cleanup(ctx); err != nil {
		m.logger.Error("cleanup failed", "error", err)
	}
}

// pause sleeps for d unless the context expires first.
func (m *Manager) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay doubles the base delay for each prior attempt, capped so a
// deep retry budget can't stall recovery for minutes.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}
