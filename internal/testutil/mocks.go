package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	"github.com/rostrum-oss/rostrum/internal/config"
	"github.com/rostrum-oss/rostrum/internal/orchestrator"
	"github.com/rostrum-oss/rostrum/internal/telemetry"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

// Outcome scripts one Execute call of a MockExecutor.
type Outcome struct {
	Result   interface{}
	Err      error
	Delay    time.Duration
	PanicMsg string
}

// MockExecutor returns scripted outcomes per task id, in order. Once a
// task's script is exhausted, further calls succeed with a default
// result, so retries can recover without extra scripting.
type MockExecutor struct {
	mu      sync.Mutex
	scripts map[string][]Outcome
	calls   []string
}

// NewMockExecutor creates an empty executor. Tasks without a script
// succeed immediately.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{scripts: make(map[string][]Outcome)}
}

// Script appends outcomes for the given task id.
func (m *MockExecutor) Script(taskID string, outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[taskID] = append(m.scripts[taskID], outcomes...)
}

// Execute implements workflow.Executor.
func (m *MockExecutor) Execute(ctx context.Context, task *workflow.TaskDefinition, meta map[string]interface{}) (interface{}, error) {
	m.mu.Lock()
	m.calls = append(m.calls, task.ID)
	out := Outcome{Result: "done:" + task.ID}
	if queued := m.scripts[task.ID]; len(queued) > 0 {
		out = queued[0]
		m.scripts[task.ID] = queued[1:]
	}
	m.mu.Unlock()

	if out.Delay > 0 {
		select {
		case <-time.After(out.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if out.PanicMsg != "" {
		panic(out.PanicMsg)
	}
	return out.Result, out.Err
}

// Calls returns every executed task id in call order.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the given task ran.
func (m *MockExecutor) CallCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.calls {
		if id == taskID {
			n++
		}
	}
	return n
}

// MockDebater argues with a fixed confidence ramp. Round i uses
// Confidences[i], clamped to the last entry when the slice runs out.
type MockDebater struct {
	ID          string
	Confidences []float64
	Evidence    map[int][]string
	Errs        map[int]error

	mu    sync.Mutex
	turns int
}

// Argue implements orchestrator.Debater.
func (d *MockDebater) Argue(ctx context.Context, topic string, transcript []Turn) (Turn, error) {
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}

	d.mu.Lock()
	round := d.turns
	d.turns++
	d.mu.Unlock()

	if err, ok := d.Errs[round]; ok {
		return Turn{}, err
	}

	conf := 0.5
	if n := len(d.Confidences); n > 0 {
		if round < n {
			conf = d.Confidences[round]
		} else {
			conf = d.Confidences[n-1]
		}
	}
	return Turn{
		AgentID:    d.ID,
		Round:      round,
		Statement:  fmt.Sprintf("%s argues round %d of %q", d.ID, round, topic),
		Evidence:   d.Evidence[round],
		Confidence: conf,
	}, nil
}

// TurnCount returns how many turns the debater has produced.
func (d *MockDebater) TurnCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.turns
}

// Turn re-exports the debate turn type so test files scripting debaters
// need only this package.
type Turn = orchestrator.Turn

// FailingStore wraps an in-memory checkpoint store and fails selected
// operations, for exercising degraded persistence paths.
type FailingStore struct {
	Inner checkpoint.Store

	WriteErr  error
	ReadErr   error
	ListErr   error
	DeleteErr error
}

// NewFailingStore wraps a fresh memory store.
func NewFailingStore() *FailingStore {
	return &FailingStore{Inner: checkpoint.NewMemoryStore()}
}

func (s *FailingStore) Write(ctx context.Context, id string, blob []byte) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	return s.Inner.Write(ctx, id, blob)
}

func (s *FailingStore) Read(ctx context.Context, id string) ([]byte, error) {
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	return s.Inner.Read(ctx, id)
}

func (s *FailingStore) ListRecent(ctx context.Context, limit int) ([]checkpoint.Meta, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.Inner.ListRecent(ctx, limit)
}

func (s *FailingStore) Delete(ctx context.Context, id string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return s.Inner.Delete(ctx, id)
}

func (s *FailingStore) Close() error {
	return s.Inner.Close()
}

// TestLogger returns a verbose logger for test output.
func TestLogger() *telemetry.Logger {
	return telemetry.NewLogger(true)
}

// TestConfig returns a configuration suited to tests: in-memory
// checkpoints, a small fast bus, and modest concurrency.
func TestConfig() *config.Config {
	return &config.Config{
		Log: config.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Bus: config.BusConfig{
			QueueSize:    256,
			PollInterval: 10 * time.Millisecond,
		},
		Scheduler: config.SchedulerConfig{
			MaxConcurrentWorkflows: 4,
		},
		Checkpoint: config.CheckpointConfig{
			Driver:    "memory",
			Retention: time.Hour,
		},
		Recovery: config.RecoveryConfig{
			CacheSize: 8,
		},
	}
}
