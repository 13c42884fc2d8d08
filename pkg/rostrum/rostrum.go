// Package rostrum is the public embedding surface for the rostrum
// orchestration kernel.
//
// Example usage:
//
//	import "github.com/rostrum-oss/rostrum/pkg/rostrum"
//
//	// Run a workflow file end to end
//	err := rostrum.Run("workflows/build.yaml")
//
//	// Or wire the kernel yourself
//	orch, err := rostrum.New(nil, myExecutor, rostrum.Options{})
//	def, err := rostrum.LoadDefinition("workflows/build.yaml")
//	err = orch.RunWorkflow(ctx, def)
package rostrum

import (
	"context"
	"time"

	"github.com/rostrum-oss/rostrum/internal/config"
	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/event"
	"github.com/rostrum-oss/rostrum/internal/executor"
	"github.com/rostrum-oss/rostrum/internal/orchestrator"
	"github.com/rostrum-oss/rostrum/internal/state"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

// Kernel types re-exported for embedders.
type (
	Orchestrator       = orchestrator.Orchestrator
	Options            = orchestrator.Options
	Config             = config.Config
	Definition         = workflow.Definition
	TaskDefinition     = workflow.TaskDefinition
	Status             = workflow.Status
	ResourceUsage      = workflow.ResourceUsage
	Executor           = workflow.Executor
	ExecutorFunc       = workflow.ExecutorFunc
	ExecutorMiddleware = workflow.ExecutorMiddleware
	Debater            = orchestrator.Debater
	DebateSession      = orchestrator.DebateSession
	DebateOutcome      = orchestrator.DebateOutcome
	ConsensusFunc      = orchestrator.ConsensusFunc
	Turn               = orchestrator.Turn
	Event              = event.Event
	EventType          = event.EventType
	Handler            = event.Handler
	Subscription       = event.Subscription
	SystemState        = state.SystemState
	WorkflowStatus     = state.WorkflowStatus
	TaskStatus         = state.TaskStatus
	DebateStatus       = state.DebateStatus
)

// Event types embedders can register handlers for via Bus().
const (
	WorkflowStarted    = event.WorkflowStarted
	WorkflowCompleted  = event.WorkflowCompleted
	WorkflowFailed     = event.WorkflowFailed
	StepStarted        = event.StepStarted
	StepCompleted      = event.StepCompleted
	StepFailed         = event.StepFailed
	AgentTaskStarted   = event.AgentTaskStarted
	AgentTaskCompleted = event.AgentTaskCompleted
	AgentTaskFailed    = event.AgentTaskFailed
	DebateStarted      = event.DebateStarted
	ArgumentSubmitted  = event.ArgumentSubmitted
	EvidencePresented  = event.EvidencePresented
	RoundCompleted     = event.RoundCompleted
	ConsensusReached   = event.ConsensusReached
	DebateEnded        = event.DebateEnded
)

// New builds a fully wired orchestrator. A nil cfg loads configuration
// from ROSTRUM_* environment variables; a nil executor dry-runs each task
// by sleeping its estimated duration.
func New(cfg *Config, exec Executor, opts Options) (*Orchestrator, error) {
	return orchestrator.New(cfg, exec, opts)
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	return config.Load()
}

// LoadDefinition reads a workflow definition from a YAML file.
func LoadDefinition(path string) (*Definition, error) {
	return config.LoadDefinition(path)
}

// ParseDefinition reads a workflow definition from YAML content.
func ParseDefinition(content []byte) (*Definition, error) {
	return config.ParseDefinition(content)
}

// NewCommandExecutor returns an executor that runs each task's metadata
// command through the shell, with dir as the working directory.
func NewCommandExecutor(dir string) Executor {
	return executor.NewCommandExecutor(dir)
}

// Run loads the definition at path and runs it to completion with the
// environment configuration and the command executor.
func Run(path string) error {
	return RunWithContext(context.Background(), path)
}

// RunWithContext runs the definition at path under ctx. The kernel is
// built for this one run and shut down afterwards.
func RunWithContext(ctx context.Context, path string) error {
	def, err := LoadDefinition(path)
	if err != nil {
		return err
	}

	orch, err := New(nil, NewCommandExecutor(""), Options{})
	if err != nil {
		return err
	}

	runErr := orch.RunWorkflow(ctx, def)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// AsCode extracts the machine-readable code from a kernel error, or ""
// for foreign errors.
func AsCode(err error) string {
	return rostrumErrors.AsCode(err)
}

// Suggestion extracts the actionable fix attached to a kernel error.
func Suggestion(err error) string {
	return rostrumErrors.Suggestion(err)
}
