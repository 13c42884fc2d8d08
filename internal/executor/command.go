// Package executor provides concrete execution backends for workflow
// tasks. The scheduler treats its executor as an opaque collaborator;
// the backends here are what the CLI plugs in.
package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

// Task metadata keys the command backend reads.
const (
	// MetadataCommand holds the shell command line to run.
	MetadataCommand = "command"
	// MetadataEnv holds extra environment entries (map of string to string).
	MetadataEnv = "env"
)

// CommandExecutor runs each task's metadata command through a shell and
// returns its trimmed combined output as the task result. Tasks without a
// command sleep their estimated duration instead, so partially annotated
// workflows still run end to end.
type CommandExecutor struct {
	// Dir is the working directory for spawned commands. Empty inherits
	// the process working directory.
	Dir string
	// Shell is the interpreter invocation. Empty means sh -c.
	Shell []string
}

// NewCommandExecutor returns a CommandExecutor running commands in dir.
func NewCommandExecutor(dir string) *CommandExecutor {
	return &CommandExecutor{Dir: dir}
}

// Execute runs the task's command. The scheduler never preempts a running
// task, so the task's estimated duration is enforced here as a hard
// timeout when set.
func (e *CommandExecutor) Execute(ctx context.Context, task *workflow.TaskDefinition, meta map[string]interface{}) (interface{}, error) {
	command := stringField(task.Metadata, MetadataCommand)
	if command == "" {
		return idle(ctx, task.EstimatedDuration)
	}

	if task.EstimatedDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.EstimatedDuration)
		defer cancel()
	}

	shell := e.Shell
	if len(shell) == 0 {
		shell = []string{"sh", "-c"}
	}
	cmd := exec.CommandContext(ctx, shell[0], append(shell[1:], command)...)
	cmd.Dir = e.Dir
	cmd.Env = append(os.Environ(), envFields(task.Metadata, meta)...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, rostrumErrors.Newf(rostrumErrors.KindTransient, rostrumErrors.CodeTimeout,
				"task %s exceeded its estimated duration of %s", task.ID, task.EstimatedDuration)
		}
		wrapped := rostrumErrors.Wrap(rostrumErrors.KindAgent, rostrumErrors.CodeExecutorFailed,
			fmt.Sprintf("command for task %s failed", task.ID), err)
		if tail := lastLine(out); tail != "" {
			return nil, wrapped.WithSuggestion(tail)
		}
		return nil, wrapped
	}
	return strings.TrimSpace(string(out)), nil
}

// idle mirrors the scheduler's stand-in behavior for tasks that carry no
// command of their own.
func idle(ctx context.Context, d time.Duration) (interface{}, error) {
	if d <= 0 {
		return nil, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func stringField(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return strings.TrimSpace(s)
}

// envFields flattens the task's env metadata plus the scheduler-provided
// run metadata into KEY=value pairs. Run metadata entries are prefixed so
// commands can tell where they came from.
func envFields(taskMeta, runMeta map[string]interface{}) []string {
	var env []string
	if m, ok := taskMeta[MetadataEnv].(map[string]interface{}); ok {
		for k, v := range m {
			env = append(env, fmt.Sprintf("%s=%v", k, v))
		}
	}
	for k, v := range runMeta {
		env = append(env, fmt.Sprintf("ROSTRUM_TASK_%s=%v", strings.ToUpper(k), v))
	}
	return env
}

// lastLine returns the final non-empty output line, used as the failure
// suggestion since shells put the useful diagnostic there.
func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
