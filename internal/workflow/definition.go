// Package workflow schedules dependency-ordered tasks across concurrent
// workflows. A single consumption loop pops ready tasks from a priority
// queue and dispatches them to worker goroutines, bounded per workflow by
// its parallelism width.
package workflow

import (
	"fmt"
	"time"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
)

// DefaultPriority is assigned to tasks that don't override it in metadata.
const DefaultPriority = 1

// TaskDefinition describes one unit of work inside a workflow. Definitions
// are read-only once registered; callers must not mutate them afterwards.
type TaskDefinition struct {
	ID                string
	Name              string
	Description       string
	OwnerGroup        string
	DependsOn         []string
	EstimatedDuration time.Duration
	Resources         map[string]float64
	Metadata          map[string]interface{}
}

// Definition describes a workflow as a dependency graph of tasks.
type Definition struct {
	ID               string
	Name             string
	Description      string
	Tasks            []TaskDefinition
	MaxParallelTasks int
	Timeout          time.Duration
	Metadata         map[string]interface{}
}

// Validate checks the definition for structural problems: missing ids,
// duplicate tasks, references to unknown tasks, and dependency cycles.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow id is required")
	}
	if len(d.Tasks) == 0 {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow %s has no tasks", d.ID)
	}
	if d.MaxParallelTasks < 0 {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"workflow %s has negative max_parallel_tasks", d.ID)
	}

	byID := make(map[string]*TaskDefinition, len(d.Tasks))
	for i := range d.Tasks {
		t := &d.Tasks[i]
		if t.ID == "" {
			return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
				"workflow %s contains a task without an id", d.ID)
		}
		if _, dup := byID[t.ID]; dup {
			return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeDuplicateTask,
				"duplicate task id in workflow %s: %s", d.ID, t.ID)
		}
		byID[t.ID] = t
	}

	for i := range d.Tasks {
		t := &d.Tasks[i]
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeUnknownDependency,
					"task %s depends on unknown task: %s", t.ID, dep).
					WithSuggestion(fmt.Sprintf("Add a task with id %q or remove the dependency", dep))
			}
		}
	}

	if edge := findCycle(byID); edge != "" {
		return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeCyclicDependency,
			"cyclic dependency detected in workflow %s: %s", d.ID, edge).
			WithSuggestion("Remove or restructure the circular dependency in the task graph")
	}
	return nil
}

// findCycle walks the dependency graph depth-first and returns the edge
// that closes a cycle, or "" when the graph is acyclic.
func findCycle(byID map[string]*TaskDefinition) string {
	visited := make(map[string]bool, len(byID))
	inStack := make(map[string]bool, len(byID))
	var edge string

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		inStack[id] = true
		for _, dep := range byID[id].DependsOn {
			if !visited[dep] {
				if visit(dep) {
					return true
				}
			} else if inStack[dep] {
				edge = fmt.Sprintf("%s -> %s", id, dep)
				return true
			}
		}
		inStack[id] = false
		return false
	}

	for id := range byID {
		if !visited[id] && visit(id) {
			return edge
		}
	}
	return ""
}

// parallelWidth returns the effective MaxParallelTasks, defaulting to 1.
func (d *Definition) parallelWidth() int {
	if d.MaxParallelTasks < 1 {
		return 1
	}
	return d.MaxParallelTasks
}

// index returns a task lookup by id.
func (d *Definition) index() map[string]*TaskDefinition {
	byID := make(map[string]*TaskDefinition, len(d.Tasks))
	for i := range d.Tasks {
		byID[d.Tasks[i].ID] = &d.Tasks[i]
	}
	return byID
}

// childIndex maps each task id to the ids of tasks that depend on it. The
// scheduler uses it to find candidate tasks after a completion instead of
// re-scanning the whole graph.
func (d *Definition) childIndex() map[string][]string {
	children := make(map[string][]string)
	for i := range d.Tasks {
		t := &d.Tasks[i]
		for _, dep := range t.DependsOn {
			children[dep] = append(children[dep], t.ID)
		}
	}
	return children
}

// roots returns tasks with no dependencies, in declaration order.
func (d *Definition) roots() []*TaskDefinition {
	var out []*TaskDefinition
	for i := range d.Tasks {
		if len(d.Tasks[i].DependsOn) == 0 {
			out = append(out, &d.Tasks[i])
		}
	}
	return out
}

// priorityOf reads a task's scheduling priority from its metadata. Lower
// values run first. Anything that isn't a number falls back to the default.
func priorityOf(t *TaskDefinition) int {
	if t == nil || t.Metadata == nil {
		return DefaultPriority
	}
	switch v := t.Metadata["priority"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return DefaultPriority
}
