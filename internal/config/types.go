package config

import (
	"time"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/workflow"
)

// DefinitionSpec is the on-disk shape of a workflow definition file.
// Durations are strings ("30s", "5m") so files stay hand-editable.
type DefinitionSpec struct {
	ID               string                 `yaml:"id" json:"id"`
	Name             string                 `yaml:"name" json:"name"`
	Description      string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Tasks            []TaskSpec             `yaml:"tasks" json:"tasks"`
	MaxParallelTasks int                    `yaml:"max_parallel_tasks,omitempty" json:"max_parallel_tasks,omitempty"`
	Timeout          string                 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Metadata         map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// TaskSpec is the on-disk shape of one task entry.
type TaskSpec struct {
	ID                string                 `yaml:"id" json:"id"`
	Name              string                 `yaml:"name" json:"name"`
	Description       string                 `yaml:"description,omitempty" json:"description,omitempty"`
	OwnerGroup        string                 `yaml:"owner_group,omitempty" json:"owner_group,omitempty"`
	DependsOn         []string               `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	EstimatedDuration string                 `yaml:"estimated_duration,omitempty" json:"estimated_duration,omitempty"`
	Resources         map[string]float64     `yaml:"resources,omitempty" json:"resources,omitempty"`
	Metadata          map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Definition converts the file shape into the scheduler's runtime shape.
// Duration strings are parsed here; graph validation stays with
// workflow.Definition.Validate.
func (s *DefinitionSpec) Definition() (*workflow.Definition, error) {
	def := &workflow.Definition{
		ID:               s.ID,
		Name:             s.Name,
		Description:      s.Description,
		Tasks:            make([]workflow.TaskDefinition, 0, len(s.Tasks)),
		MaxParallelTasks: s.MaxParallelTasks,
		Metadata:         s.Metadata,
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
				"invalid timeout in workflow %s: %q", s.ID, s.Timeout).
				WithSuggestion(`Use a duration string such as "30s" or "5m"`)
		}
		def.Timeout = d
	}
	for _, t := range s.Tasks {
		task := workflow.TaskDefinition{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			OwnerGroup:  t.OwnerGroup,
			DependsOn:   t.DependsOn,
			Resources:   t.Resources,
			Metadata:    t.Metadata,
		}
		if t.EstimatedDuration != "" {
			d, err := time.ParseDuration(t.EstimatedDuration)
			if err != nil {
				return nil, rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
					"invalid estimated_duration on task %s: %q", t.ID, t.EstimatedDuration).
					WithSuggestion(`Use a duration string such as "30s" or "5m"`)
			}
			task.EstimatedDuration = d
		}
		def.Tasks = append(def.Tasks, task)
	}
	return def, nil
}
