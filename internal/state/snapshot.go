package state

import "time"

// SystemState is the checkpoint payload: a full copy of every tracked
// lifecycle state plus the scheduler's resource counters at capture time.
type SystemState struct {
	WorkflowStates map[string]WorkflowStatus `json:"workflow_states"`
	DebateStates   map[string]DebateStatus   `json:"debate_states"`
	TaskStates     map[string]TaskStatus     `json:"task_states"`
	Resources      map[string]interface{}    `json:"resources"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// Snapshot captures the three state maps together with the given resource
// counters. The returned value shares nothing with the tracker.
func (t *Tracker) Snapshot(resources map[string]interface{}) SystemState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := SystemState{
		WorkflowStates: make(map[string]WorkflowStatus, len(t.workflows)),
		DebateStates:   make(map[string]DebateStatus, len(t.debates)),
		TaskStates:     make(map[string]TaskStatus, len(t.tasks)),
		Resources:      make(map[string]interface{}, len(resources)),
		Timestamp:      time.Now().UTC(),
	}
	for k, v := range t.workflows {
		s.WorkflowStates[k] = v
	}
	for k, v := range t.debates {
		s.DebateStates[k] = v
	}
	for k, v := range t.tasks {
		s.TaskStates[k] = v
	}
	for k, v := range resources {
		s.Resources[k] = v
	}
	return s
}

// Restore replaces all three state maps with the snapshot's contents.
// Entries absent from the snapshot are dropped; no events are published
// (a restore is not a transition).
func (t *Tracker) Restore(s SystemState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.workflows = make(map[string]WorkflowStatus, len(s.WorkflowStates))
	for k, v := range s.WorkflowStates {
		t.workflows[k] = v
	}
	t.debates = make(map[string]DebateStatus, len(s.DebateStates))
	for k, v := range s.DebateStates {
		t.debates[k] = v
	}
	t.tasks = make(map[string]TaskStatus, len(s.TaskStates))
	for k, v := range s.TaskStates {
		t.tasks[k] = v
	}
}
