package workflow

// ResourceUsage is a point-in-time snapshot of scheduler load. ActiveTasks
// and QueuedTasks move with the queue; the remaining counters only grow.
type ResourceUsage struct {
	ActiveTasks     int
	QueuedTasks     int
	ActiveWorkflows int
	CompletedTasks  int
	FailedTasks     int
}

// Map renders the counters with snake_case keys for checkpoint payloads
// and log fields.
func (u ResourceUsage) Map() map[string]interface{} {
	return map[string]interface{}{
		"active_tasks":     u.ActiveTasks,
		"queued_tasks":     u.QueuedTasks,
		"active_workflows": u.ActiveWorkflows,
		"completed_tasks":  u.CompletedTasks,
		"failed_tasks":     u.FailedTasks,
	}
}
