package workflow

// entry is one queued task waiting for dispatch.
type entry struct {
	priority   int
	seq        uint64
	workflowID string
	task       *TaskDefinition
}

// readyQueue is a min-heap ordered by priority, then by insertion sequence
// so equal-priority tasks dispatch in FIFO order.
type readyQueue []*entry

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x interface{}) {
	*q = append(*q, x.(*entry))
}

func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
