package workflow

import (
	"container/heap"
	"strings"
	"testing"
)

func TestReadyQueue_PriorityThenFIFO(t *testing.T) {
	q := &readyQueue{}
	heap.Init(q)

	push := func(priority int, seq uint64, id string) {
		heap.Push(q, &entry{
			priority:   priority,
			seq:        seq,
			workflowID: "wf",
			task:       &TaskDefinition{ID: id},
		})
	}
	push(2, 1, "b1")
	push(1, 2, "a1")
	push(1, 3, "a2")
	push(0, 4, "urgent")
	push(2, 5, "b2")

	var got []string
	for q.Len() > 0 {
		got = append(got, heap.Pop(q).(*entry).task.ID)
	}

	want := "urgent,a1,a2,b1,b2"
	if joined := strings.Join(got, ","); joined != want {
		t.Errorf("expected pop order %s, got %s", want, joined)
	}
}

func TestReadyQueue_FIFOWithinSamePriority(t *testing.T) {
	q := &readyQueue{}
	heap.Init(q)

	for i := uint64(1); i <= 10; i++ {
		heap.Push(q, &entry{priority: DefaultPriority, seq: i, task: &TaskDefinition{ID: "t"}})
	}

	var prev uint64
	for q.Len() > 0 {
		e := heap.Pop(q).(*entry)
		if e.seq <= prev {
			t.Fatalf("sequence went backwards: %d after %d", e.seq, prev)
		}
		prev = e.seq
	}
}
