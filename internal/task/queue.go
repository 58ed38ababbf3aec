package task

import "container/heap"

// taskHeap orders tasks by due time. Equal times fall back to insertion
// order via seq so dispatch stays stable.
type heapItem struct {
	task *Task
	seq  uint64
}

type taskHeap []heapItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].task.ScheduledAt.Equal(h[j].task.ScheduledAt) {
		return h[i].task.ScheduledAt.Before(h[j].task.ScheduledAt)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(heapItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = heapItem{}
	*h = old[:n-1]
	return item
}

// queue is the scheduler's pending-task store. Not goroutine safe; the
// scheduler guards it with its own mutex.
type queue struct {
	heap taskHeap
	ids  map[string]*Task
	seq  uint64
}

func newQueue() *queue {
	return &queue{ids: make(map[string]*Task)}
}

func (q *queue) len() int { return len(q.heap) }

func (q *queue) contains(id string) bool {
	_, ok := q.ids[id]
	return ok
}

func (q *queue) push(t *Task) {
	q.seq++
	heap.Push(&q.heap, heapItem{task: t, seq: q.seq})
	q.ids[t.ID] = t
}

// peek returns the earliest task without removing it.
func (q *queue) peek() (*Task, bool) {
	if len(q.heap) == 0 {
		return nil, false
	}
	return q.heap[0].task, true
}

func (q *queue) pop() (*Task, bool) {
	if len(q.heap) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(heapItem)
	delete(q.ids, item.task.ID)
	return item.task, true
}

// remove drops the task with the given id, wherever it sits in the heap.
func (q *queue) remove(id string) (*Task, bool) {
	t, ok := q.ids[id]
	if !ok {
		return nil, false
	}
	for i := range q.heap {
		if q.heap[i].task.ID == id {
			heap.Remove(&q.heap, i)
			delete(q.ids, id)
			return t, true
		}
	}
	return nil, false
}

// clear drops every pending task, or only one platform's when set.
func (q *queue) clear(platform string) int {
	if platform == "" {
		n := len(q.heap)
		q.heap = q.heap[:0]
		q.ids = make(map[string]*Task)
		return n
	}
	kept := q.heap[:0]
	removed := 0
	for _, item := range q.heap {
		if item.task.Platform == platform {
			delete(q.ids, item.task.ID)
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.heap = kept
	heap.Init(&q.heap)
	return removed
}

func (q *queue) snapshot() []*Task {
	out := make([]*Task, 0, len(q.heap))
	for _, item := range q.heap {
		out = append(out, item.task)
	}
	return out
}
