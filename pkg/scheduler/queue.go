package scheduler

import "container/heap"

// queuedRun is a triggered run waiting for a tenant slot
type queuedRun struct {
	run *Run
	job *Job
	// priority at enqueue time; higher runs first
	priority int
	// seq breaks priority ties first-come-first-served
	seq int64
	// index is maintained by the heap
	index int
}

// runQueue is a max-heap over priority, FIFO within a priority level
type runQueue []*queuedRun

func (q runQueue) Len() int { return len(q) }

func (q runQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q runQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *runQueue) Push(x interface{}) {
	item := x.(*queuedRun)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *runQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// reprioritize adjusts a queued run's priority in place. Running jobs are
// never preempted; only queue order changes.
func (q *runQueue) reprioritize(jobID string, priority int) {
	for _, item := range *q {
		if item.job.ID == jobID {
			item.priority = priority
			heap.Fix(q, item.index)
		}
	}
}
