// Package queue holds the backlog of migration units awaiting submission.
package queue

import (
	"github.com/getpup/reindex-orchestrator"
)

// Queue is a FIFO backlog of work items. Order exists only for fairness: retried
// items go to the back so a failing unit never blocks the ones behind it.
//
// Queue is not safe for concurrent use; it is owned by the scheduling loop.
type Queue struct {
	items []orchestrator.WorkItem
	head  int
}

// New creates a queue holding items in order.
func New(items ...orchestrator.WorkItem) *Queue {
	q := &Queue{items: make([]orchestrator.WorkItem, 0, len(items))}
	for _, item := range items {
		q.Enqueue(item)
	}
	return q
}

// Enqueue appends item to the back of the queue.
func (q *Queue) Enqueue(item orchestrator.WorkItem) {
	q.items = append(q.items, item)
}

// TryDequeue removes and returns the front item. It reports false when the queue is empty.
func (q *Queue) TryDequeue() (orchestrator.WorkItem, bool) {
	if q.head >= len(q.items) {
		return orchestrator.WorkItem{}, false
	}

	item := q.items[q.head]
	q.items[q.head] = orchestrator.WorkItem{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 32 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0:0], q.items[q.head:]...)
		q.head = 0
	}

	return item, true
}

// Len returns the number of items waiting.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}
