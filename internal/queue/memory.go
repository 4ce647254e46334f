package queue

import (
	"context"
	"sync"
)

var _ IndexQueue = (*MemoryQueue)(nil)

// MemoryQueue is an in-process FIFO.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks []*IndexTask
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Publish(ctx context.Context, task *IndexTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
	return nil
}

func (q *MemoryQueue) Drain(ctx context.Context, max int) ([]*IndexTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tasks)
	if max > 0 && max < n {
		n = max
	}

	out := make([]*IndexTask, n)
	copy(out, q.tasks[:n])
	q.tasks = q.tasks[n:]

	return out, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks), nil
}
