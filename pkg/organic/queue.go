// Package organic runs the isolated intake process for externally submitted
// jobs and supervises it from the scheduler.
package organic

import (
	"errors"
	"sync"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

var ErrQueueFull = errors.New("organic queue is full")

// Queue is a bounded FIFO of submitted job requests
type Queue struct {
	items    []models.JobRequest
	capacity int
	mu       sync.Mutex
}

// NewQueue creates a queue holding at most capacity requests
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{capacity: capacity}
}

// Add appends a request, failing when the queue is full
func (q *Queue) Add(req models.JobRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, req)
	return nil
}

// Drain removes and returns every queued request in arrival order
func (q *Queue) Drain() []models.JobRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued requests
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
