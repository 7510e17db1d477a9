// Package queue delivers job submissions to workers at least once. A
// dequeued task is leased; if it is neither acked nor nacked before the
// lease expires it becomes deliverable again.
package queue

import (
	"context"
	"errors"
	"time"

	"finvoice-go/internal/types"
)

var ErrUnknownTask = errors.New("unknown task")

type Task struct {
	ID         string
	Submission types.Submission
	// Deliveries counts how many times the task was handed out, this one included.
	Deliveries int
}

type Queue interface {
	Enqueue(ctx context.Context, sub types.Submission) error
	// Dequeue blocks until a task of kind is available or ctx is done.
	Dequeue(ctx context.Context, kind types.Kind) (Task, error)
	Ack(ctx context.Context, taskID string) error
	// Nack releases the lease; the task is redelivered after delay.
	Nack(ctx context.Context, taskID string, delay time.Duration) error
}
