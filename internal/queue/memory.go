package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finvoice-go/internal/types"
)

type memTask struct {
	task        Task
	seq         uint64
	availableAt time.Time
	lockedUntil time.Time
}

// Memory is an in-process Queue. Tasks do not survive a restart.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]*memTask
	seq   uint64
	lease time.Duration
	wake  chan struct{}
	now   func() time.Time
}

func NewMemory(lease time.Duration) *Memory {
	if lease <= 0 {
		lease = 15 * time.Minute
	}
	return &Memory{
		tasks: map[string]*memTask{},
		lease: lease,
		wake:  make(chan struct{}),
		now:   time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, sub types.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("mem-%d", m.seq)
	m.tasks[id] = &memTask{
		task:        Task{ID: id, Submission: sub},
		seq:         m.seq,
		availableAt: m.now(),
	}
	m.broadcastLocked()
	return nil
}

func (m *Memory) Dequeue(ctx context.Context, kind types.Kind) (Task, error) {
	for {
		m.mu.Lock()
		now := m.now()
		var best *memTask
		var nextReady time.Time
		for _, t := range m.tasks {
			if t.task.Submission.Kind != kind {
				continue
			}
			ready := t.availableAt
			if t.lockedUntil.After(ready) {
				ready = t.lockedUntil
			}
			if ready.After(now) {
				if nextReady.IsZero() || ready.Before(nextReady) {
					nextReady = ready
				}
				continue
			}
			if best == nil || t.seq < best.seq {
				best = t
			}
		}
		if best != nil {
			best.lockedUntil = now.Add(m.lease)
			best.task.Deliveries++
			task := best.task
			m.mu.Unlock()
			return task, nil
		}
		wake := m.wake
		m.mu.Unlock()

		wait := time.Second
		if !nextReady.IsZero() {
			if d := nextReady.Sub(now); d < wait {
				wait = d
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Task{}, ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (m *Memory) Ack(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return fmt.Errorf("ack %s: %w", taskID, ErrUnknownTask)
	}
	delete(m.tasks, taskID)
	return nil
}

func (m *Memory) Nack(_ context.Context, taskID string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("nack %s: %w", taskID, ErrUnknownTask)
	}
	t.lockedUntil = time.Time{}
	t.availableAt = m.now().Add(delay)
	m.broadcastLocked()
	return nil
}

// Len reports queued and leased tasks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *Memory) broadcastLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}
