package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvoice-go/internal/pgtest"
	"finvoice-go/internal/types"
)

func sub(id string, kind types.Kind) types.Submission {
	return types.Submission{JobID: id, Kind: kind, SourcePath: "/in/" + id}
}

func dequeueWithin(t *testing.T, q Queue, kind types.Kind, d time.Duration) (Task, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Dequeue(ctx, kind)
}

func TestMemoryQueue(t *testing.T) {
	runQueueSuite(t, func(t *testing.T) Queue { return NewMemory(time.Minute) })
}

func TestPostgresQueue(t *testing.T) {
	pool := pgtest.Pool(t)
	pq := NewPostgres(pool, time.Minute)
	pq.pollInterval = 20 * time.Millisecond
	require.NoError(t, pq.Migrate(context.Background()))

	runQueueSuite(t, func(t *testing.T) Queue {
		_, err := pool.Exec(context.Background(), `TRUNCATE pipeline_tasks`)
		require.NoError(t, err)
		return pq
	})
}

func runQueueSuite(t *testing.T, newQueue func(t *testing.T) Queue) {
	ctx := context.Background()

	t.Run("fifo per kind", func(t *testing.T) {
		q := newQueue(t)
		require.NoError(t, q.Enqueue(ctx, sub("a1", types.KindAudio)))
		require.NoError(t, q.Enqueue(ctx, sub("d1", types.KindDocument)))
		require.NoError(t, q.Enqueue(ctx, sub("a2", types.KindAudio)))

		task, err := dequeueWithin(t, q, types.KindAudio, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "a1", task.Submission.JobID)
		assert.Equal(t, 1, task.Deliveries)

		task, err = dequeueWithin(t, q, types.KindDocument, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "d1", task.Submission.JobID)
		assert.Equal(t, types.KindDocument, task.Submission.Kind)

		task, err = dequeueWithin(t, q, types.KindAudio, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "a2", task.Submission.JobID)
	})

	t.Run("leased task is not handed out twice", func(t *testing.T) {
		q := newQueue(t)
		require.NoError(t, q.Enqueue(ctx, sub("only", types.KindAudio)))

		_, err := dequeueWithin(t, q, types.KindAudio, time.Second)
		require.NoError(t, err)

		_, err = dequeueWithin(t, q, types.KindAudio, 150*time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("nack redelivers", func(t *testing.T) {
		q := newQueue(t)
		require.NoError(t, q.Enqueue(ctx, sub("retry", types.KindAudio)))

		task, err := dequeueWithin(t, q, types.KindAudio, time.Second)
		require.NoError(t, err)
		require.NoError(t, q.Nack(ctx, task.ID, 0))

		again, err := dequeueWithin(t, q, types.KindAudio, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, task.ID, again.ID)
		assert.Equal(t, 2, again.Deliveries)

		require.NoError(t, q.Ack(ctx, again.ID))
		assert.ErrorIs(t, q.Ack(ctx, again.ID), ErrUnknownTask)
	})

	t.Run("concurrent consumers get distinct tasks", func(t *testing.T) {
		q := newQueue(t)
		const n = 10
		for i := 0; i < n; i++ {
			require.NoError(t, q.Enqueue(ctx, sub(string(rune('a'+i)), types.KindDocument)))
		}

		var mu sync.Mutex
		seen := map[string]int{}
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					task, err := dequeueWithin(t, q, types.KindDocument, 300*time.Millisecond)
					if err != nil {
						return
					}
					mu.Lock()
					seen[task.Submission.JobID]++
					mu.Unlock()
					_ = q.Ack(ctx, task.ID)
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, n)
		for id, count := range seen {
			assert.Equal(t, 1, count, id)
		}
	})
}

func TestMemoryDequeueWakesOnEnqueue(t *testing.T) {
	q := NewMemory(time.Minute)
	got := make(chan Task, 1)
	go func() {
		task, err := dequeueWithin(t, q, types.KindAudio, 5*time.Second)
		if err == nil {
			got <- task
		}
		close(got)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), sub("late", types.KindAudio)))

	select {
	case task := <-got:
		assert.Equal(t, "late", task.Submission.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestMemoryExpiredLeaseIsRedelivered(t *testing.T) {
	q := NewMemory(time.Minute)
	clock := time.Now()
	q.now = func() time.Time { return clock }

	require.NoError(t, q.Enqueue(context.Background(), sub("crashed", types.KindAudio)))
	first, err := dequeueWithin(t, q, types.KindAudio, time.Second)
	require.NoError(t, err)

	// the worker died without acking; the lease runs out
	clock = clock.Add(2 * time.Minute)

	second, err := dequeueWithin(t, q, types.KindAudio, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Deliveries)
}

func TestMemoryDequeueHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory(time.Minute).Dequeue(ctx, types.KindAudio)
	assert.ErrorIs(t, err, context.Canceled)
}
