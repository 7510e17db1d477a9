package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"finvoice-go/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is a durable Queue on the pipeline_tasks table. Concurrent
// workers never receive the same task while its lease is valid.
type Postgres struct {
	pool         *pgxpool.Pool
	lease        time.Duration
	pollInterval time.Duration
}

func NewPostgres(pool *pgxpool.Pool, lease time.Duration) *Postgres {
	if lease <= 0 {
		lease = 15 * time.Minute
	}
	return &Postgres{pool: pool, lease: lease, pollInterval: time.Second}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate task queue: %w", err)
	}
	return nil
}

func (p *Postgres) Enqueue(ctx context.Context, sub types.Submission) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO pipeline_tasks (job_id, kind, source_path, language_hint) VALUES ($1, $2, $3, $4)`,
		sub.JobID, string(sub.Kind), sub.SourcePath, sub.LanguageHint)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", sub.JobID, err)
	}
	return nil
}

const claimSQL = `
UPDATE pipeline_tasks
SET locked_until = now() + make_interval(secs => $2), deliveries = deliveries + 1
WHERE id = (
    SELECT id FROM pipeline_tasks
    WHERE kind = $1
      AND available_at <= now()
      AND (locked_until IS NULL OR locked_until < now())
    ORDER BY available_at, id
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, job_id, kind, source_path, language_hint, deliveries`

func (p *Postgres) Dequeue(ctx context.Context, kind types.Kind) (Task, error) {
	for {
		task, err := p.claim(ctx, kind)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Task{}, fmt.Errorf("dequeue %s: %w", kind, err)
		}

		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Task{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Postgres) claim(ctx context.Context, kind types.Kind) (Task, error) {
	var (
		id       int64
		taskKind string
		task     Task
	)
	err := p.pool.QueryRow(ctx, claimSQL, string(kind), p.lease.Seconds()).Scan(
		&id, &task.Submission.JobID, &taskKind, &task.Submission.SourcePath,
		&task.Submission.LanguageHint, &task.Deliveries)
	if err != nil {
		return Task{}, err
	}
	task.ID = strconv.FormatInt(id, 10)
	task.Submission.Kind = types.Kind(taskKind)
	return task, nil
}

func (p *Postgres) Ack(ctx context.Context, taskID string) error {
	id, err := strconv.ParseInt(taskID, 10, 64)
	if err != nil {
		return fmt.Errorf("ack %s: %w", taskID, ErrUnknownTask)
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM pipeline_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ack %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ack %s: %w", taskID, ErrUnknownTask)
	}
	return nil
}

func (p *Postgres) Nack(ctx context.Context, taskID string, delay time.Duration) error {
	id, err := strconv.ParseInt(taskID, 10, 64)
	if err != nil {
		return fmt.Errorf("nack %s: %w", taskID, ErrUnknownTask)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE pipeline_tasks
		SET locked_until = NULL, available_at = now() + make_interval(secs => $2)
		WHERE id = $1`, id, delay.Seconds())
	if err != nil {
		return fmt.Errorf("nack %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("nack %s: %w", taskID, ErrUnknownTask)
	}
	return nil
}
