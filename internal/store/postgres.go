package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"finvoice-go/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is a JobStore backed by PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, &types.ConfigurationError{Setting: "DATABASE_URL", Err: err}
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate job store: %w", err)
	}
	return nil
}

const jobColumns = `id, kind, status, source_path, language_hint, transcript, extracted,
	enhanced_audio_ref, processing_error, processed_at, created_at, updated_at`

func (p *Postgres) CreateJob(ctx context.Context, nj types.NewJob) (string, error) {
	if !nj.Kind.Valid() {
		return "", &types.PersistenceError{JobID: nj.ID, Op: "create", Err: fmt.Errorf("invalid kind %q", nj.Kind)}
	}
	id := nj.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO jobs (id, kind, status, source_path, language_hint) VALUES ($1, $2, $3, $4, $5)`,
		id, string(nj.Kind), string(types.StatusProcessing), nj.SourcePath, nj.LanguageHint)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", &types.PersistenceError{JobID: id, Op: "create", Err: types.ErrJobExists}
		}
		return "", &types.PersistenceError{JobID: id, Op: "create", Err: err}
	}
	return id, nil
}

func (p *Postgres) UpdateJob(ctx context.Context, id string, upd types.JobUpdate) error {
	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	var extracted []byte
	if upd.Extracted != nil {
		b, err := json.Marshal(upd.Extracted)
		if err != nil {
			return &types.PersistenceError{JobID: id, Op: "update", Err: err}
		}
		extracted = b
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET
			status             = COALESCE($2, status),
			transcript         = COALESCE($3, transcript),
			extracted          = COALESCE($4::jsonb, extracted),
			enhanced_audio_ref = COALESCE($5, enhanced_audio_ref),
			processing_error   = COALESCE($6, processing_error),
			processed_at       = COALESCE($7, processed_at),
			updated_at         = now()
		WHERE id = $1
		  AND ($2::text IS NULL OR status = 'PROCESSING' OR status = $2)`,
		id, status, upd.Transcript, extracted, upd.EnhancedAudioRef, upd.ProcessingError, upd.ProcessedAt)
	if err != nil {
		return &types.PersistenceError{JobID: id, Op: "update", Err: err}
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	job, err := p.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return &types.PersistenceError{JobID: id, Op: "update", Err: types.ErrJobNotFound}
	}
	return &types.PersistenceError{JobID: id, Op: "update", Err: types.ErrTerminalJob}
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*types.Job, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.PersistenceError{JobID: id, Op: "get", Err: err}
	}
	return job, nil
}

func (p *Postgres) ListJobs(ctx context.Context, f types.ListFilter) ([]types.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &types.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	jobs := []types.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &types.PersistenceError{Op: "list", Err: err}
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.PersistenceError{Op: "list", Err: err}
	}
	return jobs, nil
}

func (p *Postgres) ResetJob(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'PROCESSING', transcript = NULL, extracted = NULL,
			enhanced_audio_ref = NULL, processing_error = NULL, processed_at = NULL,
			updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return &types.PersistenceError{JobID: id, Op: "reset", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &types.PersistenceError{JobID: id, Op: "reset", Err: types.ErrJobNotFound}
	}
	return nil
}

func (p *Postgres) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	artifacts := cp.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	var output []byte
	if len(cp.Output) > 0 {
		output = cp.Output
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO job_checkpoints (job_id, step, output, artifacts, completed_at)
		VALUES ($1, $2, $3::jsonb, $4, now())
		ON CONFLICT (job_id, step) DO UPDATE
		SET output = EXCLUDED.output, artifacts = EXCLUDED.artifacts, completed_at = EXCLUDED.completed_at`,
		cp.JobID, cp.Step, output, artifacts)
	if err != nil {
		return &types.PersistenceError{JobID: cp.JobID, Op: "checkpoint", Err: err}
	}
	return nil
}

func (p *Postgres) LoadCheckpoints(ctx context.Context, jobID string) (map[string]Checkpoint, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT step, output, artifacts, completed_at FROM job_checkpoints WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, &types.PersistenceError{JobID: jobID, Op: "load checkpoints", Err: err}
	}
	defer rows.Close()

	out := map[string]Checkpoint{}
	for rows.Next() {
		cp := Checkpoint{JobID: jobID}
		var output []byte
		if err := rows.Scan(&cp.Step, &output, &cp.Artifacts, &cp.CompletedAt); err != nil {
			return nil, &types.PersistenceError{JobID: jobID, Op: "load checkpoints", Err: err}
		}
		if len(output) > 0 {
			cp.Output = json.RawMessage(output)
		}
		out[cp.Step] = cp
	}
	if err := rows.Err(); err != nil {
		return nil, &types.PersistenceError{JobID: jobID, Op: "load checkpoints", Err: err}
	}
	return out, nil
}

func (p *Postgres) ClearCheckpoints(ctx context.Context, jobID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM job_checkpoints WHERE job_id = $1`, jobID); err != nil {
		return &types.PersistenceError{JobID: jobID, Op: "clear checkpoints", Err: err}
	}
	return nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var (
		job       types.Job
		kind      string
		status    string
		extracted []byte
	)
	err := row.Scan(&job.ID, &kind, &status, &job.SourcePath, &job.LanguageHint, &job.Transcript,
		&extracted, &job.EnhancedAudioRef, &job.ProcessingError, &job.ProcessedAt,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Kind = types.Kind(kind)
	job.Status = types.JobStatus(status)
	if len(extracted) > 0 {
		var rec types.Record
		if err := json.Unmarshal(extracted, &rec); err != nil {
			return nil, fmt.Errorf("decode extracted record: %w", err)
		}
		job.Extracted = &rec
	}
	return &job, nil
}
