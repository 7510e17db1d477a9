// Package store persists jobs and their step checkpoints.
package store

import (
	"context"
	"encoding/json"
	"time"

	"finvoice-go/internal/types"
)

// Store is the document store for jobs. Jobs are never deleted.
type Store interface {
	// CreateJob inserts a PROCESSING job and returns its id.
	CreateJob(ctx context.Context, job types.NewJob) (string, error)
	// UpdateJob applies the non-nil fields of upd. A terminal job cannot move
	// to a different status.
	UpdateJob(ctx context.Context, id string, upd types.JobUpdate) error
	// GetJob returns nil, nil when the job does not exist.
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context, filter types.ListFilter) ([]types.Job, error)
	// ResetJob clears results and returns a job to PROCESSING for an explicit
	// reprocess.
	ResetJob(ctx context.Context, id string) error
}

// Checkpoint marks a completed pipeline step of one run.
type Checkpoint struct {
	JobID       string          `json:"job_id"`
	Step        string          `json:"step"`
	Output      json.RawMessage `json:"output,omitempty"`
	Artifacts   []string        `json:"artifacts,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Checkpoints lets an interrupted run resume after its last completed step.
type Checkpoints interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoints(ctx context.Context, jobID string) (map[string]Checkpoint, error)
	ClearCheckpoints(ctx context.Context, jobID string) error
}

// JobStore is what the pipeline needs from persistence.
type JobStore interface {
	Store
	Checkpoints
}

func applyUpdate(job *types.Job, upd types.JobUpdate, now time.Time) {
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Transcript != nil {
		job.Transcript = upd.Transcript
	}
	if upd.Extracted != nil {
		job.Extracted = upd.Extracted
	}
	if upd.EnhancedAudioRef != nil {
		job.EnhancedAudioRef = upd.EnhancedAudioRef
	}
	if upd.ProcessingError != nil {
		job.ProcessingError = upd.ProcessingError
	}
	if upd.ProcessedAt != nil {
		job.ProcessedAt = upd.ProcessedAt
	}
	job.UpdatedAt = now
}

// transitionAllowed enforces forward-only status.
func transitionAllowed(from types.JobStatus, to *types.JobStatus) bool {
	return to == nil || !from.Terminal() || *to == from
}
