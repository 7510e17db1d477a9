package app

import (
	"context"
	"errors"
	"time"

	"finvoice-go/internal/types"
)

// Submit creates the job and queues it. A job that cannot be queued is
// marked FAILED so it does not sit in PROCESSING forever.
func (a *App) Submit(ctx context.Context, sub types.Submission) (string, error) {
	id, err := a.Store.CreateJob(ctx, types.NewJob{
		ID:           sub.JobID,
		Kind:         sub.Kind,
		SourcePath:   sub.SourcePath,
		LanguageHint: sub.LanguageHint,
	})
	if err != nil {
		return "", err
	}
	sub.JobID = id
	if err := a.Queue.Enqueue(ctx, sub); err != nil {
		msg := "could not enqueue job: " + err.Error()
		now := time.Now().UTC()
		_ = a.Store.UpdateJob(context.WithoutCancel(ctx), id, types.JobUpdate{
			Status:          types.Ptr(types.StatusFailed),
			ProcessingError: &msg,
			ProcessedAt:     &now,
		})
		return id, err
	}
	return id, nil
}

// Wait polls until every job in ids is COMPLETED or FAILED.
func (a *App) Wait(ctx context.Context, ids []string, every time.Duration) ([]types.Job, error) {
	pending := append([]string(nil), ids...)
	done := make(map[string]types.Job, len(ids))
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		var still []string
		for _, id := range pending {
			job, err := a.Store.GetJob(ctx, id)
			if err != nil {
				return nil, err
			}
			if job == nil {
				return nil, &types.PersistenceError{JobID: id, Op: "get", Err: types.ErrJobNotFound}
			}
			if job.Status.Terminal() {
				done[id] = *job
				continue
			}
			still = append(still, id)
		}
		pending = still
		if len(pending) == 0 {
			out := make([]types.Job, 0, len(ids))
			for _, id := range ids {
				out = append(out, done[id])
			}
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), errors.New("jobs still processing"))
		case <-ticker.C:
		}
	}
}
