// Package pipeline runs a job through its step chain:
// Convert, Denoise, Transcribe, Extract, Persist, Cleanup for audio and
// Read, Extract, Persist, Cleanup for documents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"finvoice-go/internal/extractor"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/store"
	"finvoice-go/internal/transcription"
	"finvoice-go/internal/types"
)

type Converter interface {
	Convert(ctx context.Context, inputPath, outDir string) (string, error)
}

// Denoiser never fails; it returns its input when it cannot improve it.
type Denoiser interface {
	Denoise(ctx context.Context, canonicalPath, outDir string) string
}

type Deps struct {
	Store       store.JobStore
	Converter   Converter
	Denoiser    Denoiser
	Transcriber transcription.Transcriber
	Extractor   extractor.Extractor
}

type Options struct {
	// WorkDir holds one sub-directory per job for intermediate files.
	WorkDir string
	// StepAttempts bounds tries per step, the first one included.
	StepAttempts int
	NewBackOff   func() backoff.BackOff
	// OnTransition, when set, observes every state change of a run.
	OnTransition func(jobID string, from, to State)
}

type Orchestrator struct {
	deps  Deps
	opts  Options
	locks *keyedMutex
	log   *logger.Logger
}

func New(deps Deps, opts Options, log *logger.Logger) *Orchestrator {
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "finvoice")
	}
	if opts.StepAttempts < 1 {
		opts.StepAttempts = 1
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			return b
		}
	}
	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		locks: newKeyedMutex(),
		log:   log.Component("pipeline"),
	}
}

// Run processes the submission's job to a terminal status. The job is
// created when the store does not know it yet. A job that is already
// COMPLETED or FAILED is returned as is.
//
// When ctx is canceled mid-run the job stays PROCESSING with its checkpoints
// and files in place, so a redelivery resumes where this run stopped.
func (o *Orchestrator) Run(ctx context.Context, sub types.Submission) (types.Job, error) {
	if sub.JobID == "" {
		return types.Job{}, errors.New("submission has no job id")
	}
	unlock := o.locks.Lock(sub.JobID)
	defer unlock()

	job, err := o.loadOrCreate(ctx, sub)
	if err != nil {
		return types.Job{}, err
	}
	if job.Status.Terminal() {
		o.log.WithJob(job.ID).WithField("status", job.Status).Info("job already finished, skipping")
		return *job, nil
	}
	return o.execute(ctx, job)
}

// Reset discards the previous outcome of a job so it can run again.
func (o *Orchestrator) Reset(ctx context.Context, jobID string) (*types.Job, error) {
	unlock := o.locks.Lock(jobID)
	defer unlock()
	return o.reset(ctx, jobID)
}

// Reprocess resets a job and runs it again in the caller's goroutine.
func (o *Orchestrator) Reprocess(ctx context.Context, jobID string) (types.Job, error) {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.reset(ctx, jobID)
	if err != nil {
		return types.Job{}, err
	}
	return o.execute(ctx, job)
}

func (o *Orchestrator) reset(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &types.PersistenceError{JobID: jobID, Op: "reset", Err: types.ErrJobNotFound}
	}
	if err := o.deps.Store.ClearCheckpoints(ctx, jobID); err != nil {
		return nil, err
	}
	if err := o.deps.Store.ResetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return o.deps.Store.GetJob(ctx, jobID)
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, sub types.Submission) (*types.Job, error) {
	job, err := o.deps.Store.GetJob(ctx, sub.JobID)
	if err != nil || job != nil {
		return job, err
	}

	_, err = o.deps.Store.CreateJob(ctx, types.NewJob{
		ID:           sub.JobID,
		Kind:         sub.Kind,
		SourcePath:   sub.SourcePath,
		LanguageHint: sub.LanguageHint,
	})
	if err != nil && !errors.Is(err, types.ErrJobExists) {
		return nil, err
	}
	job, err = o.deps.Store.GetJob(ctx, sub.JobID)
	if err == nil && job == nil {
		err = &types.PersistenceError{JobID: sub.JobID, Op: "get", Err: types.ErrJobNotFound}
	}
	return job, err
}

// run is the state of one execution of one job.
type run struct {
	o           *Orchestrator
	job         *types.Job
	log         *logger.Logger
	workDir     string
	state       State
	checkpoints map[string]store.Checkpoint
	artifacts   Artifacts

	transcript string
	record     types.Record
	enhanced   string
}

func (o *Orchestrator) execute(ctx context.Context, job *types.Job) (types.Job, error) {
	start := time.Now()
	r := &run{
		o:       o,
		job:     job,
		log:     o.log.WithJob(job.ID),
		workDir: filepath.Join(o.opts.WorkDir, job.ID),
		state:   StateCreated,
	}
	r.log.WithField("kind", job.Kind).WithField("source", job.SourcePath).Info("pipeline started")

	cps, err := o.deps.Store.LoadCheckpoints(ctx, job.ID)
	if err != nil {
		return r.fail(ctx, err, start)
	}
	r.checkpoints = cps

	switch job.Kind {
	case types.KindDocument:
		err = r.document(ctx)
	case types.KindAudio:
		err = r.audio(ctx)
	default:
		err = fmt.Errorf("unsupported job kind %q", job.Kind)
	}
	if err != nil {
		return r.fail(ctx, err, start)
	}
	return r.finish(ctx, start)
}

func (r *run) transition(to State) error {
	if !CanTransition(r.state, to) {
		return &transitionError{from: r.state, to: to}
	}
	from := r.state
	r.state = to
	r.log.WithField("from", from).WithField("to", to).Debug("state changed")
	if r.o.opts.OnTransition != nil {
		r.o.opts.OnTransition(r.job.ID, from, to)
	}
	return nil
}

// finish persists the outcome in one write, then cleans up.
func (r *run) finish(ctx context.Context, start time.Time) (types.Job, error) {
	if err := r.transition(StatePersisting); err != nil {
		return r.fail(ctx, err, start)
	}

	now := time.Now().UTC()
	upd := types.JobUpdate{
		Status:      types.Ptr(types.StatusCompleted),
		Transcript:  types.Ptr(r.transcript),
		Extracted:   types.Ptr(r.record),
		ProcessedAt: &now,
	}
	if r.enhanced != "" {
		upd.EnhancedAudioRef = types.Ptr(r.enhanced)
	}
	err := r.retry(ctx, StepPersist, func() error {
		return r.o.deps.Store.UpdateJob(ctx, r.job.ID, upd)
	})
	if err != nil {
		return r.fail(ctx, err, start)
	}
	if r.enhanced != "" {
		r.artifacts.Promote(r.enhanced)
	}

	if err := r.transition(StateCleanup); err != nil {
		return r.fail(ctx, err, start)
	}
	r.cleanup(ctx)
	_ = r.transition(StateCompleted)

	job, err := r.o.deps.Store.GetJob(ctx, r.job.ID)
	if err != nil || job == nil {
		// the outcome is stored; only the read-back failed
		r.job.Status = types.StatusCompleted
		r.job.Transcript = upd.Transcript
		r.job.Extracted = upd.Extracted
		r.job.EnhancedAudioRef = upd.EnhancedAudioRef
		r.job.ProcessedAt = upd.ProcessedAt
		job = r.job
	}

	r.log.WithFields(logrus.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
		"degraded":    r.record.Degraded(),
	}).Info("pipeline completed")
	return *job, nil
}

// fail records cause on the job and removes every file the run created
// that was not promoted. A canceled ctx leaves the job for redelivery.
func (r *run) fail(ctx context.Context, cause error, start time.Time) (types.Job, error) {
	if ctx.Err() != nil {
		r.log.WithError(cause).WithField("state", r.state).Warn("pipeline interrupted, job left for redelivery")
		return *r.job, cause
	}

	failedAt := r.state
	_ = r.transition(StateFailed)

	msg := cause.Error()
	now := time.Now().UTC()
	upd := types.JobUpdate{
		Status:          types.Ptr(types.StatusFailed),
		ProcessingError: &msg,
		ProcessedAt:     &now,
	}
	if err := r.o.deps.Store.UpdateJob(ctx, r.job.ID, upd); err != nil {
		r.log.WithError(err).Warn("could not mark job failed, retrying once")
		if err := r.o.deps.Store.UpdateJob(ctx, r.job.ID, upd); err != nil {
			r.log.WithError(err).WithField("cause", msg).Error("job left PROCESSING, needs reconciliation")
		}
	}
	r.cleanup(ctx)

	r.job.Status = types.StatusFailed
	r.job.ProcessingError = &msg
	r.job.ProcessedAt = &now

	r.log.WithError(cause).WithFields(logrus.Fields{
		"state":       failedAt,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Error("pipeline failed")
	return *r.job, cause
}

func (r *run) cleanup(ctx context.Context) {
	r.artifacts.RemoveTransient(r.log)
	if err := r.o.deps.Store.ClearCheckpoints(ctx, r.job.ID); err != nil {
		r.log.WithError(err).Warn("could not clear checkpoints")
	}
	// only succeeds when nothing was retained
	_ = os.Remove(r.workDir)
}
