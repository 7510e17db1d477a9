package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"finvoice-go/internal/store"
	"finvoice-go/internal/types"
)

// Step names double as checkpoint keys.
type Step string

const (
	StepConvert    Step = "convert"
	StepDenoise    Step = "denoise"
	StepTranscribe Step = "transcribe"
	StepRead       Step = "read"
	StepExtract    Step = "extract"
	StepPersist    Step = "persist"
)

// runStep enters state, then either restores the step from its checkpoint or
// runs fn with retries and checkpoints the result. A checkpoint whose files
// are gone is ignored and the step runs again. fn returns the step output
// and the files it created.
func runStep[T any](ctx context.Context, r *run, step Step, state State, fn func(ctx context.Context) (T, []string, error)) (T, error) {
	var zero T
	if err := r.transition(state); err != nil {
		return zero, err
	}

	if cp, ok := r.checkpoints[string(step)]; ok && allExist(cp.Artifacts) {
		var out T
		if err := json.Unmarshal(cp.Output, &out); err == nil {
			r.artifacts.Add(cp.Artifacts...)
			r.log.WithField("step", step).Info("step restored from checkpoint")
			return out, nil
		}
	}

	started := time.Now()
	var out T
	var created []string
	err := r.retry(ctx, step, func() error {
		var err error
		out, created, err = fn(ctx)
		return err
	})
	if err != nil {
		return zero, err
	}
	r.artifacts.Add(created...)

	payload, err := json.Marshal(out)
	if err != nil {
		return zero, err
	}
	cp := store.Checkpoint{
		JobID:       r.job.ID,
		Step:        string(step),
		Output:      payload,
		Artifacts:   created,
		CompletedAt: time.Now().UTC(),
	}
	if err := r.o.deps.Store.SaveCheckpoint(ctx, cp); err != nil {
		// a lost marker only means the step is redone on resume
		r.log.WithError(err).WithField("step", step).Warn("could not save checkpoint")
	}

	r.log.WithField("step", step).WithField("duration_ms", time.Since(started).Milliseconds()).Info("step completed")
	return out, nil
}

// retry runs op up to StepAttempts times. Errors that cannot change on a
// second try stop it early.
func (r *run) retry(ctx context.Context, step Step, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt < r.o.opts.StepAttempts {
			r.log.WithError(err).WithField("step", step).WithField("attempt", attempt).Warn("step failed, retrying")
		}
		return err
	}
	b := backoff.WithMaxRetries(r.o.opts.NewBackOff(), uint64(r.o.opts.StepAttempts-1))
	return backoff.Retry(wrapped, backoff.WithContext(b, ctx))
}

func retryable(err error) bool {
	var cfgErr *types.ConfigurationError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, types.ErrEmptyTranscript),
		errors.Is(err, types.ErrMissingCredentials),
		errors.Is(err, types.ErrToolMissing),
		errors.Is(err, types.ErrJobNotFound),
		errors.Is(err, types.ErrTerminalJob),
		errors.Is(err, os.ErrNotExist):
		return false
	case errors.As(err, &cfgErr):
		return false
	}
	return true
}

func (r *run) audio(ctx context.Context) error {
	src := r.job.SourcePath

	canonical, err := runStep(ctx, r, StepConvert, StateConverting, func(ctx context.Context) (string, []string, error) {
		out, err := r.o.deps.Converter.Convert(ctx, src, r.workDir)
		if err != nil {
			return "", nil, err
		}
		if out == src {
			return out, nil, nil
		}
		return out, []string{out}, nil
	})
	if err != nil {
		return err
	}

	enhanced, err := runStep(ctx, r, StepDenoise, StateDenoising, func(ctx context.Context) (string, []string, error) {
		out := r.o.deps.Denoiser.Denoise(ctx, canonical, r.workDir)
		if out == canonical {
			return out, nil, nil
		}
		return out, []string{out}, nil
	})
	if err != nil {
		return err
	}
	if enhanced != canonical {
		r.enhanced = enhanced
	}

	transcript, err := runStep(ctx, r, StepTranscribe, StateTranscribing, func(ctx context.Context) (string, []string, error) {
		text, err := r.o.deps.Transcriber.Transcribe(ctx, enhanced, r.job.LanguageHint, r.workDir)
		if err != nil {
			return "", nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return "", nil, &types.TranscriptionError{Backend: "pipeline", Message: "no speech recognized", Err: types.ErrEmptyTranscript}
		}
		return text, nil, nil
	})
	if err != nil {
		return err
	}
	r.transcript = transcript

	return r.extract(ctx)
}

// document reads the submitted text file in place of transcription.
func (r *run) document(ctx context.Context) error {
	text, err := runStep(ctx, r, StepRead, StateTranscribing, func(ctx context.Context) (string, []string, error) {
		raw, err := os.ReadFile(r.job.SourcePath)
		if err != nil {
			return "", nil, &types.TranscriptionError{Backend: "document", Message: "cannot read source", Err: err}
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return "", nil, &types.TranscriptionError{Backend: "document", Message: "source is empty", Err: types.ErrEmptyTranscript}
		}
		return text, nil, nil
	})
	if err != nil {
		return err
	}
	r.transcript = text

	return r.extract(ctx)
}

func (r *run) extract(ctx context.Context) error {
	record, err := runStep(ctx, r, StepExtract, StateExtracting, func(ctx context.Context) (types.Record, []string, error) {
		rec, err := r.o.deps.Extractor.Extract(ctx, r.transcript)
		return rec, nil, err
	})
	if err != nil {
		return err
	}
	if record.Degraded() {
		r.log.WithField("summary", record.Summary).Warn("extraction degraded, persisting transcript only")
	}
	r.record = record
	return nil
}
