package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"finvoice-go/internal/types"
)

// Memory is an in-process JobStore used for local runs and tests.
type Memory struct {
	mu          sync.RWMutex
	jobs        map[string]*types.Job
	checkpoints map[string]map[string]Checkpoint
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs:        map[string]*types.Job{},
		checkpoints: map[string]map[string]Checkpoint{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateJob(_ context.Context, nj types.NewJob) (string, error) {
	if !nj.Kind.Valid() {
		return "", &types.PersistenceError{JobID: nj.ID, Op: "create", Err: fmt.Errorf("invalid kind %q", nj.Kind)}
	}
	id := nj.ID
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; ok {
		return "", &types.PersistenceError{JobID: id, Op: "create", Err: types.ErrJobExists}
	}
	now := m.now()
	m.jobs[id] = &types.Job{
		ID:           id,
		Kind:         nj.Kind,
		Status:       types.StatusProcessing,
		SourcePath:   nj.SourcePath,
		LanguageHint: nj.LanguageHint,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return id, nil
}

func (m *Memory) UpdateJob(_ context.Context, id string, upd types.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return &types.PersistenceError{JobID: id, Op: "update", Err: types.ErrJobNotFound}
	}
	if !transitionAllowed(job.Status, upd.Status) {
		return &types.PersistenceError{JobID: id, Op: "update", Err: types.ErrTerminalJob}
	}
	applyUpdate(job, upd, m.now())
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) ListJobs(_ context.Context, f types.ListFilter) ([]types.Job, error) {
	m.mu.RLock()
	out := make([]types.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		if f.Kind != "" && job.Kind != f.Kind {
			continue
		}
		out = append(out, *job)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) ResetJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return &types.PersistenceError{JobID: id, Op: "reset", Err: types.ErrJobNotFound}
	}
	job.Status = types.StatusProcessing
	job.Transcript = nil
	job.Extracted = nil
	job.EnhancedAudioRef = nil
	job.ProcessingError = nil
	job.ProcessedAt = nil
	job.UpdatedAt = m.now()
	return nil
}

func (m *Memory) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[cp.JobID]; !ok {
		return &types.PersistenceError{JobID: cp.JobID, Op: "checkpoint", Err: types.ErrJobNotFound}
	}
	if cp.CompletedAt.IsZero() {
		cp.CompletedAt = m.now()
	}
	if m.checkpoints[cp.JobID] == nil {
		m.checkpoints[cp.JobID] = map[string]Checkpoint{}
	}
	m.checkpoints[cp.JobID][cp.Step] = cp
	return nil
}

func (m *Memory) LoadCheckpoints(_ context.Context, jobID string) (map[string]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Checkpoint, len(m.checkpoints[jobID]))
	for step, cp := range m.checkpoints[jobID] {
		out[step] = cp
	}
	return out, nil
}

func (m *Memory) ClearCheckpoints(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, jobID)
	return nil
}
