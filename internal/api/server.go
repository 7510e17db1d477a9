// Package api exposes job submission, status and insights over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"finvoice-go/internal/diagnostics"
	"finvoice-go/internal/insights"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/queue"
	"finvoice-go/internal/store"
	"finvoice-go/internal/types"
)

// Resetter prepares a finished job for another run.
type Resetter interface {
	Reset(ctx context.Context, jobID string) (*types.Job, error)
}

type Server struct {
	store    store.Store
	queue    queue.Queue
	resetter Resetter
	diagnose func(ctx context.Context) diagnostics.Report
	log      *logger.Logger
}

func NewServer(st store.Store, q queue.Queue, resetter Resetter, diagnose func(ctx context.Context) diagnostics.Report, log *logger.Logger) *Server {
	return &Server{store: st, queue: q, resetter: resetter, diagnose: diagnose, log: log.Component("api")}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /jobs", s.createJob)
	mux.HandleFunc("GET /jobs", s.listJobs)
	mux.HandleFunc("GET /jobs/{id}", s.getJob)
	mux.HandleFunc("POST /jobs/{id}/reprocess", s.reprocessJob)
	mux.HandleFunc("GET /insights", s.insights)
	mux.HandleFunc("GET /diagnostics", s.diagnostics)
	return s.logRequests(mux)
}

type createJobRequest struct {
	JobID        string     `json:"job_id,omitempty"`
	SourcePath   string     `json:"source_path"`
	Kind         types.Kind `json:"kind,omitempty"`
	LanguageHint string     `json:"language_hint,omitempty"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.SourcePath = strings.TrimSpace(req.SourcePath)
	if req.SourcePath == "" {
		writeError(w, http.StatusBadRequest, "source_path is required")
		return
	}
	if req.Kind == "" {
		req.Kind = types.KindAudio
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be audio or document")
		return
	}
	if !filepath.IsAbs(req.SourcePath) {
		writeError(w, http.StatusBadRequest, "source_path must be absolute")
		return
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		writeError(w, http.StatusBadRequest, "source_path is not readable")
		return
	}

	ctx := r.Context()
	id, err := s.store.CreateJob(ctx, types.NewJob{
		ID:           req.JobID,
		Kind:         req.Kind,
		SourcePath:   req.SourcePath,
		LanguageHint: strings.ToLower(req.LanguageHint),
	})
	if errors.Is(err, types.ErrJobExists) {
		writeError(w, http.StatusConflict, "job already exists")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("create job failed")
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	sub := types.Submission{JobID: id, Kind: req.Kind, SourcePath: req.SourcePath, LanguageHint: strings.ToLower(req.LanguageHint)}
	if err := s.queue.Enqueue(ctx, sub); err != nil {
		s.log.WithJob(id).WithError(err).Error("enqueue failed")
		msg := "could not enqueue job: " + err.Error()
		now := time.Now().UTC()
		_ = s.store.UpdateJob(context.WithoutCancel(ctx), id, types.JobUpdate{
			Status:          types.Ptr(types.StatusFailed),
			ProcessingError: &msg,
			ProcessedAt:     &now,
		})
		writeError(w, http.StatusServiceUnavailable, "could not enqueue job")
		return
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil || job == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(types.StatusProcessing)})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.log.WithError(err).Error("get job failed")
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.ListFilter{
		Status: types.JobStatus(strings.ToUpper(q.Get("status"))),
		Kind:   types.Kind(strings.ToLower(q.Get("kind"))),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("list jobs failed")
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	if jobs == nil {
		jobs = []types.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) reprocessJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.resetter.Reset(ctx, r.PathValue("id"))
	if errors.Is(err, types.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("reset job failed")
		writeError(w, http.StatusInternalServerError, "could not reset job")
		return
	}

	sub := types.Submission{JobID: job.ID, Kind: job.Kind, SourcePath: job.SourcePath, LanguageHint: job.LanguageHint}
	if err := s.queue.Enqueue(ctx, sub); err != nil {
		s.log.WithJob(job.ID).WithError(err).Error("enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "could not enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type insightsResponse struct {
	Summary insights.Summary    `json:"summary"`
	Action  insights.ActionCard `json:"action"`
}

func (s *Server) insights(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context(), types.ListFilter{})
	if err != nil {
		s.log.WithError(err).Error("list jobs failed")
		writeError(w, http.StatusInternalServerError, "could not load jobs")
		return
	}
	summary := insights.Aggregate(jobs)
	writeJSON(w, http.StatusOK, insightsResponse{Summary: summary, Action: insights.Recommend(summary)})
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diagnose == nil {
		writeError(w, http.StatusNotImplemented, "diagnostics unavailable")
		return
	}
	report := s.diagnose(r.Context())
	status := http.StatusOK
	if report.HasFailures {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithRequest(r).
			WithField("status", rec.status).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
