package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvoice-go/internal/diagnostics"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/queue"
	"finvoice-go/internal/store"
	"finvoice-go/internal/types"
)

// storeResetter resets through the store directly.
type storeResetter struct{ st store.Store }

func (s storeResetter) Reset(ctx context.Context, id string) (*types.Job, error) {
	if err := s.st.ResetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.st.GetJob(ctx, id)
}

type failingQueue struct{ queue.Queue }

func (failingQueue) Enqueue(context.Context, types.Submission) error {
	return errors.New("queue down")
}

type fixture struct {
	store  *store.Memory
	queue  *queue.Memory
	server *httptest.Server
	source string
}

func newFixture(t *testing.T, q queue.Queue) *fixture {
	t.Helper()
	st := store.NewMemory()
	mem := queue.NewMemory(time.Minute)
	if q == nil {
		q = mem
	}
	diagnose := func(context.Context) diagnostics.Report {
		return diagnostics.Report{HasFailures: true, Items: []diagnostics.Item{{ID: "tool_ffmpeg", Status: diagnostics.StatusFail}}}
	}
	srv := httptest.NewServer(NewServer(st, q, storeResetter{st}, diagnose, logger.Discard()).Handler())
	t.Cleanup(srv.Close)

	source := filepath.Join(t.TempDir(), "call.mp3")
	require.NoError(t, os.WriteFile(source, []byte("mp3"), 0o644))
	return &fixture{store: st, queue: mem, server: srv, source: source}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&rd).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func TestCreateJobEnqueues(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/jobs", map[string]string{
		"source_path": f.source, "language_hint": "EN",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var job types.Job
	require.NoError(t, json.Unmarshal(body, &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, types.StatusProcessing, job.Status)
	assert.Equal(t, types.KindAudio, job.Kind)
	assert.Equal(t, "en", job.LanguageHint)
	assert.Equal(t, 1, f.queue.Len())

	resp, body = f.do(t, http.MethodGet, "/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), job.ID)
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing source", map[string]string{}, http.StatusBadRequest},
		{"relative source", map[string]string{"source_path": "call.mp3"}, http.StatusBadRequest},
		{"missing file", map[string]string{"source_path": filepath.Join(t.TempDir(), "nope.mp3")}, http.StatusBadRequest},
		{"bad kind", map[string]string{"source_path": f.source, "kind": "video"}, http.StatusBadRequest},
		{"not json", "nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Zero(t, f.queue.Len())
}

func TestCreateJobDuplicateID(t *testing.T) {
	f := newFixture(t, nil)
	body := map[string]string{"job_id": "call-1", "source_path": f.source}

	resp, _ := f.do(t, http.MethodPost, "/jobs", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/jobs", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateJobEnqueueFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t, failingQueue{})

	resp, _ := f.do(t, http.MethodPost, "/jobs", map[string]string{"job_id": "call-2", "source_path": f.source})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	job, err := f.store.GetJob(context.Background(), "call-2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, job.Status)
	require.NotNil(t, job.ProcessingError)
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodGet, "/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := f.store.CreateJob(ctx, types.NewJob{ID: id, Kind: types.KindAudio, SourcePath: f.source})
		require.NoError(t, err)
	}
	require.NoError(t, f.store.UpdateJob(ctx, "b", types.JobUpdate{Status: types.Ptr(types.StatusFailed)}))

	resp, body := f.do(t, http.MethodGet, "/jobs?status=failed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []types.Job
	require.NoError(t, json.Unmarshal(body, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].ID)

	resp, _ = f.do(t, http.MethodGet, "/jobs?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReprocess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.CreateJob(ctx, types.NewJob{ID: "r-1", Kind: types.KindAudio, SourcePath: f.source})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateJob(ctx, "r-1", types.JobUpdate{
		Status: types.Ptr(types.StatusFailed), ProcessingError: types.Ptr("boom"),
	}))

	resp, body := f.do(t, http.MethodPost, "/jobs/r-1/reprocess", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	job, err := f.store.GetJob(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, job.Status)
	assert.Nil(t, job.ProcessingError)
	assert.Equal(t, 1, f.queue.Len())

	resp, _ = f.do(t, http.MethodPost, "/jobs/missing/reprocess", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInsights(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.CreateJob(ctx, types.NewJob{ID: "i-1", Kind: types.KindAudio, SourcePath: f.source})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateJob(ctx, "i-1", types.JobUpdate{
		Status:    types.Ptr(types.StatusCompleted),
		Extracted: &types.Record{Summary: "ok", Sentiment: types.SentimentNegative, Topics: []string{"fees"}},
	}))

	resp, body := f.do(t, http.MethodGet, "/insights", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out insightsResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Summary.TotalJobs)
	assert.Equal(t, 1.0, out.Summary.NegativeRate)
	assert.Contains(t, out.Action.Insight, "High negative sentiment")
}

func TestHealthAndDiagnostics(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, body = f.do(t, http.MethodGet, "/diagnostics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "tool_ffmpeg")
}
