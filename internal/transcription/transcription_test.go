package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvoice-go/internal/audio"
	"finvoice-go/internal/config"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.wav")
	require.NoError(t, audio.WritePCM(path, audio.CanonicalSampleRate, audio.CanonicalChannels, make([]int16, 160)))
	return path
}

func newTestRemote(url, token string) *Remote {
	r := NewRemote(RemoteOptions{
		BaseURL:    url,
		Token:      token,
		Models:     config.DefaultModelMap(),
		WarmupWait: 20 * time.Second,
		Timeout:    5 * time.Second,
	}, logger.Discard())
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRemoteTranscribe(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = len(b)
		w.Write([]byte(`{"text":"  I want to pay my EMI of 5000 rupees  "}`))
	}))
	defer srv.Close()

	text, err := newTestRemote(srv.URL, "hf_test").Transcribe(context.Background(), writeAudio(t), "en-US", "")
	require.NoError(t, err)

	assert.Equal(t, "I want to pay my EMI of 5000 rupees", text)
	assert.Equal(t, "/models/distil-whisper/distil-large-v3", gotPath)
	assert.Equal(t, "Bearer hf_test", gotAuth)
	assert.Positive(t, gotBody)
}

func TestRemoteRetriesOnceWhileModelLoads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"Model openai/whisper-large-v3 is currently loading","estimated_time":20.0}`))
			return
		}
		w.Write([]byte(`{"text":"hello"}`))
	}))
	defer srv.Close()

	r := newTestRemote(srv.URL, "hf_test")
	var waited time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	text, err := r.Transcribe(context.Background(), writeAudio(t), "", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 20*time.Second, waited)
}

func TestRemoteStillLoadingAfterRetryFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer srv.Close()

	_, err := newTestRemote(srv.URL, "hf_test").Transcribe(context.Background(), writeAudio(t), "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrModelLoading)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemoteErrors(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		status  int
		body    string
		wantErr error
	}{
		{name: "missing token", token: "", status: http.StatusOK, body: `{"text":"x"}`, wantErr: types.ErrMissingCredentials},
		{name: "unauthorized", token: "bad", status: http.StatusUnauthorized, body: `{"error":"invalid token"}`, wantErr: types.ErrMissingCredentials},
		{name: "blank transcript", token: "hf", status: http.StatusOK, body: `{"text":"   \n "}`, wantErr: types.ErrEmptyTranscript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			text, err := newTestRemote(srv.URL, tt.token).Transcribe(context.Background(), writeAudio(t), "en", "")
			assert.Empty(t, text)

			var trErr *types.TranscriptionError
			require.True(t, errors.As(err, &trErr))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

type fakeRunner struct {
	args []string
	run  func(args []string) (audio.CommandResult, error)
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (audio.CommandResult, error) {
	f.args = args
	return f.run(args)
}

func outputBase(args []string) string {
	for i, a := range args {
		if a == "-of" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func newTestLocal(t *testing.T, runner audio.Runner) *Local {
	t.Helper()
	model := filepath.Join(t.TempDir(), "ggml-base.en.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o644))
	l := NewLocal(LocalOptions{WhisperPath: "whisper-cli", ModelPath: model, Runner: runner}, logger.Discard())
	l.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	return l
}

func TestLocalTranscribe(t *testing.T) {
	audioPath := writeAudio(t)
	outDir := filepath.Join(t.TempDir(), "job-1")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	stale := filepath.Join(outDir, "call.transcript.txt")
	require.NoError(t, os.WriteFile(stale, []byte("stale output from an older run"), 0o644))

	runner := &fakeRunner{run: func(args []string) (audio.CommandResult, error) {
		base := outputBase(args)
		if _, err := os.Stat(base + ".txt"); err == nil {
			return audio.CommandResult{}, errors.New("stale transcript was not removed")
		}
		return audio.CommandResult{}, os.WriteFile(base+".txt", []byte(" Your loan is due on 5 March. \n"), 0o644)
	}}
	l := newTestLocal(t, runner)

	text, err := l.Transcribe(context.Background(), audioPath, "en-IN", outDir)
	require.NoError(t, err)
	assert.Equal(t, "Your loan is due on 5 March.", text)
	assert.Contains(t, strings.Join(runner.args, " "), "-l en")
	assert.Equal(t, filepath.Join(outDir, "call.transcript"), outputBase(runner.args))

	_, err = os.Stat(stale)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalToolFailure(t *testing.T) {
	runner := &fakeRunner{run: func(args []string) (audio.CommandResult, error) {
		return audio.CommandResult{Stderr: "failed to load model\n", ExitCode: 2}, errors.New("exit status 2")
	}}

	_, err := newTestLocal(t, runner).Transcribe(context.Background(), writeAudio(t), "", "")
	var trErr *types.TranscriptionError
	require.True(t, errors.As(err, &trErr))
	assert.Contains(t, err.Error(), "failed to load model")
	assert.NotContains(t, runner.args, "-l")
}

func TestLocalSilenceIsEmptyTranscript(t *testing.T) {
	runner := &fakeRunner{run: func(args []string) (audio.CommandResult, error) {
		return audio.CommandResult{}, os.WriteFile(outputBase(args)+".txt", []byte("\n\n"), 0o644)
	}}

	_, err := newTestLocal(t, runner).Transcribe(context.Background(), writeAudio(t), "", "")
	assert.ErrorIs(t, err, types.ErrEmptyTranscript)
}

func TestLocalAvailable(t *testing.T) {
	l := newTestLocal(t, &fakeRunner{})
	assert.NoError(t, l.Available())

	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	assert.ErrorIs(t, l.Available(), types.ErrToolMissing)
}

func TestResolveModelPathDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-small.bin"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-base.bin"), nil, 0o644))

	got, err := resolveModelPath(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ggml-base.bin"), got)

	_, err = resolveModelPath(t.TempDir())
	assert.Error(t, err)
}

type stubBackend struct {
	name     string
	availErr error
	text     string
	err      error
	calls    int
}

func (s *stubBackend) Name() string     { return s.name }
func (s *stubBackend) Available() error { return s.availErr }
func (s *stubBackend) Transcribe(context.Context, string, string, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestChainFallback(t *testing.T) {
	remote := &stubBackend{name: "remote", err: &types.TranscriptionError{Backend: "remote", Message: "boom"}}
	local := &stubBackend{name: "local", text: "from local"}

	text, err := NewChain(logger.Discard(), remote, local).Transcribe(context.Background(), "a.wav", "en", "")
	require.NoError(t, err)
	assert.Equal(t, "from local", text)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, 1, local.calls)
}

func TestChainSkipsUnavailableBackends(t *testing.T) {
	remote := &stubBackend{name: "remote", availErr: &types.ConfigurationError{Setting: "HF_API_TOKEN", Err: types.ErrMissingCredentials}}
	local := &stubBackend{name: "local", err: &types.TranscriptionError{Backend: "local", Message: "whisper exited 139"}}

	_, err := NewChain(logger.Discard(), remote, local).Transcribe(context.Background(), "a.wav", "", "")
	require.Error(t, err)
	assert.Zero(t, remote.calls)
	assert.Equal(t, 1, local.calls)
	assert.Contains(t, err.Error(), "skipped unavailable: remote")
	assert.Contains(t, err.Error(), "whisper exited 139")

	// a skipped backend must not make the invoked one's failure look permanent
	assert.NotErrorIs(t, err, types.ErrMissingCredentials)
	var cfgErr *types.ConfigurationError
	assert.False(t, errors.As(err, &cfgErr))

	var trErr *types.TranscriptionError
	assert.True(t, errors.As(err, &trErr))
}

func TestChainWithNoUsableBackend(t *testing.T) {
	remote := &stubBackend{name: "remote", availErr: &types.ConfigurationError{Setting: "HF_API_TOKEN", Err: types.ErrMissingCredentials}}
	local := &stubBackend{name: "local", availErr: &types.ConfigurationError{Setting: "WHISPER_PATH", Err: types.ErrToolMissing}}

	_, err := NewChain(logger.Discard(), remote, local).Transcribe(context.Background(), "a.wav", "", "")
	assert.ErrorIs(t, err, types.ErrMissingCredentials)
	assert.ErrorIs(t, err, types.ErrToolMissing)
	assert.Zero(t, remote.calls+local.calls)
}

func TestLocalWithoutOutDirUsesScratch(t *testing.T) {
	audioPath := writeAudio(t)
	var base string
	runner := &fakeRunner{run: func(args []string) (audio.CommandResult, error) {
		base = outputBase(args)
		return audio.CommandResult{}, os.WriteFile(base+".txt", []byte("hello"), 0o644)
	}}

	text, err := newTestLocal(t, runner).Transcribe(context.Background(), audioPath, "", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.NotEqual(t, filepath.Dir(audioPath), filepath.Dir(base))
	assert.NoDirExists(t, filepath.Dir(base))
}

type hangingRunner struct{}

func (hangingRunner) Run(ctx context.Context, _ string, _ ...string) (audio.CommandResult, error) {
	<-ctx.Done()
	return audio.CommandResult{ExitCode: -1}, ctx.Err()
}

func TestLocalTimeout(t *testing.T) {
	l := newTestLocal(t, hangingRunner{})
	l.timeout = 20 * time.Millisecond

	_, err := l.Transcribe(context.Background(), writeAudio(t), "", t.TempDir())
	var trErr *types.TranscriptionError
	require.True(t, errors.As(err, &trErr))
	assert.ErrorIs(t, err, types.ErrToolTimeout)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}
