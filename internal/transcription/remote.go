package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"finvoice-go/internal/config"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

type RemoteOptions struct {
	BaseURL    string
	Token      string
	Models     config.ModelMap
	WarmupWait time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Remote calls a hosted speech-to-text inference endpoint.
type Remote struct {
	baseURL    string
	token      string
	models     config.ModelMap
	warmupWait time.Duration
	timeout    time.Duration
	httpClient *http.Client
	log        *logger.Logger

	// sleep is swapped in tests to skip the warm-up wait.
	sleep func(ctx context.Context, d time.Duration) error
}

type inferenceResponse struct {
	Text          string  `json:"text"`
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

func NewRemote(opts RemoteOptions, log *logger.Logger) *Remote {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Models.Default == "" {
		opts.Models = config.DefaultModelMap()
	}
	return &Remote{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		models:     opts.Models,
		warmupWait: opts.WarmupWait,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		log:        log.Component("transcription.remote"),
		sleep:      sleepCtx,
	}
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Available() error {
	if r.token == "" {
		return &types.ConfigurationError{Setting: "HF_API_TOKEN", Err: types.ErrMissingCredentials}
	}
	if r.baseURL == "" {
		return &types.ConfigurationError{Setting: "HF_API_URL", Err: errors.New("not set")}
	}
	return nil
}

// Transcribe uploads the audio to the model for languageHint. A model that is
// still loading gets one retry after the warm-up wait.
func (r *Remote) Transcribe(ctx context.Context, audioPath, languageHint, _ string) (string, error) {
	if r.token == "" {
		return "", &types.TranscriptionError{Backend: r.Name(), Message: "HF_API_TOKEN not set", Err: types.ErrMissingCredentials}
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", &types.TranscriptionError{Backend: r.Name(), Message: "read audio", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	model := r.models.Resolve(languageHint)
	log := r.log.WithField("model", model).WithField("language", languageHint)

	text, err := r.infer(ctx, model, data)
	if errors.Is(err, types.ErrModelLoading) {
		log.WithField("wait", r.warmupWait.String()).Warn("model loading, retrying once after warm-up")
		if serr := r.sleep(ctx, r.warmupWait); serr != nil {
			return "", &types.TranscriptionError{Backend: r.Name(), Message: "interrupted during warm-up", Err: serr}
		}
		text, err = r.infer(ctx, model, data)
	}
	if err != nil {
		return "", &types.TranscriptionError{Backend: r.Name(), Message: "inference failed", Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &types.TranscriptionError{Backend: r.Name(), Err: types.ErrEmptyTranscript}
	}
	log.WithField("chars", len(text)).Debug("remote transcript received")
	return text, nil
}

// infer performs one logical request. Transport errors and 5xx responses are
// retried with backoff; loading and client errors are not.
func (r *Remote) infer(ctx context.Context, model string, audio []byte) (string, error) {
	endpoint := r.baseURL + "/models/" + model

	var text string
	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+r.token)
		req.Header.Set("Content-Type", "audio/wav")
		req.Header.Set("Accept", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		var parsed inferenceResponse
		_ = json.Unmarshal(body, &parsed)

		switch {
		case resp.StatusCode == http.StatusServiceUnavailable && isLoading(parsed, body):
			lastErr = fmt.Errorf("%w: %s", types.ErrModelLoading, model)
			return backoff.Permanent(lastErr)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			lastErr = fmt.Errorf("%w: status %d", types.ErrMissingCredentials, resp.StatusCode)
			return backoff.Permanent(lastErr)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(body))
			return lastErr
		case resp.StatusCode >= 300:
			lastErr = fmt.Errorf("request rejected %d: %s", resp.StatusCode, truncate(body))
			return backoff.Permanent(lastErr)
		}

		if parsed.Error != "" {
			lastErr = errors.New(parsed.Error)
			return backoff.Permanent(lastErr)
		}
		text = parsed.Text
		lastErr = nil
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.timeout
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr != nil {
			return "", lastErr
		}
		return "", err
	}
	return text, nil
}

func isLoading(parsed inferenceResponse, body []byte) bool {
	if parsed.EstimatedTime > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(parsed.Error+string(body)), "loading")
}

func truncate(body []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
