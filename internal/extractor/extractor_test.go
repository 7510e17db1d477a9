package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"finvoice-go/internal/config"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

type stubCompleter struct {
	got  CompletionRequest
	resp string
	err  error
}

func (s *stubCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.got = req
	return s.resp, s.err
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, rec types.Record)
	}{
		{
			name: "bare string where a list is expected",
			raw:  `{"summary":"ok","sentiment":"Positive","topics":"Loan repayment","speakers":["Agent","Customer"]}`,
			check: func(t *testing.T, rec types.Record) {
				assert.Equal(t, []string{"Loan repayment"}, rec.Topics)
				assert.Equal(t, types.SentimentPositive, rec.Sentiment)
			},
		},
		{
			name: "array of objects",
			raw:  `{"summary":"ok","financial_events":[{"event":"payment promised","amount":"5000","date":"2025-03-05"}]}`,
			check: func(t *testing.T, rec types.Record) {
				assert.Equal(t, []string{"payment promised - 5000 - 2025-03-05"}, rec.FinancialEvents)
			},
		},
		{
			name: "fenced blob with prose",
			raw:  "Sure! Here is the analysis:\n```json\n{\"summary\":\"Card blocked {temporarily}\",\"sentiment\":\"negative\",\"amount\":\"₹1,250\"}\n```\nLet me know if you need more.",
			check: func(t *testing.T, rec types.Record) {
				assert.Equal(t, "Card blocked {temporarily}", rec.Summary)
				assert.Equal(t, types.SentimentNegative, rec.Sentiment)
				assert.Equal(t, types.Ptr(1250.0), rec.Amount)
			},
		},
		{
			name: "envelope object",
			raw:  `{"record":{"summary":"wrapped","intent":"close account"}}`,
			check: func(t *testing.T, rec types.Record) {
				assert.Equal(t, "wrapped", rec.Summary)
				assert.Equal(t, "close account", rec.Intent)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Parse(tt.raw)
			require.NoError(t, err)
			tt.check(t, rec)
		})
	}
}

func TestParseUnparseable(t *testing.T) {
	for _, raw := range []string{"I could not analyze this call.", "```json\n{\"summary\": \"cut off", "[1, 2, 3]"} {
		_, err := Parse(raw)

		var exErr *types.ExtractionError
		require.True(t, errors.As(err, &exErr), raw)
		assert.ErrorIs(t, err, types.ErrUnparseableOutput)
		assert.Equal(t, raw, exErr.Raw)
	}
}

func TestExtractBackendFailureDegrades(t *testing.T) {
	completer := &stubCompleter{err: errors.New("dial tcp: connection refused")}
	ex := NewLLMExtractor(completer, Options{}, logger.Discard())

	rec, err := ex.Extract(context.Background(), "Customer: I want to close my card.")
	require.NoError(t, err)

	assert.True(t, rec.Degraded())
	assert.Contains(t, rec.Summary, "connection refused")
	assert.Equal(t, types.SentimentNeutral, rec.Sentiment)
	assert.Empty(t, rec.Topics)
	assert.NotNil(t, rec.Topics)
}

func TestExtractCanceledContextIsNotDegraded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := NewLLMExtractor(&stubCompleter{err: context.Canceled}, Options{}, logger.Discard())
	_, err := ex.Extract(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractUnparseableIsError(t *testing.T) {
	ex := NewLLMExtractor(&stubCompleter{resp: "no json here"}, Options{}, logger.Discard())
	_, err := ex.Extract(context.Background(), "hello")
	assert.ErrorIs(t, err, types.ErrUnparseableOutput)
}

func TestExtractEmptyTranscript(t *testing.T) {
	completer := &stubCompleter{}
	ex := NewLLMExtractor(completer, Options{}, logger.Discard())
	_, err := ex.Extract(context.Background(), "  \n")
	assert.ErrorIs(t, err, types.ErrEmptyTranscript)
	assert.Empty(t, completer.got.Prompt)
}

func TestExtractRedactsAndRestores(t *testing.T) {
	completer := &stubCompleter{resp: `{
		"summary": "Customer will pay [MONEY_1] by [DATE_1].",
		"sentiment": "Neutral",
		"financial_events": ["promise to pay [MONEY_1]"],
		"amount": "[MONEY_1]",
		"interest_rate": "[RATE_1]",
		"due_date": "[DATE_1]"
	}`}
	ex := NewLLMExtractor(completer, Options{Redact: true, Temperature: 0.1}, logger.Discard())

	rec, err := ex.Extract(context.Background(), "I will pay 5,000 rupees by March 5th, 2025 at 12% interest.")
	require.NoError(t, err)

	assert.NotContains(t, completer.got.Prompt, "5,000")
	assert.Contains(t, completer.got.Prompt, "[MONEY_1]")
	assert.True(t, completer.got.JSON)
	assert.Equal(t, 0.1, completer.got.Temperature)

	assert.Equal(t, "Customer will pay 5,000 rupees by March 5th, 2025.", rec.Summary)
	assert.Equal(t, []string{"promise to pay 5,000 rupees"}, rec.FinancialEvents)
	assert.Equal(t, types.Ptr(5000.0), rec.Amount)
	assert.Equal(t, types.Ptr(12.0), rec.InterestRate)
	assert.Equal(t, types.Ptr("2025-03-05"), rec.DueDate)
}

func chatCompletion(content string) string {
	b, _ := json.Marshal(content)
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"llama-3.3-70b-versatile",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}],
		"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`, b)
}

func newTestOpenAI(url string) *OpenAICompleter {
	c := NewOpenAICompleter(OpenAIConfig{APIKey: "gsk_test", BaseURL: url, Model: "llama-3.3-70b-versatile", MaxRetries: 2}, logger.Discard())
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestOpenAICompleterRequest(t *testing.T) {
	var body map[string]any
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletion(`{"summary":"ok"}`)))
	}))
	defer srv.Close()

	out, err := newTestOpenAI(srv.URL+"/openai/v1").Complete(context.Background(), CompletionRequest{
		System: "sys", Prompt: "analyze", Temperature: 0.1, JSON: true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"summary":"ok"}`, out)
	assert.Equal(t, "/openai/v1/chat/completions", path)
	assert.Equal(t, "Bearer gsk_test", auth)
	assert.Equal(t, "llama-3.3-70b-versatile", body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestOpenAICompleterRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limit reached","type":"rate_limit_exceeded"}}`))
			return
		}
		w.Write([]byte(chatCompletion(`{"summary":"after retry"}`)))
	}))
	defer srv.Close()

	out, err := newTestOpenAI(srv.URL).Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Contains(t, out, "after retry")
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAICompleterDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL).Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAICompleterMissingKey(t *testing.T) {
	c := NewOpenAICompleter(OpenAIConfig{Model: "m"}, logger.Discard())
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, types.ErrMissingCredentials)
}

func TestMissingCredentialsDegradeThroughExtractor(t *testing.T) {
	c := NewOpenAICompleter(OpenAIConfig{Model: "m"}, logger.Discard())
	rec, err := NewLLMExtractor(c, Options{}, logger.Discard()).Extract(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, rec.Degraded())
	assert.True(t, strings.Contains(rec.Summary, "credentials"))
}

func TestIsTransientGeminiError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want bool
	}{
		{name: "api_429", in: genai.APIError{Code: 429}, want: true},
		{name: "api_503", in: genai.APIError{Code: 503}, want: true},
		{name: "api_400", in: genai.APIError{Code: 400}, want: false},
		{name: "plain", in: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientGeminiError(tt.in))
		})
	}
}

func TestNewCompleterGeminiWithoutKeyIsUnavailable(t *testing.T) {
	c := NewCompleter(context.Background(), configFor("gemini"), logger.Discard())
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, types.ErrMissingCredentials)
}

func configFor(provider string) config.ExtractionConfig {
	return config.ExtractionConfig{Provider: provider, Model: "m"}
}
