package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

// OpenAIConfig targets any OpenAI-compatible chat completions API (OpenAI,
// Groq, local gateways).
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int // retries on 429 and 5xx
}

type OpenAICompleter struct {
	client     openai.Client
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
	log        *logger.Logger
}

func NewOpenAICompleter(cfg OpenAIConfig, log *logger.Logger) *OpenAICompleter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}

	return &OpenAICompleter{
		client:     openai.NewClient(opts...),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 32 * time.Second
			return b
		},
		log: log.Component("extractor.openai"),
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c.apiKey == "" {
		return "", &types.ConfigurationError{Setting: "LLM_API_KEY", Err: types.ErrMissingCredentials}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	var content string
	attempt := 0
	op := func() error {
		attempt++
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if isRetryableOpenAIError(err) && ctx.Err() == nil {
				c.log.WithError(err).WithField("attempt", attempt).Warn("chat completion failed, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		if len(completion.Choices) == 0 {
			return backoff.Permanent(errors.New("no completion choices returned"))
		}
		content = completion.Choices[0].Message.Content
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", fmt.Errorf("openai chat completion (%s): %w", c.model, err)
	}
	return content, nil
}

// isRetryableOpenAIError reports rate limits, server errors and transport
// failures. Client errors such as 401 are final.
func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
