package extractor

import (
	"context"
	"fmt"

	"finvoice-go/internal/config"
	"finvoice-go/internal/logger"
)

const defaultMaxRetries = 3

// NewCompleter builds the backend selected by LLM_PROVIDER. A backend that
// cannot be constructed still yields a Completer; every call fails, so jobs
// complete with a degraded record instead of failing.
func NewCompleter(ctx context.Context, cfg config.ExtractionConfig, log *logger.Logger) Completer {
	switch cfg.Provider {
	case "gemini":
		c, err := NewGeminiCompleter(ctx, GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			MaxRetries: defaultMaxRetries,
		}, log)
		if err != nil {
			log.WithError(err).Warn("gemini backend unavailable")
			return unavailable{err: err}
		}
		return c
	default:
		return NewOpenAICompleter(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			MaxRetries: defaultMaxRetries,
		}, log)
	}
}

type unavailable struct{ err error }

func (u unavailable) Complete(context.Context, CompletionRequest) (string, error) {
	return "", fmt.Errorf("extraction backend unavailable: %w", u.err)
}
