package extractor

import (
	"context"
	"errors"
	"strings"

	"finvoice-go/internal/logger"
	"finvoice-go/internal/normalize"
	"finvoice-go/internal/redact"
	"finvoice-go/internal/types"
)

// Extractor turns a transcript into a structured record.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (types.Record, error)
}

type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	JSON        bool
}

// Completer is a chat model backend returning the raw message text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type Options struct {
	Temperature float64
	// Redact replaces amounts, dates, rates and account numbers with tokens
	// before the transcript is sent, and restores them in the record.
	Redact bool
}

// LLMExtractor extracts records through a Completer.
//
// A backend that cannot be reached yields a degraded record and no error, so
// the transcript is still persisted. Output that arrives but cannot be parsed
// is an ExtractionError.
type LLMExtractor struct {
	completer Completer
	opts      Options
	log       *logger.Logger
}

func NewLLMExtractor(completer Completer, opts Options, log *logger.Logger) *LLMExtractor {
	return &LLMExtractor{completer: completer, opts: opts, log: log.Component("extractor")}
}

func (e *LLMExtractor) Extract(ctx context.Context, transcript string) (types.Record, error) {
	if strings.TrimSpace(transcript) == "" {
		return types.Record{}, &types.ExtractionError{Message: "nothing to analyze", Err: types.ErrEmptyTranscript}
	}

	text := transcript
	var vault redact.Vault
	if e.opts.Redact {
		text, vault = redact.Redact(transcript)
		e.log.WithField("tokens", len(vault)).Debug("transcript redacted")
	}

	raw, err := e.completer.Complete(ctx, CompletionRequest{
		System:      SystemPrompt,
		Prompt:      BuildPrompt(text),
		Temperature: e.opts.Temperature,
		JSON:        true,
	})
	if err != nil {
		// shutdown is not a backend failure; let the caller retry the job later
		if ctx.Err() != nil {
			return types.Record{}, ctx.Err()
		}
		e.log.WithError(err).Warn("language model unavailable, storing degraded record")
		return types.DegradedRecord(degradedReason(err)), nil
	}

	obj, err := parseObject(raw)
	if err != nil {
		e.log.WithField("raw_len", len(raw)).WithError(err).Error("model output unparseable")
		return types.Record{}, err
	}

	// restore before normalizing so "[MONEY_1]" becomes a parseable amount
	if len(vault) > 0 {
		obj = restoreValue(obj, vault).(map[string]any)
	}
	return normalize.Record(obj), nil
}

func restoreValue(v any, vault redact.Vault) any {
	switch t := v.(type) {
	case string:
		return vault.Restore(t)
	case []any:
		for i := range t {
			t[i] = restoreValue(t[i], vault)
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = restoreValue(t[k], vault)
		}
		return t
	}
	return v
}

func degradedReason(err error) string {
	const limit = 200
	msg := err.Error()
	if errors.Is(err, types.ErrMissingCredentials) {
		msg = "language model credentials are not configured"
	}
	if len(msg) > limit {
		msg = msg[:limit] + "..."
	}
	return "extraction backend failed (" + msg + ")"
}
