package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

// Transcriber turns canonical audio into text. Implementations never return
// blank text with a nil error.
type Transcriber interface {
	// Transcribe may write scratch files into outDir and removes them before
	// returning.
	Transcribe(ctx context.Context, audioPath, languageHint, outDir string) (string, error)
}

// Backend is a Transcriber that can report whether it is usable at all.
type Backend interface {
	Transcriber
	Name() string
	Available() error
}

// Chain tries each backend in order and returns the first transcript.
type Chain struct {
	backends []Backend
	log      *logger.Logger
}

func NewChain(log *logger.Logger, backends ...Backend) *Chain {
	return &Chain{backends: backends, log: log.Component("transcription")}
}

func (c *Chain) Transcribe(ctx context.Context, audioPath, languageHint, outDir string) (string, error) {
	if len(c.backends) == 0 {
		return "", &types.TranscriptionError{Backend: "chain", Message: "no backends configured"}
	}

	// only failures of backends that actually ran decide whether a retry can help
	var failed, unavailable []error
	var skipped []string
	for _, b := range c.backends {
		log := c.log.WithField("backend", b.Name())
		if err := b.Available(); err != nil {
			log.WithError(err).Warn("backend unavailable, skipping")
			unavailable = append(unavailable, err)
			skipped = append(skipped, b.Name())
			continue
		}

		text, err := b.Transcribe(ctx, audioPath, languageHint, outDir)
		if err == nil {
			log.WithField("chars", len(text)).Info("transcription complete")
			return text, nil
		}
		log.WithError(err).Warn("backend failed")
		failed = append(failed, err)

		if ctx.Err() != nil {
			break
		}
	}

	if len(failed) == 0 {
		return "", &types.TranscriptionError{
			Backend: "chain",
			Message: "no backend available",
			Err:     errors.Join(unavailable...),
		}
	}
	msg := "all backends failed"
	if len(skipped) > 0 {
		msg = fmt.Sprintf("all backends failed (skipped unavailable: %s)", strings.Join(skipped, ", "))
	}
	return "", &types.TranscriptionError{
		Backend: "chain",
		Message: msg,
		Err:     errors.Join(failed...),
	}
}
