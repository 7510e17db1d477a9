package transcription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"finvoice-go/internal/audio"
	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

type LocalOptions struct {
	WhisperPath string
	ModelPath   string // model file, or a directory holding .bin/.gguf models
	Timeout     time.Duration
	Runner      audio.Runner
}

// Local runs whisper.cpp on the host.
type Local struct {
	whisperPath string
	modelPath   string
	timeout     time.Duration
	runner      audio.Runner
	lookPath    func(string) (string, error)
	log         *logger.Logger
}

func NewLocal(opts LocalOptions, log *logger.Logger) *Local {
	if opts.WhisperPath == "" {
		opts.WhisperPath = "whisper.cpp"
	}
	if opts.Runner == nil {
		opts.Runner = audio.ExecRunner{}
	}
	return &Local{
		whisperPath: opts.WhisperPath,
		modelPath:   opts.ModelPath,
		timeout:     opts.Timeout,
		runner:      opts.Runner,
		lookPath:    exec.LookPath,
		log:         log.Component("transcription.local"),
	}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Available() error {
	if _, err := l.lookPath(l.whisperPath); err != nil {
		return &types.ConfigurationError{Setting: "WHISPER_PATH", Err: fmt.Errorf("%w: %s", types.ErrToolMissing, l.whisperPath)}
	}
	if _, err := resolveModelPath(l.modelPath); err != nil {
		return &types.ConfigurationError{Setting: "WHISPER_MODEL", Err: err}
	}
	return nil
}

// Transcribe writes whisper's text output under outDir, or under a private
// scratch directory when outDir is empty.
func (l *Local) Transcribe(ctx context.Context, audioPath, languageHint, outDir string) (string, error) {
	modelPath, err := resolveModelPath(l.modelPath)
	if err != nil {
		return "", &types.TranscriptionError{Backend: l.Name(), Message: "model not available", Err: err}
	}

	if outDir == "" {
		scratch, err := os.MkdirTemp("", "whisper-*")
		if err != nil {
			return "", &types.TranscriptionError{Backend: l.Name(), Message: "create scratch directory", Err: err}
		}
		defer os.RemoveAll(scratch)
		outDir = scratch
	} else if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", &types.TranscriptionError{Backend: l.Name(), Message: "create output directory", Err: err}
	}
	textBase := filepath.Join(outDir, transcriptBase(audioPath))
	textPath := textBase + ".txt"

	// a leftover file from a crashed run would be read back as this run's output
	if err := os.Remove(textPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", &types.TranscriptionError{Backend: l.Name(), Message: "remove stale transcript", Err: err}
	}
	defer os.Remove(textPath)

	args := buildWhisperArgs(modelPath, audioPath, textBase, languageHint)
	res, err := audio.RunWithTimeout(ctx, l.runner, l.timeout, l.whisperPath, args...)
	if err != nil {
		cmdLog := audio.NewCommandLog(l.whisperPath, args, res)
		return "", &types.TranscriptionError{
			Backend: l.Name(),
			Message: fmt.Sprintf("whisper exited %d: %s", cmdLog.ExitCode, strings.TrimSpace(res.Stderr)),
			Err:     err,
		}
	}

	data, err := os.ReadFile(textPath)
	if err != nil {
		return "", &types.TranscriptionError{Backend: l.Name(), Message: "whisper produced no transcript file", Err: err}
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", &types.TranscriptionError{Backend: l.Name(), Err: types.ErrEmptyTranscript}
	}
	l.log.WithField("model", filepath.Base(modelPath)).WithField("chars", len(text)).Debug("local transcript produced")
	return text, nil
}

// resolveModelPath accepts a model file or a directory; for a directory the
// first .bin/.gguf file in name order is used.
func resolveModelPath(raw string) (string, error) {
	modelPath := strings.TrimSpace(raw)
	if modelPath == "" {
		return "", errors.New("WHISPER_MODEL not set")
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("whisper model: %w", err)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := os.ReadDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("read model directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".bin", ".gguf":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files in %s", modelPath)
	}
	sort.Strings(names)
	return filepath.Join(modelPath, names[0]), nil
}

// whisperLanguage maps a hint to whisper's -l value; "auto" and empty mean
// no override and regional suffixes are dropped.
func whisperLanguage(hint string) string {
	lang := strings.ToLower(strings.TrimSpace(hint))
	if lang == "" || lang == "auto" {
		return ""
	}
	base, _, _ := strings.Cut(lang, "-")
	return base
}

func buildWhisperArgs(modelPath, audioPath, textBase, languageHint string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}
	if lang := whisperLanguage(languageHint); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}

func transcriptBase(audioPath string) string {
	base := filepath.Base(audioPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "transcript"
	}
	return name + ".transcript"
}
