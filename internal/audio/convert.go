package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

// Converter normalizes arbitrary input audio into mono 16 kHz PCM WAV.
type Converter struct {
	ffmpegPath string
	timeout    time.Duration
	runner     Runner
	log        *logger.Logger
}

func NewConverter(ffmpegPath string, timeout time.Duration, runner Runner, log *logger.Logger) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Converter{ffmpegPath: ffmpegPath, timeout: timeout, runner: runner, log: log.Component("audio.convert")}
}

// Convert returns inputPath unchanged when it is already canonical. Otherwise it
// writes exactly one new file into outDir and returns its path. The input is
// never modified.
func (c *Converter) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", &types.ConversionError{Path: inputPath, Message: "cannot access input audio", Err: err}
	}

	if f, err := ReadFormat(inputPath); err == nil && f.Canonical() {
		c.log.WithField("input", inputPath).Debug("input already canonical, skipping conversion")
		return inputPath, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", &types.ConversionError{Path: inputPath, Message: "cannot create work directory", Err: err}
	}

	outPath := CanonicalPath(inputPath, outDir)
	args := buildConvertArgs(inputPath, outPath)
	res, runErr := RunWithTimeout(ctx, c.runner, c.timeout, c.ffmpegPath, args...)
	cmdLog := NewCommandLog(c.ffmpegPath, args, res)
	if runErr != nil {
		_ = os.Remove(outPath)
		return "", &types.ConversionError{
			Path:       inputPath,
			Message:    "ffmpeg conversion failed",
			CommandLog: cmdLog,
			Err:        runErr,
		}
	}

	format, err := ReadFormat(outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return "", &types.ConversionError{
			Path:       inputPath,
			Message:    "ffmpeg completed but output is missing or unreadable",
			CommandLog: cmdLog,
			Err:        err,
		}
	}
	if !format.Canonical() {
		_ = os.Remove(outPath)
		return "", &types.ConversionError{
			Path:       inputPath,
			Message:    fmt.Sprintf("output is %d Hz / %d ch, want %d Hz mono", format.SampleRate, format.Channels, CanonicalSampleRate),
			CommandLog: cmdLog,
		}
	}

	c.log.WithField("input", inputPath).WithField("output", outPath).Info("audio converted")
	return outPath, nil
}

// CanonicalPath derives the converted file path: same stem, .wav extension.
func CanonicalPath(inputPath, outDir string) string {
	out := filepath.Join(outDir, stem(inputPath)+".wav")
	if sameFile(out, inputPath) {
		out = filepath.Join(outDir, stem(inputPath)+".16k.wav")
	}
	return out
}

func buildConvertArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(CanonicalChannels),
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "audio"
	}
	return name
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
