package audio

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"finvoice-go/internal/logger"
)

// DenoiseFilter is the voice-band filter chain: drop rumble below 200 Hz, hiss
// above 3 kHz, then FFT denoise. Fixed policy, not a tunable.
const DenoiseFilter = "highpass=f=200,lowpass=f=3000,afftdn"

// Denoiser applies DenoiseFilter. It is the one fail-open step of the pipeline.
type Denoiser struct {
	ffmpegPath string
	timeout    time.Duration
	runner     Runner
	log        *logger.Logger
}

func NewDenoiser(ffmpegPath string, timeout time.Duration, runner Runner, log *logger.Logger) *Denoiser {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Denoiser{ffmpegPath: ffmpegPath, timeout: timeout, runner: runner, log: log.Component("audio.denoise")}
}

// Denoise writes a cleaned copy of canonicalPath into outDir and returns it.
// On any failure it logs, leaves no file behind and returns canonicalPath.
func (d *Denoiser) Denoise(ctx context.Context, canonicalPath, outDir string) string {
	log := d.log.WithField("input", canonicalPath)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.WithError(err).Warn("denoise skipped: cannot create work directory")
		return canonicalPath
	}

	outPath := EnhancedPath(canonicalPath, outDir)
	args := buildDenoiseArgs(canonicalPath, outPath)
	res, err := RunWithTimeout(ctx, d.runner, d.timeout, d.ffmpegPath, args...)
	if err != nil {
		_ = os.Remove(outPath)
		log.WithError(err).WithField("stderr", res.Stderr).Warn("denoise failed, continuing with original audio")
		return canonicalPath
	}

	format, err := ReadFormat(outPath)
	if err != nil || !format.Canonical() {
		_ = os.Remove(outPath)
		log.WithError(err).Warn("denoise output unusable, continuing with original audio")
		return canonicalPath
	}

	log.WithField("output", outPath).Info("audio denoised")
	return outPath
}

// EnhancedPath derives the cleaned audio path kept for playback.
func EnhancedPath(canonicalPath, outDir string) string {
	return filepath.Join(outDir, stem(canonicalPath)+".enhanced.wav")
}

func buildDenoiseArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-af", DenoiseFilter,
		"-ac", strconv.Itoa(CanonicalChannels),
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}
