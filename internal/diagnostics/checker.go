// Package diagnostics checks that the tools, credentials and paths the
// pipeline depends on are in place.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"finvoice-go/internal/config"
)

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Item is one check result with an optional hint.
type Item struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`
	HasFailures bool      `json:"hasFailures"`
	Items       []Item    `json:"items"`
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker validates external tools, credentials and filesystem paths.
type Checker struct {
	db         Pinger
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies. db may be nil when
// the service runs on the in-memory store.
func NewChecker(db Pinger) *Checker {
	return &Checker{
		db:         db,
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes every check for cfg.
func (c *Checker) Run(ctx context.Context, cfg *config.Config) Report {
	local := slices.Contains(cfg.Transcription.Backends, "local")
	remote := slices.Contains(cfg.Transcription.Backends, "remote")

	items := []Item{
		c.checkTool("ffmpeg", cfg.Audio.FFmpegPath, true),
		c.checkTool("whisper", cfg.Transcription.WhisperPath, local && !remote),
	}
	if local {
		items = append(items, c.checkModelPath(cfg.Transcription.WhisperModel, !remote))
	}
	if remote {
		items = append(items, checkSecret("hf_token", "Speech API token", "HF_API_TOKEN", cfg.Transcription.HFToken, !local))
	}
	items = append(items,
		checkSecret("llm_key", "Language model key", "LLM_API_KEY", cfg.Extraction.APIKey, false),
		c.checkWorkDir(cfg.Audio.WorkDir),
		c.checkDatabase(ctx),
	)

	report := Report{GeneratedAt: time.Now().UTC(), Items: items}
	for _, item := range items {
		if item.Status == StatusFail {
			report.HasFailures = true
			break
		}
	}
	return report
}

// checkTool verifies an executable is reachable. A missing optional tool
// only warns.
func (c *Checker) checkTool(name, path string, required bool) Item {
	item := Item{ID: "tool_" + name, Name: name}
	if path == "" {
		path = name
	}
	found, err := c.lookPath(path)
	if err != nil {
		item.Status = StatusWarn
		if required {
			item.Status = StatusFail
		}
		item.Message = fmt.Sprintf("Tool not found: %s", path)
		item.Hint = "Install it and ensure the binary is on PATH, or set its path in the environment."
		return item
	}
	item.Status = StatusPass
	item.Message = fmt.Sprintf("Found at %s", found)
	return item
}

func (c *Checker) checkModelPath(modelPath string, required bool) Item {
	item := Item{ID: "whisper_model", Name: "Whisper model"}
	failStatus := StatusWarn
	if required {
		failStatus = StatusFail
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = failStatus
		item.Message = "WHISPER_MODEL is empty."
		item.Hint = "Set a model file or a directory containing whisper.cpp models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = failStatus
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Download a whisper.cpp model and point WHISPER_MODEL at it."
		return item
	}
	if !info.IsDir() {
		item.Status = StatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = failStatus
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		return item
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !entry.IsDir() && (ext == ".bin" || ext == ".gguf") {
			item.Status = StatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}
	item.Status = failStatus
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory."
	return item
}

func checkSecret(id, name, env, value string, required bool) Item {
	item := Item{ID: id, Name: name}
	if strings.TrimSpace(value) != "" {
		item.Status = StatusPass
		item.Message = env + " is set."
		return item
	}
	item.Status = StatusWarn
	if required {
		item.Status = StatusFail
	}
	item.Message = env + " is not set."
	if id == "llm_key" {
		item.Hint = "Jobs still complete, but with a degraded record instead of an analysis."
	}
	return item
}

// checkWorkDir validates existence and write access of the job work root.
func (c *Checker) checkWorkDir(dir string) Item {
	item := Item{ID: "work_dir", Name: "Work directory"}
	if strings.TrimSpace(dir) == "" {
		item.Status = StatusFail
		item.Message = "WORK_DIR is empty."
		return item
	}
	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Cannot create work directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}
	tmp, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Work directory is not writable: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}
	name := tmp.Name()
	_ = tmp.Close()
	_ = c.remove(name)

	item.Status = StatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

func (c *Checker) checkDatabase(ctx context.Context) Item {
	item := Item{ID: "database", Name: "Database"}
	if c.db == nil {
		item.Status = StatusWarn
		item.Message = "DATABASE_URL is not set; jobs and queue are kept in memory."
		return item
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.db.Ping(ctx); err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Database unreachable: %v", err)
		return item
	}
	item.Status = StatusPass
	item.Message = "Database reachable."
	return item
}
