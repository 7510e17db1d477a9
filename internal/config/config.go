package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"finvoice-go/internal/types"
)

// Config holds every runtime setting of the service and the CLI.
type Config struct {
	Environment   string
	LogLevel      string
	Server        ServerConfig
	Database      DatabaseConfig
	Audio         AudioConfig
	Transcription TranscriptionConfig
	Extraction    ExtractionConfig
	Worker        WorkerConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig selects the document store and queue. An empty URL keeps
// everything in memory.
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

type AudioConfig struct {
	FFmpegPath string
	WorkDir    string
	// ToolTimeout bounds each ffmpeg and whisper.cpp run.
	ToolTimeout time.Duration
}

type TranscriptionConfig struct {
	Backends     []string // fallback order, e.g. remote,local
	HFToken      string
	HFBaseURL    string
	ModelMapFile string
	Models       ModelMap
	WarmupWait   time.Duration
	Timeout      time.Duration
	WhisperPath  string
	WhisperModel string
}

type ExtractionConfig struct {
	Provider    string // openai | gemini
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Redact      bool
}

type WorkerConfig struct {
	AudioConcurrency    int
	DocumentConcurrency int
	Window              time.Duration
	StepAttempts        int
	Lease               time.Duration
	RetryDelay          time.Duration
	MaxDeliveries       int
}

// Concurrency returns the in-flight limit for a pipeline kind.
func (w WorkerConfig) Concurrency(kind types.Kind) int {
	if kind == types.KindDocument {
		return w.DocumentConcurrency
	}
	return w.AudioConcurrency
}

// Load reads envFile when present, then the process environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	workDir := getEnv("WORK_DIR", filepath.Join(os.TempDir(), "finvoice"))
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "local"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvAsInt("DATABASE_MAX_CONNS", 10),
		},
		Audio: AudioConfig{
			FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
			WorkDir:     workDir,
			ToolTimeout: getEnvAsDuration("TOOL_TIMEOUT", 10*time.Minute),
		},
		Transcription: TranscriptionConfig{
			Backends:     splitList(getEnv("TRANSCRIBE_BACKENDS", "remote,local")),
			HFToken:      getEnv("HF_API_TOKEN", ""),
			HFBaseURL:    getEnv("HF_API_URL", "https://api-inference.huggingface.co"),
			ModelMapFile: getEnv("MODEL_MAP_FILE", ""),
			WarmupWait:   getEnvAsDuration("TRANSCRIBE_WARMUP_WAIT", 20*time.Second),
			Timeout:      getEnvAsDuration("TRANSCRIBE_TIMEOUT", 120*time.Second),
			WhisperPath:  getEnv("WHISPER_PATH", "whisper.cpp"),
			WhisperModel: getEnv("WHISPER_MODEL", ""),
		},
		Extraction: ExtractionConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", ""),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.1),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
			Redact:      getEnvAsBool("REDACT_BEFORE_EXTRACT", false),
		},
		Worker: WorkerConfig{
			AudioConcurrency:    getEnvAsInt("AUDIO_CONCURRENCY", 2),
			DocumentConcurrency: getEnvAsInt("DOCUMENT_CONCURRENCY", 5),
			Window:              getEnvAsDuration("THROTTLE_WINDOW", time.Minute),
			StepAttempts:        getEnvAsInt("STEP_ATTEMPTS", 3),
			Lease:               getEnvAsDuration("TASK_LEASE", 15*time.Minute),
			RetryDelay:          getEnvAsDuration("TASK_RETRY_DELAY", 30*time.Second),
			MaxDeliveries:       getEnvAsInt("TASK_MAX_DELIVERIES", 5),
		},
	}

	applyProviderDefaults(&cfg.Extraction)

	models, err := LoadModelMap(cfg.Transcription.ModelMapFile)
	if err != nil {
		return nil, err
	}
	cfg.Transcription.Models = models

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Worker.AudioConcurrency < 1 {
		return &types.ConfigurationError{Setting: "AUDIO_CONCURRENCY", Err: errors.New("must be at least 1")}
	}
	if c.Worker.DocumentConcurrency < 1 {
		return &types.ConfigurationError{Setting: "DOCUMENT_CONCURRENCY", Err: errors.New("must be at least 1")}
	}
	if c.Audio.ToolTimeout <= 0 {
		return &types.ConfigurationError{Setting: "TOOL_TIMEOUT", Err: errors.New("must be positive")}
	}
	if c.Worker.StepAttempts < 1 {
		return &types.ConfigurationError{Setting: "STEP_ATTEMPTS", Err: errors.New("must be at least 1")}
	}
	switch c.Extraction.Provider {
	case "openai", "gemini":
	default:
		return &types.ConfigurationError{Setting: "LLM_PROVIDER", Err: fmt.Errorf("unknown provider %q", c.Extraction.Provider)}
	}
	for _, b := range c.Transcription.Backends {
		if b != "remote" && b != "local" {
			return &types.ConfigurationError{Setting: "TRANSCRIBE_BACKENDS", Err: fmt.Errorf("unknown backend %q", b)}
		}
	}
	if len(c.Transcription.Backends) == 0 {
		return &types.ConfigurationError{Setting: "TRANSCRIBE_BACKENDS", Err: errors.New("at least one backend is required")}
	}
	return nil
}

// OpenAI-compatible defaults point at Groq, which serves the Llama models.
const (
	defaultOpenAIBaseURL = "https://api.groq.com/openai/v1"
	defaultOpenAIModel   = "llama-3.3-70b-versatile"
	defaultGeminiModel   = "gemini-2.5-flash"
)

func applyProviderDefaults(e *ExtractionConfig) {
	switch e.Provider {
	case "openai":
		if e.BaseURL == "" {
			e.BaseURL = defaultOpenAIBaseURL
		}
		if e.Model == "" {
			e.Model = defaultOpenAIModel
		}
	case "gemini":
		if e.Model == "" {
			e.Model = defaultGeminiModel
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
