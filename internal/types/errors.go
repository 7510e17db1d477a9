package types

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTranscript    = errors.New("transcript is empty")
	ErrMissingCredentials = errors.New("credentials not configured")
	ErrUnparseableOutput  = errors.New("model output is not valid JSON")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobExists          = errors.New("job already exists")
	ErrTerminalJob        = errors.New("job is already in a terminal state")
	ErrToolMissing        = errors.New("required tool not found")
	ErrModelLoading       = errors.New("speech model is loading")
	ErrToolTimeout        = errors.New("external tool timed out")
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
}

// ConversionError is returned when audio cannot be normalized to the canonical format.
type ConversionError struct {
	Path       string
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *ConversionError) Error() string {
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("conversion of %s failed: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("conversion of %s failed: %s (cmd=%s exit=%d stderr=%s)",
		e.Path, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode, lastLine(e.CommandLog.Stderr))
}

func (e *ConversionError) Unwrap() error { return e.Err }

// TranscriptionError covers failed, empty and unauthenticated transcriptions.
type TranscriptionError struct {
	Backend string
	Message string
	Err     error
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("transcription (%s): %v", e.Backend, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("transcription (%s): %s: %v", e.Backend, e.Message, e.Err)
	}
	return fmt.Sprintf("transcription (%s): %s", e.Backend, e.Message)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ExtractionError is returned when model output cannot be parsed.
// Backend outages are not ExtractionErrors; they yield a degraded record.
type ExtractionError struct {
	Message string
	Raw     string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction: %s: %v", e.Message, e.Err)
	}
	return "extraction: " + e.Message
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PersistenceError wraps document store failures.
type PersistenceError struct {
	JobID string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigurationError reports missing credentials, tools or settings.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == '\n' || s[end-1] == '\r' || s[end-1] == ' ') {
		end--
	}
	start := end
	for start > 0 && s[start-1] != '\n' {
		start--
	}
	return s[start:end]
}
