package types

import "time"

// JobStatus is the persisted lifecycle status of a job.
type JobStatus string

const (
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind selects which step chain a job runs through.
type Kind string

const (
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

func (k Kind) Valid() bool {
	return k == KindAudio || k == KindDocument
}

// Job is the unit of work (a "document" in the store).
type Job struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind"`
	Status           JobStatus  `json:"status"`
	SourcePath       string     `json:"source_path"`
	LanguageHint     string     `json:"language_hint,omitempty"`
	Transcript       *string    `json:"transcript"`
	Extracted        *Record    `json:"extracted"`
	EnhancedAudioRef *string    `json:"enhanced_audio_ref,omitempty"`
	ProcessingError  *string    `json:"processing_error,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewJob holds the initial fields for createJob.
type NewJob struct {
	ID           string // optional; generated when empty
	Kind         Kind
	SourcePath   string
	LanguageHint string
}

// JobUpdate is a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status           *JobStatus
	Transcript       *string
	Extracted        *Record
	EnhancedAudioRef *string
	ProcessingError  *string
	ProcessedAt      *time.Time
}

// Submission is the message that asks the pipeline to process a job.
type Submission struct {
	JobID        string `json:"job_id"`
	Kind         Kind   `json:"kind"`
	SourcePath   string `json:"source_path"`
	LanguageHint string `json:"language_hint,omitempty"`
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	Status JobStatus
	Kind   Kind
	Limit  int
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
