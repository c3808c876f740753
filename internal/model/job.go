package model

import "time"

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Finished reports whether the job can no longer change status
func (s JobStatus) Finished() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Job represents a paid background generation
type Job struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Type        string     `json:"type"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Cost        int64      `json:"cost"`
	Refunded    bool       `json:"refunded"`
	Payload     []byte     `json:"payload,omitempty"`
	Result      []byte     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}

// Job types
const (
	JobTypeText2Music = "text2music"
)

// GenerationJobPayload contains the data for a generation job
type GenerationJobPayload struct {
	UserID   string  `json:"userId"`
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration"`
	Steps    int     `json:"steps"`
	CFGScale float64 `json:"cfgScale"`
	Seed     *int64  `json:"seed,omitempty"`
	Lyrics   string  `json:"lyrics,omitempty"`
}
