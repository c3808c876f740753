package model

import "time"

// GenerateRequest represents the request to start a paid audio generation.
// Ranges mirror the advisory limits given to the producer agent.
type GenerateRequest struct {
	Prompt   string  `json:"prompt" validate:"required,min=1,max=2000"`
	Duration float64 `json:"duration" validate:"required,min=10,max=300"`
	Steps    int     `json:"steps" validate:"required,min=1,max=200"`
	CFGScale float64 `json:"cfgScale" validate:"omitempty,min=1,max=30"`
	Seed     *int64  `json:"seed" validate:"omitempty"`
	Lyrics   string  `json:"lyrics" validate:"omitempty,max=10000"`
}

// GenerateStartResponse represents the response when a generation is queued
type GenerateStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Cost      int64     `json:"cost"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateStatusResponse represents the status of a generation job
type GenerateStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	RetryCount  int        `json:"retryCount"`
}

// GenerateResultResponse represents the output of a finished generation
type GenerateResultResponse struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Duration  float64   `json:"duration"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateCancelResponse represents the response when cancelling a job
type GenerateCancelResponse struct {
	Success  bool      `json:"success"`
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Refunded bool      `json:"refunded"`
}
