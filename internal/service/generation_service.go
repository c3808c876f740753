package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/makeasinger/studio/internal/model"
)

const (
	TaskTypeGeneration = "generation:process"
	QueueGeneration    = "generation"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
	ErrJobFinished     = errors.New("job already finished")
)

// Biller charges and refunds generation credits. Charge reports false when
// no debit was recorded, in which case the job must never be refunded.
type Biller interface {
	Charge(ctx context.Context, userID string, cost int64, jobID, task string) (bool, error)
	Refund(ctx context.Context, userID string, amount int64, jobID, cause string) error
}

// Enqueuer hands tasks to the worker queue. *asynq.Client satisfies it.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// GenerationTask is the asynq payload for one paid generation
type GenerationTask struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// GenerationService handles paid generation jobs. Credits are deducted
// before the job is queued and refunded if it never produces output.
type GenerationService struct {
	jobs     JobStore
	queue    Enqueuer
	biller   Biller
	cost     int64
	maxRetry int
}

func NewGenerationService(jobs JobStore, queue Enqueuer, biller Biller, cost int64) *GenerationService {
	return &GenerationService{
		jobs:     jobs,
		queue:    queue,
		biller:   biller,
		cost:     cost,
		maxRetry: 3,
	}
}

// Cost returns the credits charged per generation
func (s *GenerationService) Cost() int64 {
	return s.cost
}

// StartGeneration charges the user and queues a new job. Ledger errors are
// returned unwrapped so callers can map them.
func (s *GenerationService) StartGeneration(ctx context.Context, userID string, req *model.GenerateRequest) (*model.GenerateStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	payload := &model.GenerationJobPayload{
		UserID:   userID,
		Prompt:   req.Prompt,
		Duration: req.Duration,
		Steps:    req.Steps,
		CFGScale: req.CFGScale,
		Seed:     req.Seed,
		Lyrics:   req.Lyrics,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	charged, err := s.biller.Charge(ctx, userID, s.cost, jobID, model.JobTypeText2Music)
	if err != nil {
		return nil, err
	}
	var cost int64
	if charged {
		cost = s.cost
	}

	job := &model.Job{
		ID:        jobID,
		UserID:    userID,
		Type:      model.JobTypeText2Music,
		Status:    model.JobStatusQueued,
		Cost:      cost,
		Payload:   payloadBytes,
		CreatedAt: now,
	}

	if err := s.jobs.Save(ctx, job); err != nil {
		s.refund(ctx, userID, cost, jobID, "job could not be saved")
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newGenerationTask(jobID, payloadBytes)
	if err != nil {
		s.abort(ctx, jobID, "Failed to create task")
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.queue.Enqueue(task,
		asynq.Queue(QueueGeneration),
		asynq.MaxRetry(s.maxRetry),
		asynq.Retention(24*time.Hour),
		asynq.TaskID(jobID),
	)
	if err != nil {
		s.abort(ctx, jobID, "Failed to enqueue job")
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("[Generation] Job %s queued for user %s (cost %d)", jobID, userID, cost)

	return &model.GenerateStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		Cost:      cost,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current status of a job owned by userID
func (s *GenerationService) GetStatus(ctx context.Context, userID, jobID string) (*model.GenerateStatusResponse, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	return &model.GenerateStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		RetryCount:  job.RetryCount,
	}, nil
}

// GetResult returns the output of a succeeded job
func (s *GenerationService) GetResult(ctx context.Context, userID, jobID string) (*model.GenerateResultResponse, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotCompleted
	}

	var result model.GenerateResultResponse
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// CancelGeneration cancels a job. A job that has not started yet is
// refunded in full.
func (s *GenerationService) CancelGeneration(ctx context.Context, userID, jobID string) (*model.GenerateCancelResponse, error) {
	if _, err := s.ownedJob(ctx, userID, jobID); err != nil {
		return nil, err
	}

	var refund bool
	job, err := s.jobs.Update(ctx, jobID, func(job *model.Job) error {
		if job.Status.Finished() {
			return ErrJobFinished
		}
		refund = job.Status == model.JobStatusQueued && !job.Refunded && job.Cost > 0
		if refund {
			job.Refunded = true
		}
		now := time.Now()
		job.Status = model.JobStatusCanceled
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	refunded := false
	if refund {
		refunded = s.refundJob(ctx, job, "canceled before start")
	}

	return &model.GenerateCancelResponse{
		Success:  true,
		JobID:    jobID,
		Status:   model.JobStatusCanceled,
		Refunded: refunded,
	}, nil
}

// Job returns a job without an ownership check (called by worker)
func (s *GenerationService) Job(ctx context.Context, jobID string) (*model.Job, error) {
	return s.jobs.Get(ctx, jobID)
}

// UpdateJobProgress records progress and moves a queued job to running.
// It returns ErrJobFinished once the job was canceled so the worker can stop.
func (s *GenerationService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	_, err := s.jobs.Update(ctx, jobID, func(job *model.Job) error {
		if job.Status.Finished() {
			return ErrJobFinished
		}
		job.Progress = progress
		job.CurrentStep = step
		if job.Status == model.JobStatusQueued {
			job.Status = model.JobStatusRunning
			now := time.Now()
			job.StartedAt = &now
		}
		return nil
	})
	return err
}

// CompleteJob stores the result (called by worker)
func (s *GenerationService) CompleteJob(ctx context.Context, jobID string, result *model.GenerateResultResponse) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	_, err = s.jobs.Update(ctx, jobID, func(job *model.Job) error {
		if job.Status.Finished() {
			return ErrJobFinished
		}
		job.Status = model.JobStatusSucceeded
		job.Progress = 100
		job.CurrentStep = ""
		job.Result = resultBytes
		now := time.Now()
		job.CompletedAt = &now
		return nil
	})
	return err
}

// FailJob marks the job failed and refunds it once. It reports whether
// credits were returned.
func (s *GenerationService) FailJob(ctx context.Context, jobID, errMsg string) (bool, error) {
	var refund bool
	job, err := s.jobs.Update(ctx, jobID, func(job *model.Job) error {
		if job.Status.Finished() {
			return ErrJobFinished
		}
		refund = !job.Refunded && job.Cost > 0
		if refund {
			job.Refunded = true
		}
		job.Status = model.JobStatusFailed
		job.Error = &errMsg
		now := time.Now()
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return false, err
	}

	if !refund {
		return false, nil
	}
	return s.refundJob(ctx, job, errMsg), nil
}

// IncrementRetry records a retried attempt (called by worker)
func (s *GenerationService) IncrementRetry(ctx context.Context, jobID string) {
	_, err := s.jobs.Update(ctx, jobID, func(job *model.Job) error {
		job.RetryCount++
		return nil
	})
	if err != nil {
		log.Printf("[Generation] Failed to record retry for job %s: %v", jobID, err)
	}
}

func (s *GenerationService) ownedJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// abort fails a job that never reached the queue
func (s *GenerationService) abort(ctx context.Context, jobID, reason string) {
	if _, err := s.FailJob(ctx, jobID, reason); err != nil {
		log.Printf("[Generation] Failed to abort job %s: %v", jobID, err)
	}
}

// refundJob returns the job's cost. On failure the refunded flag is
// cleared so a later attempt can retry it.
func (s *GenerationService) refundJob(ctx context.Context, job *model.Job, cause string) bool {
	if err := s.biller.Refund(ctx, job.UserID, job.Cost, job.ID, cause); err != nil {
		log.Printf("[Generation] Refund for job %s failed: %v", job.ID, err)
		_, _ = s.jobs.Update(ctx, job.ID, func(j *model.Job) error {
			j.Refunded = false
			return nil
		})
		return false
	}
	log.Printf("[Generation] Refunded %d credits to %s for job %s", job.Cost, job.UserID, job.ID)
	return true
}

func (s *GenerationService) refund(ctx context.Context, userID string, amount int64, jobID, cause string) {
	if amount <= 0 {
		return
	}
	if err := s.biller.Refund(ctx, userID, amount, jobID, cause); err != nil {
		log.Printf("[Generation] Refund for job %s failed: %v", jobID, err)
	}
}

func newGenerationTask(jobID string, payload []byte) (*asynq.Task, error) {
	data, err := json.Marshal(GenerationTask{JobID: jobID, Payload: payload})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGeneration, data), nil
}
