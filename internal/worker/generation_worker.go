package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/memory"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/service"
)

const codeGenerationFailed = "GENERATION_FAILED"

// Notifier pushes job updates to subscribers. *websocket.Hub satisfies it.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result *model.GenerateResultResponse)
	BroadcastError(jobID, code, message string, refunded bool)
}

// Indexer stores successful outputs for later retrieval
type Indexer interface {
	Index(ctx context.Context, content, contentType string, metadata map[string]string) bool
}

// Options tunes polling and the mock pipeline
type Options struct {
	PollInterval  time.Duration
	MaxWait       time.Duration
	MockStepDelay time.Duration
}

// GenerationWorker processes paid generation jobs
type GenerationWorker struct {
	service   *service.GenerationService
	generator client.MusicGenerator
	storage   client.StorageClient
	notifier  Notifier
	indexer   Indexer
	opts      Options
}

// NewGenerationWorker creates a worker. generator and storage may be nil;
// a nil generator switches to mock processing.
func NewGenerationWorker(svc *service.GenerationService, generator client.MusicGenerator, storage client.StorageClient, notifier Notifier, indexer Indexer, opts Options) *GenerationWorker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Minute
	}
	if indexer == nil {
		indexer = memory.Noop{}
	}
	return &GenerationWorker{
		service:   svc,
		generator: generator,
		storage:   storage,
		notifier:  notifier,
		indexer:   indexer,
		opts:      opts,
	}
}

// ProcessTask handles generation task processing. Failures after the job
// is loaded are terminal: the job is failed, refunded and not retried.
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task service.GenerationTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	jobID := task.JobID

	job, err := w.service.Job(ctx, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return fmt.Errorf("job %s: %v: %w", jobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.Finished() {
		log.Printf("[Worker] Job %s is %s, skipping", jobID, job.Status)
		return nil
	}
	if job.Status == model.JobStatusRunning {
		w.service.IncrementRetry(ctx, jobID)
	}

	log.Printf("[Worker] Starting generation job: %s", jobID)

	var payload model.GenerationJobPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, "Invalid payload")
		return fmt.Errorf("failed to unmarshal generation payload: %v: %w", err, asynq.SkipRetry)
	}

	if w.generator == nil || !w.generator.IsConfigured() {
		return w.processWithMock(ctx, jobID, &payload)
	}
	return w.processWithGenerator(ctx, jobID, &payload)
}

func (w *GenerationWorker) processWithGenerator(ctx context.Context, jobID string, payload *model.GenerationJobPayload) error {
	if !w.updateProgress(ctx, jobID, 5, "Submitting to generator...") {
		return nil
	}

	remoteID, err := w.generator.Submit(ctx, &client.GeneratorRequest{
		Prompt:     payload.Prompt,
		Lyrics:     payload.Lyrics,
		Duration:   payload.Duration,
		InferSteps: payload.Steps,
		CFGScale:   payload.CFGScale,
		Seed:       payload.Seed,
	})
	if err != nil {
		return w.terminal(ctx, jobID, fmt.Sprintf("Generation request failed: %v", err), err)
	}

	pollCtx, stop := context.WithCancel(ctx)
	defer stop()
	canceled := false

	status, err := client.PollStatus(pollCtx, w.generator, remoteID, w.opts.PollInterval, w.opts.MaxWait,
		func(s *client.GeneratorStatus) {
			step := s.Message
			if step == "" {
				step = "Generating music..."
			}
			if !w.updateProgress(ctx, jobID, 10+int(s.Progress*80), step) {
				canceled = true
				stop()
			}
		})
	if canceled {
		log.Printf("[Worker] Job %s canceled during generation", jobID)
		return nil
	}
	if err != nil {
		return w.terminal(ctx, jobID, fmt.Sprintf("Generation failed: %v", err), err)
	}
	if len(status.Result) == 0 {
		err := errors.New("generator returned no audio")
		return w.terminal(ctx, jobID, "Generation failed: no audio returned", err)
	}

	if !w.updateProgress(ctx, jobID, 92, "Storing audio...") {
		return nil
	}
	files, err := w.storeFiles(ctx, jobID, payload.UserID, status.Result)
	if err != nil {
		return w.terminal(ctx, jobID, fmt.Sprintf("Upload failed: %v", err), err)
	}

	return w.complete(ctx, jobID, payload, files)
}

// processWithMock walks a fixed pipeline for development
func (w *GenerationWorker) processWithMock(ctx context.Context, jobID string, payload *model.GenerationJobPayload) error {
	steps := []struct {
		progress int
		step     string
	}{
		{10, "Encoding prompt..."},
		{30, "Diffusing latent audio..."},
		{60, "Refining details..."},
		{85, "Decoding waveform..."},
		{95, "Finalizing..."},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			log.Printf("[Worker] Job %s interrupted", jobID)
			return ctx.Err()
		}

		if !w.updateProgress(ctx, jobID, step.progress, step.step) {
			return nil
		}
		if w.opts.MockStepDelay > 0 {
			timer := time.NewTimer(w.opts.MockStepDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Printf("[Worker] Job %s interrupted", jobID)
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	files := []string{fmt.Sprintf("https://cdn.makeasinger.com/generations/%s/%s.wav", payload.UserID, jobID)}
	return w.complete(ctx, jobID, payload, files)
}

func (w *GenerationWorker) complete(ctx context.Context, jobID string, payload *model.GenerationJobPayload, files []string) error {
	result := &model.GenerateResultResponse{
		ID:        jobID,
		Prompt:    payload.Prompt,
		Duration:  payload.Duration,
		Files:     files,
		CreatedAt: time.Now(),
	}

	if err := w.service.CompleteJob(ctx, jobID, result); err != nil {
		if errors.Is(err, service.ErrJobFinished) {
			log.Printf("[Worker] Job %s finished elsewhere, result discarded", jobID)
			return nil
		}
		return w.terminal(ctx, jobID, "Failed to save result", err)
	}

	meta := map[string]string{model.MetaJobID: jobID, "userId": payload.UserID}
	w.indexer.Index(ctx, payload.Prompt, memory.ContentAudioPrompt, meta)
	if payload.Lyrics != "" {
		w.indexer.Index(ctx, payload.Lyrics, memory.ContentLyrics, meta)
	}

	w.notifier.BroadcastComplete(jobID, result)
	log.Printf("[Worker] Generation job %s completed", jobID)
	return nil
}

// storeFiles copies generator output to storage when it is configured
func (w *GenerationWorker) storeFiles(ctx context.Context, jobID, userID string, refs []string) ([]string, error) {
	files := make([]string, 0, len(refs))
	for i, ref := range refs {
		src := w.generator.ResultURL(ref)
		if w.storage == nil {
			files = append(files, src)
			continue
		}

		ext := path.Ext(ref)
		if ext == "" {
			ext = ".wav"
		}
		key := fmt.Sprintf("generations/%s/%s/%d%s", userID, jobID, i, ext)
		url, err := w.storage.Mirror(ctx, key, src)
		if err != nil {
			return nil, err
		}
		files = append(files, url)
	}
	return files, nil
}

// updateProgress reports false once the job was canceled
func (w *GenerationWorker) updateProgress(ctx context.Context, jobID string, progress int, step string) bool {
	if err := w.service.UpdateJobProgress(ctx, jobID, progress, step); err != nil {
		if errors.Is(err, service.ErrJobFinished) {
			return false
		}
		log.Printf("[Worker] Failed to update progress for job %s: %v", jobID, err)
	}
	w.notifier.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
	return true
}

func (w *GenerationWorker) terminal(ctx context.Context, jobID, message string, cause error) error {
	w.failJob(ctx, jobID, message)
	return fmt.Errorf("job %s: %v: %w", jobID, cause, asynq.SkipRetry)
}

func (w *GenerationWorker) failJob(ctx context.Context, jobID, message string) {
	refunded, err := w.service.FailJob(ctx, jobID, message)
	if err != nil {
		if errors.Is(err, service.ErrJobFinished) {
			return
		}
		log.Printf("[Worker] Failed to mark job %s as failed: %v", jobID, err)
	}
	w.notifier.BroadcastError(jobID, codeGenerationFailed, message, refunded)
}
