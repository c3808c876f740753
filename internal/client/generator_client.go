package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/makeasinger/studio/internal/config"
)

// Generator job states reported by the audio server
const (
	GeneratorQueued     = "queued"
	GeneratorProcessing = "processing"
	GeneratorCompleted  = "completed"
	GeneratorFailed     = "failed"
)

// MusicGenerator submits text-to-music jobs to the audio server
type MusicGenerator interface {
	Submit(ctx context.Context, req *GeneratorRequest) (string, error)
	Status(ctx context.Context, jobID string) (*GeneratorStatus, error)
	ResultURL(ref string) string
	IsConfigured() bool
}

// GeneratorClient talks to the ACE-Step style /generate + /status API
type GeneratorClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// GeneratorRequest is the body for POST /generate
type GeneratorRequest struct {
	Prompt     string  `json:"prompt"`
	Lyrics     string  `json:"lyrics,omitempty"`
	Duration   float64 `json:"duration"`
	InferSteps int     `json:"infer_steps"`
	CFGScale   float64 `json:"guidance_scale,omitempty"`
	Seed       *int64  `json:"seed,omitempty"`
}

type generatorSubmitResponse struct {
	JobID string `json:"job_id"`
}

// GeneratorStatus is the body of GET /status/{id}. Progress is 0..1.
type GeneratorStatus struct {
	JobID    string   `json:"job_id"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Message  string   `json:"message"`
	Result   []string `json:"result"`
}

// NewGeneratorClient creates a new generator API client
func NewGeneratorClient(cfg *config.GeneratorConfig) *GeneratorClient {
	return &GeneratorClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// Submit queues a generation and returns the server's job id
func (c *GeneratorClient) Submit(ctx context.Context, req *GeneratorRequest) (string, error) {
	var resp generatorSubmitResponse
	if err := c.post(ctx, "/generate", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("generator returned no job id")
	}
	return resp.JobID, nil
}

// Status retrieves a job's state
func (c *GeneratorClient) Status(ctx context.Context, jobID string) (*GeneratorStatus, error) {
	var result GeneratorStatus
	if err := c.get(ctx, "/status/"+jobID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResultURL turns a result entry into a fetchable URL. The server reports
// either absolute URLs or paths relative to its own root.
func (c *GeneratorClient) ResultURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.baseURL + "/" + strings.TrimLeft(ref, "/")
}

// IsConfigured returns true if a generator server is set
func (c *GeneratorClient) IsConfigured() bool {
	return c.baseURL != ""
}

func (c *GeneratorClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *GeneratorClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *GeneratorClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Generator API] %s %s failed: %v", req.Method, req.URL.Path, err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Generator API] %d %s %s: %s", resp.StatusCode, req.Method, req.URL.Path, string(respBody))
		return fmt.Errorf("generator API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// PollStatus polls until the job completes or fails. onProgress is called
// after every successful poll.
func PollStatus(ctx context.Context, gen MusicGenerator, jobID string, interval, maxWait time.Duration, onProgress func(*GeneratorStatus)) (*GeneratorStatus, error) {
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		status, err := gen.Status(ctx, jobID)
		if err != nil {
			log.Printf("[Generator API] Poll #%d (job=%s) error: %v", attempt, jobID, err)
			return nil, err
		}

		if onProgress != nil {
			onProgress(status)
		}

		switch status.Status {
		case GeneratorCompleted:
			return status, nil
		case GeneratorFailed:
			return nil, fmt.Errorf("generation failed: %s", status.Message)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return nil, fmt.Errorf("generation timed out after %v", maxWait)
}
