package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/tools"
)

// LLMClient handles communication with an OpenAI-compatible
// chat completions API (Groq hosted or a local Ollama server)
type LLMClient struct {
	httpClient *http.Client
	provider   string
	baseURL    string
	apiKey     string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []ChatMessage      `json:"messages"`
	Tools       []tools.Definition `json:"tools,omitempty"`
	ToolChoice  string             `json:"tool_choice,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type responseToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string             `json:"role"`
			Content   string             `json:"content"`
			ToolCalls []responseToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// CompletionRequest is one agent turn
type CompletionRequest struct {
	Model   string
	System  string
	History []ChatMessage
	User    string
	Tools   []tools.Definition
}

// Completion is the model's reply: free text, tool calls, or both
type Completion struct {
	Content   string
	ToolCalls []model.ToolCall
}

// NewLLMClient creates a new chat completions client
func NewLLMClient(cfg *config.ModelConfig) *LLMClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
	}
}

// Complete sends a chat completion request
func (c *LLMClient) Complete(ctx context.Context, in CompletionRequest) (*Completion, error) {
	messages := make([]ChatMessage, 0, len(in.History)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: in.System})
	messages = append(messages, in.History...)
	messages = append(messages, ChatMessage{Role: "user", Content: in.User})

	reqBody := ChatCompletionRequest{
		Model:       in.Model,
		Messages:    messages,
		Tools:       in.Tools,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
	if len(in.Tools) > 0 {
		reqBody.ToolChoice = "auto"
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error (status %d): %s", c.provider, resp.StatusCode, string(respBody))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	msg := chatResp.Choices[0].Message
	out := &Completion{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// IsConfigured returns true if the client can reach a model. Ollama runs
// without an API key.
func (c *LLMClient) IsConfigured() bool {
	switch c.provider {
	case config.ProviderOllama:
		return c.baseURL != ""
	case config.ProviderGroq:
		return c.baseURL != "" && c.apiKey != ""
	default:
		return false
	}
}
