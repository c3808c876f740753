// Package agent wraps a chat-completions model with a fixed role
// description and an allow-list of studio tools.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/memory"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/tools"
)

// ErrAgentUnavailable is returned when the model endpoint is unreachable or
// the call times out
var ErrAgentUnavailable = errors.New("agent unavailable")

// ErrMalformedOutput is returned when the model calls an unauthorized tool,
// calls more than one, or sends arguments that do not parse
var ErrMalformedOutput = tools.ErrMalformedOutput

// Model is the chat-completions endpoint an agent talks to
type Model interface {
	Complete(ctx context.Context, req client.CompletionRequest) (*client.Completion, error)
}

// RawOutput is either an Action or free text, never both
type RawOutput struct {
	Action model.Action
	Text   string
}

// IsAction reports whether the model produced a tool call
func (o RawOutput) IsAction() bool {
	return o.Action != nil
}

// Agent is a single role-bound model worker. It keeps no state between
// invocations.
type Agent struct {
	role        model.AgentRole
	modelID     string
	description string
	allowed     []string
	llm         Model
	contract    *tools.Contract
	memory      memory.Searcher
}

// Role returns the agent's role
func (a *Agent) Role() model.AgentRole {
	return a.role
}

// ModelID returns the model the agent was bound to at start
func (a *Agent) ModelID() string {
	return a.modelID
}

// Invoke sends one instruction to the model and normalizes the reply.
// Memory lookups use the request embedded in the instruction; callers that
// hold the user's text should use InvokeFor.
func (a *Agent) Invoke(ctx context.Context, instruction string) (RawOutput, error) {
	return a.InvokeFor(ctx, userRequest(instruction), instruction)
}

// InvokeFor is Invoke with the user's raw input, which drives memory lookups
func (a *Agent) InvokeFor(ctx context.Context, userInput, instruction string) (RawOutput, error) {
	if a.memory != nil {
		instruction = a.withLyricContext(ctx, userInput, instruction)
	}

	resp, err := a.llm.Complete(ctx, client.CompletionRequest{
		Model:  a.modelID,
		System: a.description,
		User:   instruction,
		Tools:  tools.Definitions(a.allowed...),
	})
	if err != nil {
		return RawOutput{}, fmt.Errorf("%w: %s: %v", ErrAgentUnavailable, a.role, err)
	}

	switch len(resp.ToolCalls) {
	case 0:
	case 1:
		action, err := a.parse(resp.ToolCalls[0])
		if err != nil {
			return RawOutput{}, err
		}
		return RawOutput{Action: action}, nil
	default:
		return RawOutput{}, fmt.Errorf("%w: %s made %d tool calls", ErrMalformedOutput, a.role, len(resp.ToolCalls))
	}

	// Small local models often write the tool call as JSON text instead
	if len(a.allowed) > 0 {
		if call, ok := callFromText(resp.Content); ok {
			action, err := a.parse(call)
			if err != nil {
				return RawOutput{}, err
			}
			return RawOutput{Action: action}, nil
		}
	}

	return RawOutput{Text: strings.TrimSpace(resp.Content)}, nil
}

func (a *Agent) parse(call model.ToolCall) (model.Action, error) {
	if !a.authorized(call.Name) {
		return nil, fmt.Errorf("%w: %s is not allowed to call %q", ErrMalformedOutput, a.role, call.Name)
	}
	return a.contract.Parse(call)
}

func (a *Agent) authorized(name string) bool {
	for _, n := range a.allowed {
		if n == name {
			return true
		}
	}
	return false
}

// withLyricContext prepends prior successful lyrics to the instruction.
// No results means no context block.
func (a *Agent) withLyricContext(ctx context.Context, query, instruction string) string {
	results := a.memory.Search(ctx, memory.Query{
		Text:        query,
		ContentType: memory.ContentLyrics,
		Limit:       memory.DefaultLimit,
		Threshold:   memory.DefaultThreshold,
	})
	if len(results) == 0 {
		return instruction
	}

	log.Printf("[Agent] %s found %d lyric references", a.role, len(results))

	var b strings.Builder
	b.WriteString("Found these successful lyric snippets:\n")
	for i, r := range results {
		if i == memory.DefaultLimit {
			break
		}
		fmt.Fprintf(&b, "- ...%s... (Similarity: %.2f)\n", snippet(r.Content, 200), r.Similarity)
	}
	b.WriteString("\n")
	b.WriteString(instruction)
	return b.String()
}

// Tool JSON written as text. Both the call form {"name","arguments"} and
// the result form {"action","params"} are accepted.
type textEnvelope struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params"`
}

var actionTools = map[string]string{
	string(model.ActionConfigure):        tools.NameConfigureStudio,
	string(model.ActionUpdateLyrics):     tools.NameUpdateLyrics,
	string(model.ActionGenerateCoverArt): tools.NameGenerateCoverArt,
}

func callFromText(text string) (model.ToolCall, bool) {
	raw := extractJSON(text)
	if raw == "" {
		return model.ToolCall{}, false
	}

	var env textEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return model.ToolCall{}, false
	}

	if env.Name != "" && len(env.Arguments) > 0 {
		return model.ToolCall{Name: env.Name, Arguments: env.Arguments}, true
	}
	if env.Action != "" && len(env.Params) > 0 {
		name, ok := actionTools[env.Action]
		if !ok {
			name = env.Action
		}
		return model.ToolCall{Name: name, Arguments: env.Params}, true
	}
	return model.ToolCall{}, false
}

// extractJSON returns the outermost {...} span of s, or ""
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return ""
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
