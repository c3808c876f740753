package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/tools"
)

// MockModel is a deterministic stand-in used when no model provider is
// configured. The role is inferred from the tools offered.
type MockModel struct{}

// NewMockModel creates a mock model
func NewMockModel() *MockModel {
	return &MockModel{}
}

var (
	lyricWords = []string{"lyric", "lyrics", "verse", "chorus", "bridge", "words"}
	artWords   = []string{"art", "artwork", "cover", "image", "picture", "poster", "visual"}

	secondsPattern = regexp.MustCompile(`(\d+)\s*(s|sec|secs|second|seconds)\b`)
	minutesPattern = regexp.MustCompile(`(\d+)\s*(m|min|mins|minute|minutes)\b`)
)

func (m *MockModel) Complete(ctx context.Context, req client.CompletionRequest) (*client.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	offered := make(map[string]bool, len(req.Tools))
	for _, d := range req.Tools {
		offered[d.Function.Name] = true
	}
	input := userRequest(req.User)

	switch {
	case offered[tools.NameConfigureStudio]:
		return m.produce(input), nil
	case offered[tools.NameUpdateLyrics]:
		return mockCall(tools.NameUpdateLyrics, map[string]interface{}{"lyrics": mockLyrics(input)}), nil
	case offered[tools.NameGenerateCoverArt]:
		return mockCall(tools.NameGenerateCoverArt, map[string]interface{}{"description": mockArt(input)}), nil
	default:
		return &client.Completion{Content: mockVerdict(req.User)}, nil
	}
}

func (m *MockModel) produce(input string) *client.Completion {
	ws := wordSet(input)

	if ws.any(lyricWords) {
		return mockCall(tools.NameUpdateLyrics, map[string]interface{}{"lyrics": mockLyrics(input)})
	}
	if ws.any(artWords) {
		return mockCall(tools.NameGenerateCoverArt, map[string]interface{}{"description": mockArt(input)})
	}

	prompt := strings.TrimSpace(input)
	if len(strings.Fields(prompt)) <= 10 {
		prompt += ", rich layered production, warm analog synths, punchy drums, wide stereo mix"
	}
	return mockCall(tools.NameConfigureStudio, map[string]interface{}{
		"prompt":    prompt,
		"steps":     50,
		"cfg_scale": 7.0,
		"duration":  mockDuration(input),
	})
}

func mockCall(name string, args map[string]interface{}) *client.Completion {
	data, _ := json.Marshal(args)
	return &client.Completion{
		ToolCalls: []model.ToolCall{{ID: "mock-call", Name: name, Arguments: data}},
	}
}

func mockDuration(input string) float64 {
	lower := strings.ToLower(input)
	if m := secondsPattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return float64(n)
	}
	if m := minutesPattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return float64(n * 60)
	}
	return 60
}

func mockLyrics(input string) string {
	topic := strings.TrimSpace(input)
	if topic == "" {
		topic = "tonight"
	}
	return fmt.Sprintf("[Verse]\nWalking through the city lights\nThinking about %s\n\n"+
		"[Chorus]\nWe sing it loud, we sing it clear\n%s, the moment's here\n\n"+
		"[Bridge]\nHold on, hold on\nThe night is young", topic, topic)
}

func mockArt(input string) string {
	return fmt.Sprintf("Album cover inspired by %s, vibrant palette, cinematic lighting, digital art",
		strings.TrimSpace(input))
}

// mockVerdict applies the critic checklist to the proposed settings
func mockVerdict(instruction string) string {
	idx := strings.Index(instruction, "Proposed Settings:")
	if idx == -1 {
		return ApprovalToken
	}
	raw := extractJSON(instruction[idx:])

	var cfg model.Configure
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return "The proposed settings could not be read."
	}

	if cfg.Steps < 50 {
		return fmt.Sprintf("Only %d steps is too low for a polished track; use at least 50.", cfg.Steps)
	}
	if len(strings.Fields(cfg.Prompt)) <= 10 {
		return "The prompt is too vague; describe genre, instruments and mood in more detail."
	}
	return ApprovalToken
}

type wordBag map[string]bool

func wordSet(s string) wordBag {
	out := make(wordBag)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		out[w] = true
	}
	return out
}

func (w wordBag) any(list []string) bool {
	for _, item := range list {
		if w[item] {
			return true
		}
	}
	return false
}
