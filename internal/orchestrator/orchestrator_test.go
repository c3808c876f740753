package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/agent"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/memory"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/tools"
)

type reply struct {
	completion *client.Completion
	err        error
	block      bool
}

// roleModel answers per role, keyed by the model id bound in the roster
type roleModel struct {
	mu      sync.Mutex
	replies map[model.AgentRole]reply
	calls   map[model.AgentRole]int
	onCall  func(role model.AgentRole)
}

func newRoleModel(replies map[model.AgentRole]reply) *roleModel {
	return &roleModel{replies: replies, calls: make(map[model.AgentRole]int)}
}

func (m *roleModel) Complete(ctx context.Context, req client.CompletionRequest) (*client.Completion, error) {
	role := model.AgentRole(req.Model)
	m.mu.Lock()
	m.calls[role]++
	r, ok := m.replies[role]
	onCall := m.onCall
	m.mu.Unlock()

	if onCall != nil {
		onCall(role)
	}
	if !ok {
		return nil, errors.New("no reply scripted for " + string(role))
	}
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.completion, r.err
}

func (m *roleModel) callCount(role model.AgentRole) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[role]
}

func call(name string, args interface{}) reply {
	data, _ := json.Marshal(args)
	return reply{completion: &client.Completion{ToolCalls: []model.ToolCall{{Name: name, Arguments: data}}}}
}

func text(s string) reply {
	return reply{completion: &client.Completion{Content: s}}
}

func configureCall(prompt string, steps int) reply {
	return call(tools.NameConfigureStudio, map[string]interface{}{
		"prompt": prompt, "steps": steps, "cfg_scale": 7.0, "duration": 60,
	})
}

func newOrchestrator(llm agent.Model, cfg Config) *Orchestrator {
	ids := agent.ModelIDs{}
	for _, role := range model.ValidAgentRoles {
		ids[role] = string(role)
	}
	return New(agent.NewRoster(llm, ids, tools.NewContract(""), nil), cfg)
}

type recorder struct {
	mu     sync.Mutex
	events []model.StreamEvent
}

func (r *recorder) emit(ev model.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) shape() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type+":"+ev.Step)
	}
	return out
}

func assertSingleTerminal(t *testing.T, rec *recorder) model.StreamEvent {
	t.Helper()
	plans := 0
	for i, ev := range rec.events {
		assert.Equal(t, i+1, ev.Seq)
		if ev.Type == model.StreamEventPlan {
			plans++
		}
	}
	require.Equal(t, 1, plans)
	last := rec.events[len(rec.events)-1]
	require.Equal(t, model.StreamEventPlan, last.Type)
	require.NotNil(t, last.Plan)
	return last
}

func TestApprovedConfigurePassesThroughUnchanged(t *testing.T) {
	prompt := "warm lofi hip hop with dusty vinyl crackle, mellow rhodes chords and soft brushed drums"
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: configureCall(prompt, 60),
		model.RoleCritic:   text("approved"),
	})
	o := newOrchestrator(llm, Config{})
	rec := &recorder{}

	final, state := o.run(context.Background(), "lofi beat", nil, rec.emit)

	cfg, ok := final.(model.Configure)
	require.True(t, ok)
	assert.Equal(t, prompt, cfg.Prompt)
	assert.Equal(t, 60, cfg.Steps)

	assert.Equal(t, []model.RunPhase{model.PhaseProducing, model.PhaseCritiquing, model.PhaseDone}, state.History)
	assert.Equal(t, []string{
		"status:producer", "result:producer", "status:critic", "verdict:critic", "plan:final",
	}, rec.shape())

	verdict := rec.events[3]
	require.NotNil(t, verdict.Approved)
	assert.True(t, *verdict.Approved)

	plan := assertSingleTerminal(t, rec)
	assert.Equal(t, model.ActionConfigure, plan.Plan.Action)
}

func TestSummerSynthPopRejectedForLowSteps(t *testing.T) {
	input := "upbeat synth pop about summer"
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: configureCall("upbeat synth pop about summer with bright arpeggios", 20),
		model.RoleCritic:   text("20 steps is too low for a polished synth pop track."),
	})
	o := newOrchestrator(llm, Config{})
	rec := &recorder{}

	final, state := o.run(context.Background(), input, nil, rec.emit)

	warning, ok := final.(model.CritiqueWarning)
	require.True(t, ok, "expected CritiqueWarning, got %T", final)
	assert.Equal(t, "Critic Warning: 20 steps is too low for a polished synth pop track.", warning.Message)
	assert.Equal(t, model.PhaseDone, state.Phase)

	produced, ok := state.ProducedAction.(model.Configure)
	require.True(t, ok)
	assert.Contains(t, produced.Prompt, "synth pop")
	assert.Contains(t, produced.Prompt, "summer")

	plan := assertSingleTerminal(t, rec)
	assert.Equal(t, model.ActionCritiqueWarning, plan.Plan.Action)
	assert.Empty(t, plan.Plan.Params)
}

func TestCriticFailuresFailClosed(t *testing.T) {
	tests := []struct {
		name   string
		critic reply
	}{
		{"unavailable", reply{err: errors.New("connection refused")}},
		{"empty verdict", text("")},
		{"formatting noise", text("Looks good to me!")},
		{"tool call instead of verdict", call(tools.NameUpdateLyrics, map[string]string{"lyrics": "x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := newRoleModel(map[model.AgentRole]reply{
				model.RoleProducer: configureCall("some prompt", 50),
				model.RoleCritic:   tt.critic,
			})
			o := newOrchestrator(llm, Config{})

			final := o.Run(context.Background(), "make music", nil)
			_, ok := final.(model.CritiqueWarning)
			assert.True(t, ok, "expected CritiqueWarning, got %T", final)
		})
	}
}

func TestLyricsSkipCritique(t *testing.T) {
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: call(tools.NameUpdateLyrics, map[string]string{"lyrics": "[Verse]\nhello"}),
	})
	o := newOrchestrator(llm, Config{})
	rec := &recorder{}

	final, state := o.run(context.Background(), "write lyrics", nil, rec.emit)

	assert.Equal(t, model.UpdateLyrics{Lyrics: "[Verse]\nhello"}, final)
	assert.Equal(t, []model.RunPhase{model.PhaseProducing, model.PhaseDone}, state.History)
	assert.Equal(t, 0, llm.callCount(model.RoleCritic))
	assert.Equal(t, []string{"status:producer", "result:producer", "plan:final"}, rec.shape())
}

func TestCoverArtSkipsCritique(t *testing.T) {
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: call(tools.NameGenerateCoverArt, map[string]string{"description": "red moon"}),
	})
	o := newOrchestrator(llm, Config{})

	final := o.Run(context.Background(), "cover art", nil)
	art, ok := final.(model.GenerateCoverArt)
	require.True(t, ok)
	assert.Equal(t, "https://image.pollinations.ai/prompt/red%20moon", art.ImageURL)
	assert.Equal(t, 0, llm.callCount(model.RoleCritic))
}

func TestProducerFailuresBecomeErrorWithFallback(t *testing.T) {
	tests := []struct {
		name     string
		producer reply
	}{
		{"unavailable", reply{err: errors.New("timeout")}},
		{"no tool call", text("What genre would you like?")},
		{"unknown tool", call("delete_all", map[string]string{})},
		{"bad arguments", call(tools.NameConfigureStudio, map[string]string{"prompt": "x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := newRoleModel(map[model.AgentRole]reply{model.RoleProducer: tt.producer})
			o := newOrchestrator(llm, Config{})
			rec := &recorder{}

			final, state := o.run(context.Background(), "dreamy shoegaze", nil, rec.emit)

			errAction, ok := final.(model.ErrorAction)
			require.True(t, ok, "expected ErrorAction, got %T", final)
			assert.Equal(t, "dreamy shoegaze", errAction.FallbackPrompt)
			assert.NotEmpty(t, errAction.Message)
			assert.Equal(t, []model.RunPhase{model.PhaseProducing, model.PhaseFailed}, state.History)
			assert.Equal(t, 0, llm.callCount(model.RoleCritic))

			plan := assertSingleTerminal(t, rec)
			assert.Equal(t, model.ActionError, plan.Plan.Action)
			require.NotNil(t, plan.Plan.Fallback)
			assert.Equal(t, "dreamy shoegaze", plan.Plan.Fallback.Prompt)
		})
	}
}

func TestSpecialistsReplaceProducerDraft(t *testing.T) {
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: call(tools.NameUpdateLyrics, map[string]string{"lyrics": "draft"}),
		model.RoleLyricist: call(tools.NameUpdateLyrics, map[string]string{"lyrics": "[Verse]\npolished\n[Chorus]\nhook"}),
	})
	o := newOrchestrator(llm, Config{Specialists: true})
	rec := &recorder{}

	final, state := o.run(context.Background(), "song about trains", nil, rec.emit)

	assert.Equal(t, model.UpdateLyrics{Lyrics: "[Verse]\npolished\n[Chorus]\nhook"}, final)
	assert.Equal(t, []model.RunPhase{model.PhaseProducing, model.PhaseSpecializing, model.PhaseDone}, state.History)
	assert.Equal(t, []string{
		"status:producer", "result:producer", "status:lyricist", "result:lyricist", "plan:final",
	}, rec.shape())
	assert.Equal(t, 0, llm.callCount(model.RoleCritic))
}

type querySearcher struct {
	mu      sync.Mutex
	queries []string
}

func (s *querySearcher) Search(ctx context.Context, q memory.Query) []memory.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q.Text)
	return nil
}

func TestLyricistMemorySearchesUserInput(t *testing.T) {
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: call(tools.NameUpdateLyrics, map[string]string{"lyrics": "draft"}),
		model.RoleLyricist: call(tools.NameUpdateLyrics, map[string]string{"lyrics": "[Verse]\nfinal"}),
	})
	ids := agent.ModelIDs{}
	for _, role := range model.ValidAgentRoles {
		ids[role] = string(role)
	}
	searcher := &querySearcher{}
	o := New(agent.NewRoster(llm, ids, tools.NewContract(""), searcher), Config{Specialists: true})

	input := "lyrics for 'home'\nwith a slow bridge"
	o.Run(context.Background(), input, nil)

	assert.Equal(t, []string{input}, searcher.queries)
}

func TestVisualizerSpecialist(t *testing.T) {
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer:   call(tools.NameGenerateCoverArt, map[string]string{"description": "moon"}),
		model.RoleVisualizer: call(tools.NameGenerateCoverArt, map[string]string{"description": "giant red moon over a neon desert"}),
	})
	o := newOrchestrator(llm, Config{Specialists: true})

	final := o.Run(context.Background(), "cover", nil)
	art, ok := final.(model.GenerateCoverArt)
	require.True(t, ok)
	assert.Equal(t, "giant red moon over a neon desert", art.Description)
}

func TestSpecialistFailureBecomesError(t *testing.T) {
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: call(tools.NameUpdateLyrics, map[string]string{"lyrics": "draft"}),
		model.RoleLyricist: text("I cannot write that."),
	})
	o := newOrchestrator(llm, Config{Specialists: true})

	final, state := o.run(context.Background(), "song", nil, nil)
	errAction, ok := final.(model.ErrorAction)
	require.True(t, ok)
	assert.Equal(t, "song", errAction.FallbackPrompt)
	assert.Equal(t, model.PhaseFailed, state.Phase)
}

func TestPhaseTimeout(t *testing.T) {
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: {block: true},
	})
	o := newOrchestrator(llm, Config{PhaseTimeout: 50 * time.Millisecond})

	start := time.Now()
	final := o.Run(context.Background(), "anything", nil)
	assert.Less(t, time.Since(start), 5*time.Second)

	errAction, ok := final.(model.ErrorAction)
	require.True(t, ok)
	assert.Equal(t, "anything", errAction.FallbackPrompt)
}

func TestCancelledCallerStillGetsTerminalEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: configureCall("prompt", 50),
		model.RoleCritic:   text("APPROVED"),
	})
	// The caller disconnects while the producer is running
	llm.onCall = func(role model.AgentRole) {
		if role == model.RoleProducer {
			cancel()
		}
	}
	o := newOrchestrator(llm, Config{})
	rec := &recorder{}

	final := o.Run(ctx, "anything", rec.emit)

	require.NotNil(t, final)
	assert.Equal(t, []string{"status:producer", "plan:final"}, rec.shape())
	assertSingleTerminal(t, rec)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	llm := newRoleModel(map[model.AgentRole]reply{
		model.RoleProducer: configureCall("a b c d e f g h i j k l", 60),
		model.RoleCritic:   text("APPROVED"),
	})
	o := newOrchestrator(llm, Config{})

	var wg sync.WaitGroup
	runIDs := make([]string, 10)
	for i := range runIDs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := &recorder{}
			final := o.Run(context.Background(), "x", rec.emit)
			assert.Equal(t, model.ActionConfigure, final.Kind())
			runIDs[i] = rec.events[0].RunID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range runIDs {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestIsApproved(t *testing.T) {
	assert.True(t, IsApproved("APPROVED"))
	assert.True(t, IsApproved("approved."))
	assert.True(t, IsApproved("Verdict: Approved"))
	assert.False(t, IsApproved(""))
	assert.False(t, IsApproved("Looks great"))
	assert.False(t, IsApproved("APPROVE"))
}

func TestWithMockModelEndToEnd(t *testing.T) {
	o := newOrchestrator(agent.NewMockModel(), Config{})
	rec := &recorder{}

	// The mock producer expands short prompts past ten words and uses 50 steps
	final := o.Run(context.Background(), "dark techno", rec.emit)
	assert.Equal(t, model.ActionConfigure, final.Kind())
	assertSingleTerminal(t, rec)
}
