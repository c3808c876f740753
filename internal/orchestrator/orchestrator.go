// Package orchestrator sequences the studio agents for one user message:
// the producer proposes an action, specialists may refine lyrics or art,
// and the critic gates every configuration before it reaches the caller.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/makeasinger/studio/internal/agent"
	"github.com/makeasinger/studio/internal/model"
)

const criticWarningPrefix = "Critic Warning: "

// IsApproved reports whether a critic verdict passes the gate. Any text
// without the approval token is a rejection.
func IsApproved(verdict string) bool {
	return strings.Contains(strings.ToUpper(verdict), agent.ApprovalToken)
}

// Emitter receives stream events in order. It is called synchronously from
// the run's goroutine.
type Emitter func(model.StreamEvent)

// Config controls run behavior
type Config struct {
	// Specialists hands lyric and art requests from the producer to the
	// lyricist and visualizer
	Specialists  bool
	PhaseTimeout time.Duration
	RunTimeout   time.Duration
}

// Orchestrator runs agent phases. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	roster *agent.Roster
	cfg    Config
}

// New creates an orchestrator
func New(roster *agent.Roster, cfg Config) *Orchestrator {
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = 60 * time.Second
	}
	return &Orchestrator{roster: roster, cfg: cfg}
}

// Run processes one user message and always returns exactly one Action
func (o *Orchestrator) Run(ctx context.Context, userInput string, emit Emitter) model.Action {
	return o.RunWithHistory(ctx, userInput, nil, emit)
}

// RunWithHistory is Run with prior chat turns passed to the producer
func (o *Orchestrator) RunWithHistory(ctx context.Context, userInput string, history []model.ChatTurn, emit Emitter) model.Action {
	final, _ := o.run(ctx, userInput, history, emit)
	return final
}

func (o *Orchestrator) run(ctx context.Context, userInput string, history []model.ChatTurn, emit Emitter) (model.Action, *model.OrchestrationRun) {
	if emit == nil {
		emit = func(model.StreamEvent) {}
	}
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	r := &run{
		o:    o,
		ctx:  ctx,
		emit: emit,
		state: &model.OrchestrationRun{
			ID:        uuid.New().String(),
			UserInput: userInput,
			Phase:     model.PhaseProducing,
			History:   []model.RunPhase{model.PhaseProducing},
			StartedAt: time.Now(),
		},
	}

	final := r.execute(history)
	r.finish(final)
	return final, r.state
}

type run struct {
	o     *Orchestrator
	ctx   context.Context
	emit  Emitter
	state *model.OrchestrationRun
	seq   int
}

func (r *run) execute(history []model.ChatTurn) model.Action {
	input := r.state.UserInput
	roster := r.o.roster

	r.status(model.StepProducer, "Producer is thinking...")
	out, err := r.invoke(roster.Producer, agent.ProducerInstruction(input, history))
	if err != nil {
		return r.fail(fmt.Errorf("producer: %w", err))
	}
	if !out.IsAction() {
		return r.fail(fmt.Errorf("producer: %w: no tool call made", agent.ErrMalformedOutput))
	}
	produced := out.Action
	r.state.ProducedAction = produced
	r.result(model.StepProducer, produced)

	switch a := produced.(type) {
	case model.Configure:
		r.transition(model.PhaseCritiquing)
		return r.critique(a)

	case model.UpdateLyrics:
		if r.o.cfg.Specialists {
			r.transition(model.PhaseSpecializing)
			return r.specialize(roster.Lyricist, model.StepLyricist, model.ActionUpdateLyrics,
				agent.LyricistInstruction(input, a.Lyrics))
		}

	case model.GenerateCoverArt:
		if r.o.cfg.Specialists {
			r.transition(model.PhaseSpecializing)
			return r.specialize(roster.Visualizer, model.StepVisualizer, model.ActionGenerateCoverArt,
				agent.VisualizerInstruction(input, a.Description))
		}
	}

	r.transition(model.PhaseDone)
	return produced
}

var stepLabels = map[string]string{
	model.StepLyricist:   "Lyricist",
	model.StepVisualizer: "Visualizer",
}

// specialize replaces the producer's draft with the specialist's action.
// The result is never critiqued.
func (r *run) specialize(a *agent.Agent, step string, want model.ActionKind, instruction string) model.Action {
	r.status(step, stepLabels[step]+" is working...")

	out, err := r.invoke(a, instruction)
	if err != nil {
		return r.fail(fmt.Errorf("%s: %w", step, err))
	}
	if !out.IsAction() || out.Action.Kind() != want {
		return r.fail(fmt.Errorf("%s: %w: expected %s", step, agent.ErrMalformedOutput, want))
	}

	r.result(step, out.Action)
	r.transition(model.PhaseDone)
	return out.Action
}

// critique gates a configuration. Any failure rejects it.
func (r *run) critique(cfg model.Configure) model.Action {
	r.status(model.StepCritic, "Critic is reviewing...")

	var verdict string
	out, err := r.invoke(r.o.roster.Critic, agent.CriticInstruction(r.state.UserInput, cfg))
	switch {
	case err != nil:
		log.Printf("[Orchestrator] Run %s: critic failed: %v", r.state.ID, err)
		verdict = "the critic could not review these settings, please try again."
	case out.IsAction() || out.Text == "":
		verdict = "the critic returned an unreadable verdict, please try again."
	default:
		verdict = out.Text
	}
	r.state.Verdict = &verdict

	approved := err == nil && !out.IsAction() && IsApproved(out.Text)
	r.phaseEvent(model.StreamEvent{
		Type:     model.StreamEventVerdict,
		Step:     model.StepCritic,
		Message:  verdict,
		Approved: &approved,
	})

	r.transition(model.PhaseDone)
	if approved {
		return cfg
	}
	return model.CritiqueWarning{Message: criticWarningPrefix + verdict}
}

func (r *run) invoke(a *agent.Agent, instruction string) (agent.RawOutput, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.o.cfg.PhaseTimeout)
	defer cancel()

	return a.InvokeFor(ctx, r.state.UserInput, instruction)
}

func (r *run) fail(err error) model.Action {
	log.Printf("[Orchestrator] Run %s failed in %s: %v", r.state.ID, r.state.Phase, err)
	r.transition(model.PhaseFailed)
	return model.ErrorAction{
		Message:        err.Error(),
		FallbackPrompt: r.state.UserInput,
	}
}

var transitions = map[model.RunPhase][]model.RunPhase{
	model.PhaseProducing:    {model.PhaseSpecializing, model.PhaseCritiquing, model.PhaseDone, model.PhaseFailed},
	model.PhaseSpecializing: {model.PhaseDone, model.PhaseFailed},
	model.PhaseCritiquing:   {model.PhaseDone, model.PhaseFailed},
}

func canTransition(from, to model.RunPhase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func (r *run) transition(to model.RunPhase) {
	from := r.state.Phase
	if !canTransition(from, to) {
		log.Printf("[Orchestrator] Run %s: illegal transition %s -> %s", r.state.ID, from, to)
		to = model.PhaseFailed
		if from.Terminal() {
			return
		}
	}
	r.state.Phase = to
	r.state.History = append(r.state.History, to)
}

func (r *run) status(step, message string) {
	r.phaseEvent(model.StreamEvent{Type: model.StreamEventStatus, Step: step, Message: message})
}

func (r *run) result(step string, a model.Action) {
	env, err := model.EnvelopeOf(a)
	if err != nil {
		return
	}
	r.phaseEvent(model.StreamEvent{Type: model.StreamEventResult, Step: step, Data: env})
}

// phaseEvent forwards intermediate progress until the caller goes away
func (r *run) phaseEvent(ev model.StreamEvent) {
	if r.ctx.Err() != nil {
		return
	}
	r.send(ev)
}

func (r *run) send(ev model.StreamEvent) {
	r.seq++
	ev.Seq = r.seq
	ev.RunID = r.state.ID
	r.emit(ev)
}

// finish emits the single terminal event
func (r *run) finish(final model.Action) {
	env, err := model.EnvelopeOf(final)
	if err != nil {
		env = &model.ActionEnvelope{
			Action:   model.ActionError,
			Message:  err.Error(),
			Fallback: &model.ActionFallback{Prompt: r.state.UserInput},
		}
	}
	log.Printf("[Orchestrator] Run %s finished: %s via %v", r.state.ID, env.Action, r.state.History)
	r.send(model.StreamEvent{Type: model.StreamEventPlan, Step: model.StepFinal, Plan: env})
}
