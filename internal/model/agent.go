package model

import "time"

// AgentRole names one of the model-backed studio workers
type AgentRole string

const (
	RoleProducer   AgentRole = "producer"
	RoleCritic     AgentRole = "critic"
	RoleLyricist   AgentRole = "lyricist"
	RoleVisualizer AgentRole = "visualizer"
)

var ValidAgentRoles = []AgentRole{
	RoleProducer, RoleCritic, RoleLyricist, RoleVisualizer,
}

// RunPhase is the orchestration state of a single run
type RunPhase string

const (
	PhaseProducing    RunPhase = "producing"
	PhaseSpecializing RunPhase = "specializing"
	PhaseCritiquing   RunPhase = "critiquing"
	PhaseDone         RunPhase = "done"
	PhaseFailed       RunPhase = "failed"
)

// Terminal reports whether no further transition is allowed
func (p RunPhase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// OrchestrationRun is one end-to-end execution for a single user message.
// It is never persisted.
type OrchestrationRun struct {
	ID             string     `json:"id"`
	UserInput      string     `json:"userInput"`
	Phase          RunPhase   `json:"phase"`
	History        []RunPhase `json:"history"`
	ProducedAction Action     `json:"-"`
	Verdict        *string    `json:"verdict,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
}

// Stream event types
const (
	StreamEventStatus  = "status"
	StreamEventResult  = "result"
	StreamEventVerdict = "verdict"
	StreamEventPlan    = "plan"
)

// Stream event steps
const (
	StepProducer   = "producer"
	StepCritic     = "critic"
	StepLyricist   = "lyricist"
	StepVisualizer = "visualizer"
	StepFinal      = "final"
)

// StreamEvent is one line of the NDJSON chat stream. Exactly one event
// with Type "plan" terminates each run.
type StreamEvent struct {
	Type     string          `json:"type"`
	Step     string          `json:"step"`
	Seq      int             `json:"seq"`
	RunID    string          `json:"runId"`
	Message  string          `json:"message,omitempty"`
	Approved *bool           `json:"approved,omitempty"`
	Data     *ActionEnvelope `json:"data,omitempty"`
	Plan     *ActionEnvelope `json:"plan,omitempty"`
}

// ChatTurn is a prior message supplied by the chat UI
type ChatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// AgentChatRequest represents the request body for the agent chat stream
type AgentChatRequest struct {
	Message string     `json:"message" validate:"required,min=1,max=2000"`
	History []ChatTurn `json:"history" validate:"omitempty,max=20,dive"`
}
