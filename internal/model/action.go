package model

import (
	"encoding/json"
	"fmt"
)

// ActionKind identifies which Action variant is active
type ActionKind string

const (
	ActionConfigure        ActionKind = "configure"
	ActionUpdateLyrics     ActionKind = "update_lyrics"
	ActionGenerateCoverArt ActionKind = "generate_cover_art"
	ActionCritiqueWarning  ActionKind = "critique_warning"
	ActionError            ActionKind = "error"
)

// Action is the normalized result of an agent phase. The set of
// implementations is closed to this package.
type Action interface {
	Kind() ActionKind
	isAction()
}

// Configure carries studio generation parameters
type Configure struct {
	Prompt   string  `json:"prompt"`
	Steps    int     `json:"steps"`
	CFGScale float64 `json:"cfg_scale"`
	Duration float64 `json:"duration"`
	Seed     *int64  `json:"seed"`
}

// UpdateLyrics replaces the studio lyric sheet
type UpdateLyrics struct {
	Lyrics string `json:"lyrics"`
}

// GenerateCoverArt points at a rendered cover image
type GenerateCoverArt struct {
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
}

// CritiqueWarning replaces a Configure the critic rejected
type CritiqueWarning struct {
	Message string `json:"message"`
}

// ErrorAction is returned when a run fails. FallbackPrompt always holds
// the user's original input.
type ErrorAction struct {
	Message        string `json:"message"`
	FallbackPrompt string `json:"fallback_prompt"`
}

func (Configure) Kind() ActionKind        { return ActionConfigure }
func (UpdateLyrics) Kind() ActionKind     { return ActionUpdateLyrics }
func (GenerateCoverArt) Kind() ActionKind { return ActionGenerateCoverArt }
func (CritiqueWarning) Kind() ActionKind  { return ActionCritiqueWarning }
func (ErrorAction) Kind() ActionKind      { return ActionError }

func (Configure) isAction()        {}
func (UpdateLyrics) isAction()     {}
func (GenerateCoverArt) isAction() {}
func (CritiqueWarning) isAction()  {}
func (ErrorAction) isAction()      {}

// ActionFallback is the seed a client can reuse after a failed run
type ActionFallback struct {
	Prompt string `json:"prompt"`
}

// ActionEnvelope is the wire form of an Action
type ActionEnvelope struct {
	Action   ActionKind      `json:"action"`
	Params   json.RawMessage `json:"params,omitempty"`
	Message  string          `json:"message,omitempty"`
	Fallback *ActionFallback `json:"fallback,omitempty"`
}

// EnvelopeOf converts an Action into its wire form
func EnvelopeOf(a Action) (*ActionEnvelope, error) {
	switch v := a.(type) {
	case Configure, UpdateLyrics, GenerateCoverArt:
		params, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal action params: %w", err)
		}
		return &ActionEnvelope{Action: a.Kind(), Params: params}, nil
	case CritiqueWarning:
		return &ActionEnvelope{Action: ActionCritiqueWarning, Message: v.Message}, nil
	case ErrorAction:
		return &ActionEnvelope{
			Action:   ActionError,
			Message:  v.Message,
			Fallback: &ActionFallback{Prompt: v.FallbackPrompt},
		}, nil
	case nil:
		return nil, fmt.Errorf("nil action")
	default:
		return nil, fmt.Errorf("unknown action type %T", a)
	}
}

// MarshalAction encodes an Action as its envelope JSON
func MarshalAction(a Action) ([]byte, error) {
	env, err := EnvelopeOf(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode converts a wire envelope back into an Action
func (e *ActionEnvelope) Decode() (Action, error) {
	switch e.Action {
	case ActionConfigure:
		var c Configure
		if err := json.Unmarshal(e.Params, &c); err != nil {
			return nil, fmt.Errorf("invalid configure params: %w", err)
		}
		return c, nil
	case ActionUpdateLyrics:
		var u UpdateLyrics
		if err := json.Unmarshal(e.Params, &u); err != nil {
			return nil, fmt.Errorf("invalid update_lyrics params: %w", err)
		}
		return u, nil
	case ActionGenerateCoverArt:
		var g GenerateCoverArt
		if err := json.Unmarshal(e.Params, &g); err != nil {
			return nil, fmt.Errorf("invalid generate_cover_art params: %w", err)
		}
		return g, nil
	case ActionCritiqueWarning:
		return CritiqueWarning{Message: e.Message}, nil
	case ActionError:
		out := ErrorAction{Message: e.Message}
		if e.Fallback != nil {
			out.FallbackPrompt = e.Fallback.Prompt
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown action %q", e.Action)
	}
}

// ToolCall is a single function call requested by a model
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}
