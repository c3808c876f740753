// Package tools defines the studio's function-calling contract: the three
// creation tools an agent may call, their argument schemas, and a strict
// parser that turns a raw model tool call into a model.Action.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/makeasinger/studio/internal/model"
)

// Tool names exposed to the model
const (
	NameConfigureStudio  = "configure_studio"
	NameUpdateLyrics     = "update_lyrics"
	NameGenerateCoverArt = "generate_cover_art"
)

// DefaultCoverArtURL is the image renderer the cover art tool links to
const DefaultCoverArtURL = "https://image.pollinations.ai/prompt/"

// ErrMalformedOutput is returned when a tool call does not match the contract
var ErrMalformedOutput = errors.New("malformed agent output")

// ErrUnknownTool is wrapped by ErrMalformedOutput for names outside the contract
var ErrUnknownTool = errors.New("unknown tool")

// Contract builds and parses studio actions
type Contract struct {
	coverArtURL string
	validate    *validator.Validate
}

// NewContract creates a contract. An empty coverArtURL selects the default
// renderer.
func NewContract(coverArtURL string) *Contract {
	if coverArtURL == "" {
		coverArtURL = DefaultCoverArtURL
	}
	if !strings.HasSuffix(coverArtURL, "/") {
		coverArtURL += "/"
	}
	return &Contract{
		coverArtURL: coverArtURL,
		validate:    validator.New(),
	}
}

// ConfigureStudio builds a Configure action. Values outside the advisory
// ranges are passed through unchanged.
func (c *Contract) ConfigureStudio(prompt string, steps int, cfgScale, duration float64, seed *int64) model.Action {
	return model.Configure{
		Prompt:   prompt,
		Steps:    steps,
		CFGScale: cfgScale,
		Duration: duration,
		Seed:     seed,
	}
}

// UpdateLyrics builds an UpdateLyrics action
func (c *Contract) UpdateLyrics(lyrics string) model.Action {
	return model.UpdateLyrics{Lyrics: lyrics}
}

// GenerateCoverArt builds a GenerateCoverArt action whose image URL is the
// renderer template with the percent-encoded description appended
func (c *Contract) GenerateCoverArt(description string) model.Action {
	return model.GenerateCoverArt{
		ImageURL:    c.CoverArtURL(description),
		Description: description,
	}
}

// CoverArtURL renders the image URL for a description
func (c *Contract) CoverArtURL(description string) string {
	return c.coverArtURL + url.PathEscape(description)
}

// Argument schemas. Pointer fields distinguish a missing key from a zero value.

type configureArgs struct {
	Prompt   *string  `json:"prompt" validate:"required"`
	Steps    *int     `json:"steps" validate:"required"`
	CFGScale *float64 `json:"cfg_scale" validate:"required"`
	Duration *float64 `json:"duration" validate:"required"`
	Seed     *int64   `json:"seed"`
}

type lyricsArgs struct {
	Lyrics *string `json:"lyrics" validate:"required"`
}

type coverArtArgs struct {
	Description *string `json:"description" validate:"required"`
}

// Parse validates a raw tool call and converts it into an Action
func (c *Contract) Parse(call model.ToolCall) (model.Action, error) {
	switch call.Name {
	case NameConfigureStudio:
		var args configureArgs
		if err := c.decode(call, &args); err != nil {
			return nil, err
		}
		return c.ConfigureStudio(*args.Prompt, *args.Steps, *args.CFGScale, *args.Duration, args.Seed), nil

	case NameUpdateLyrics:
		var args lyricsArgs
		if err := c.decode(call, &args); err != nil {
			return nil, err
		}
		return c.UpdateLyrics(*args.Lyrics), nil

	case NameGenerateCoverArt:
		var args coverArtArgs
		if err := c.decode(call, &args); err != nil {
			return nil, err
		}
		return c.GenerateCoverArt(*args.Description), nil

	default:
		return nil, fmt.Errorf("%w: %w %q", ErrMalformedOutput, ErrUnknownTool, call.Name)
	}
}

func (c *Contract) decode(call model.ToolCall, dst interface{}) error {
	raw := call.Arguments
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s called without arguments", ErrMalformedOutput, call.Name)
	}

	// Some providers double-encode arguments as a JSON string
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		raw = json.RawMessage(inner)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: invalid %s arguments: %v", ErrMalformedOutput, call.Name, err)
	}
	if err := c.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: invalid %s arguments: %v", ErrMalformedOutput, call.Name, err)
	}
	return nil
}

// Known reports whether name is one of the contract's tools
func Known(name string) bool {
	switch name {
	case NameConfigureStudio, NameUpdateLyrics, NameGenerateCoverArt:
		return true
	}
	return false
}
