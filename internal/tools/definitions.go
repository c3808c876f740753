package tools

import "encoding/json"

// Definition is an OpenAI-compatible function tool entry
type Definition struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function describes one callable function
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

var catalog = map[string]Function{
	NameConfigureStudio: {
		Name: NameConfigureStudio,
		Description: "Configure the music generation studio. Use this when the user wants to " +
			"generate music. Recommended ranges: steps 20-100, cfg_scale 3.0-20.0, " +
			"duration 10-300 seconds.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "description": "Detailed description of the music: genre, instruments, mood, tempo"},
    "steps": {"type": "integer", "description": "Inference steps, 20-100. Higher is better quality but slower"},
    "cfg_scale": {"type": "number", "description": "Guidance scale, 3.0-20.0"},
    "duration": {"type": "number", "description": "Length in seconds, 10-300"},
    "seed": {"type": "integer", "description": "Optional random seed"}
  },
  "required": ["prompt", "steps", "cfg_scale", "duration"]
}`),
	},
	NameUpdateLyrics: {
		Name:        NameUpdateLyrics,
		Description: "Update the lyrics in the studio. Use [Verse], [Chorus] and [Bridge] tags.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "lyrics": {"type": "string", "description": "Complete lyrics with structural tags"}
  },
  "required": ["lyrics"]
}`),
	},
	NameGenerateCoverArt: {
		Name:        NameGenerateCoverArt,
		Description: "Generate album cover art for the song from a visual description.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "description": {"type": "string", "description": "Detailed visual description of the cover"}
  },
  "required": ["description"]
}`),
	},
}

// Definitions returns function definitions for the named tools, in order.
// Unknown names are skipped.
func Definitions(names ...string) []Definition {
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		fn, ok := catalog[name]
		if !ok {
			continue
		}
		defs = append(defs, Definition{Type: "function", Function: fn})
	}
	return defs
}
