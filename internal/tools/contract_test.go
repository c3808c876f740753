package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/model"
)

func call(name, args string) model.ToolCall {
	return model.ToolCall{Name: name, Arguments: json.RawMessage(args)}
}

func TestParseConfigure(t *testing.T) {
	c := NewContract("")

	action, err := c.Parse(call(NameConfigureStudio,
		`{"prompt":"dark techno, 130 bpm","steps":60,"cfg_scale":7.5,"duration":120}`))
	require.NoError(t, err)

	cfg, ok := action.(model.Configure)
	require.True(t, ok)
	assert.Equal(t, "dark techno, 130 bpm", cfg.Prompt)
	assert.Equal(t, 60, cfg.Steps)
	assert.Equal(t, 7.5, cfg.CFGScale)
	assert.Equal(t, 120.0, cfg.Duration)
	assert.Nil(t, cfg.Seed)
}

func TestParseConfigureKeepsOutOfRangeValues(t *testing.T) {
	c := NewContract("")

	action, err := c.Parse(call(NameConfigureStudio,
		`{"prompt":"x","steps":500,"cfg_scale":0.5,"duration":5,"seed":42}`))
	require.NoError(t, err)

	cfg := action.(model.Configure)
	assert.Equal(t, 500, cfg.Steps)
	assert.Equal(t, 0.5, cfg.CFGScale)
	assert.Equal(t, 5.0, cfg.Duration)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(42), *cfg.Seed)
}

func TestParseStringEncodedArguments(t *testing.T) {
	c := NewContract("")

	action, err := c.Parse(call(NameUpdateLyrics, `"{\"lyrics\":\"[Verse]\\nhello\"}"`))
	require.NoError(t, err)
	assert.Equal(t, model.UpdateLyrics{Lyrics: "[Verse]\nhello"}, action)
}

func TestParseRejectsMalformed(t *testing.T) {
	c := NewContract("")

	tests := []struct {
		name string
		call model.ToolCall
	}{
		{"unknown tool", call("delete_everything", `{}`)},
		{"missing required field", call(NameConfigureStudio, `{"prompt":"x","steps":10,"duration":30}`)},
		{"wrong type", call(NameConfigureStudio, `{"prompt":"x","steps":"many","cfg_scale":7,"duration":30}`)},
		{"not json", call(NameUpdateLyrics, `lyrics please`)},
		{"no arguments", model.ToolCall{Name: NameGenerateCoverArt}},
		{"missing description", call(NameGenerateCoverArt, `{"style":"neon"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := c.Parse(tt.call)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedOutput)
			assert.Nil(t, action)
		})
	}
}

func TestGenerateCoverArtEncodesDescription(t *testing.T) {
	c := NewContract("")

	action := c.GenerateCoverArt("neon city at night")
	art := action.(model.GenerateCoverArt)

	assert.Equal(t, "https://image.pollinations.ai/prompt/neon%20city%20at%20night", art.ImageURL)
	assert.Equal(t, "neon city at night", art.Description)
}

func TestCustomCoverArtURL(t *testing.T) {
	c := NewContract("http://images.local/render")
	assert.Equal(t, "http://images.local/render/a%2Fb", c.CoverArtURL("a/b"))
}

func TestDefinitions(t *testing.T) {
	defs := Definitions(NameUpdateLyrics, "nope", NameConfigureStudio)
	require.Len(t, defs, 2)
	assert.Equal(t, NameUpdateLyrics, defs[0].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.Contains(t, defs[1].Function.Description, "20-100")

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(defs[1].Function.Parameters, &schema))
	assert.Equal(t, "object", schema["type"])
}

func TestActionEnvelopeRoundTrip(t *testing.T) {
	c := NewContract("")
	seed := int64(7)

	for _, a := range []model.Action{
		c.ConfigureStudio("lofi", 40, 6, 90, &seed),
		c.UpdateLyrics("[Chorus]\nla la"),
		c.GenerateCoverArt("storm"),
		model.CritiqueWarning{Message: "Critic Warning: too short"},
		model.ErrorAction{Message: "boom", FallbackPrompt: "make a song"},
	} {
		data, err := model.MarshalAction(a)
		require.NoError(t, err)

		var env model.ActionEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		back, err := env.Decode()
		require.NoError(t, err)
		assert.Equal(t, a, back)
	}
}

func TestErrorEnvelopeWireShape(t *testing.T) {
	data, err := model.MarshalAction(model.ErrorAction{Message: "down", FallbackPrompt: "sad piano"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"error","message":"down","fallback":{"prompt":"sad piano"}}`, string(data))
}
