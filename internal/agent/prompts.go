package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/makeasinger/studio/internal/model"
)

// Role descriptions sent as the system message
const (
	producerDescription = "You are an Intelligent Studio Assistant acting as Producer, Lyricist and Visualizer. " +
		"You turn a user's request into exactly one studio tool call."
	criticDescription = "You are a Quality Control Critic. You review music/lyric plans against user intent. " +
		"Be strict but constructive."
	lyricistDescription = "You are a professional Songwriter. Use the provided style references, when any, " +
		"before writing new lyrics."
	visualizerDescription = "You are a Visual Director. Create stunning cover art descriptions matching the music's vibe."
)

// ApprovalToken is the literal the critic returns on pass
const ApprovalToken = "APPROVED"

const requestMarker = "USER REQUEST: '"

// ProducerInstruction builds the producing-phase instruction. Prior chat
// turns are included as context only.
func ProducerInstruction(userInput string, history []model.ChatTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s'\n\n", requestMarker, userInput)

	if len(history) > 0 {
		b.WriteString("CONVERSATION SO FAR:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("TASK: You are an Intelligent Studio Assistant (Producer, Lyricist, & Visualizer).\n" +
		"RULES:\n" +
		"1. IF USER WANTS MUSIC SETTINGS: Call 'configure_studio'.\n" +
		"   - Expand the prompt creatively: genre, instrumentation, mood, tempo.\n" +
		"   - steps 20-100 (standard 50), cfg_scale 3.0-20.0 (creative ~7.0), duration 10-300 seconds.\n" +
		"2. IF USER WANTS LYRICS: Call 'update_lyrics'.\n" +
		"   - Write creative lyrics with [Verse]/[Chorus].\n" +
		"3. IF USER WANTS ART/IMAGES: Call 'generate_cover_art'.\n" +
		"   - Write a detailed visual prompt.\n" +
		"4. MANDATORY TOOL CALL: You must call exactly one tool.\n")
	return b.String()
}

// CriticInstruction builds the critique for a proposed configuration
func CriticInstruction(userInput string, cfg model.Configure) string {
	params, _ := json.Marshal(cfg)
	return fmt.Sprintf("ACT as a strict Music Studio Critic.\n"+
		"%s%s'\n"+
		"Proposed Settings: %s\n\n"+
		"CHECKLIST:\n"+
		"- Is the 'prompt' descriptive enough (>10 words)?\n"+
		"- Are 'steps' appropriate (aim for 50+ normally)?\n"+
		"- Does the vibe match the intent?\n\n"+
		"OUTPUT:\n"+
		"- If PASS: Return exactly '%s'.\n"+
		"- If FAIL: Return a 1-sentence warning for the user.\n",
		requestMarker, userInput, params, ApprovalToken)
}

// LyricistInstruction hands a lyric request to the songwriter. draft is the
// producer's first pass, if any.
func LyricistInstruction(userInput, draft string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s'\n\n", requestMarker, userInput)
	if draft != "" {
		fmt.Fprintf(&b, "PRODUCER DRAFT:\n%s\n\n", draft)
	}
	b.WriteString("TASK: Write complete song lyrics for this request.\n" +
		"RULES:\n" +
		"1. Use structural tags like [Verse], [Chorus], [Bridge].\n" +
		"2. Call 'update_lyrics' with the full lyric sheet.\n")
	return b.String()
}

// VisualizerInstruction hands a cover art request to the visual director
func VisualizerInstruction(userInput, draft string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s'\n\n", requestMarker, userInput)
	if draft != "" {
		fmt.Fprintf(&b, "PRODUCER DRAFT: %s\n\n", draft)
	}
	b.WriteString("TASK: Design the album cover art.\n" +
		"RULES:\n" +
		"1. Write a detailed visual description: subject, palette, lighting, art style.\n" +
		"2. Call 'generate_cover_art' with that description.\n")
	return b.String()
}

// userRequest extracts the user's text from an instruction built here, or
// returns the instruction unchanged
func userRequest(instruction string) string {
	start := strings.Index(instruction, requestMarker)
	if start == -1 {
		return instruction
	}
	rest := instruction[start+len(requestMarker):]
	end := strings.Index(rest, "'\n")
	if end == -1 {
		return rest
	}
	return rest[:end]
}
