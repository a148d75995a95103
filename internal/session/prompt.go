package session

import "github.com/antiphonal/crosstalk/pkg/memory"

// memoryProbe is the fixed retrieval query used at call start. No user
// utterance exists yet, so the search targets anything relevant to having
// a voice conversation with this caller.
const memoryProbe = "voice conversation"

// defaultInstruction is the base text prompt sent to the AI service when
// the deployment does not configure its own.
const defaultInstruction = "You are a helpful, friendly AI assistant having a voice conversation. Be natural and conversational."

// composePrompt builds the text prompt for the AI service: the base
// instruction, then a blank line and the rendered memories block when any
// memories were retrieved.
func composePrompt(override string, memories []memory.ScoredMemory) string {
	base := override
	if base == "" {
		base = defaultInstruction
	}
	block := memory.FormatForPrompt(memories)
	if block == "" {
		return base
	}
	return base + "\n\n" + block
}
