// Package transcript captures the text side of a live conversation as it
// streams in. The conversational peer emits text in small tokens; Capture
// accumulates them into turns that the post-call pipeline can persist.
package transcript

import "strings"

// Turn roles. The user role is only produced by AddUserNote; live speech
// recognition is out of scope, so user turns appear when an upstream
// component supplies them explicitly.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one attributed utterance in a conversation.
type Turn struct {
	Role    string
	Content string
}

// Capture accumulates streamed text tokens into turns. The zero value is
// ready to use.
//
// Not safe for concurrent use: exactly one goroutine writes during a call,
// and readers wait until that writer is done.
type Capture struct {
	tokens  strings.Builder
	current strings.Builder
	turns   []Turn
}

// AddToken records a streamed token, appending it to the running turn and
// to the raw full text.
func (c *Capture) AddToken(token string) {
	c.tokens.WriteString(token)
	c.current.WriteString(token)
}

// EndTurn closes the running assistant turn. Whitespace-only turns are
// discarded. Calling EndTurn with nothing accumulated is a no-op.
func (c *Capture) EndTurn() {
	if c.current.Len() == 0 {
		return
	}
	if content := strings.TrimSpace(c.current.String()); content != "" {
		c.turns = append(c.turns, Turn{Role: RoleAssistant, Content: content})
	}
	c.current.Reset()
}

// AddUserNote records a complete user utterance. Whitespace-only notes are
// discarded.
func (c *Capture) AddUserNote(note string) {
	if content := strings.TrimSpace(note); content != "" {
		c.turns = append(c.turns, Turn{Role: RoleUser, Content: content})
	}
}

// Transcript closes any running turn and returns a copy of all turns in
// arrival order.
func (c *Capture) Transcript() []Turn {
	c.EndTurn()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// FullText returns every token ever recorded, concatenated verbatim. It is
// the fallback when the peer never signalled turn boundaries.
func (c *Capture) FullText() string {
	return c.tokens.String()
}
