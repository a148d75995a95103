package transcript_test

import (
	"testing"

	"github.com/antiphonal/crosstalk/pkg/transcript"
)

func TestCapture_TokensFormTurn(t *testing.T) {
	var c transcript.Capture
	c.AddToken("Hel")
	c.AddToken("lo, ")
	c.AddToken("Alice.")
	c.EndTurn()

	turns := c.Transcript()
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Role != transcript.RoleAssistant {
		t.Errorf("role: got %q, want %q", turns[0].Role, transcript.RoleAssistant)
	}
	if turns[0].Content != "Hello, Alice." {
		t.Errorf("content: got %q, want %q", turns[0].Content, "Hello, Alice.")
	}
}

func TestCapture_TurnContentTrimmed(t *testing.T) {
	var c transcript.Capture
	c.AddToken("  spaced out  ")
	c.EndTurn()

	turns := c.Transcript()
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Content != "spaced out" {
		t.Errorf("content: got %q, want %q", turns[0].Content, "spaced out")
	}
}

func TestCapture_WhitespaceOnlyTurnDropped(t *testing.T) {
	var c transcript.Capture
	c.AddToken("   \n\t ")
	c.EndTurn()
	if turns := c.Transcript(); len(turns) != 0 {
		t.Errorf("expected no turns, got %d", len(turns))
	}
}

func TestCapture_EndTurnIdempotent(t *testing.T) {
	var c transcript.Capture
	c.AddToken("once")
	c.EndTurn()
	c.EndTurn()
	c.EndTurn()
	if turns := c.Transcript(); len(turns) != 1 {
		t.Errorf("expected 1 turn, got %d", len(turns))
	}
}

func TestCapture_UserNotes(t *testing.T) {
	var c transcript.Capture
	c.AddUserNote("  How are you?  ")
	c.AddToken("Fine, thanks.")
	c.EndTurn()
	c.AddUserNote("   ")

	turns := c.Transcript()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != transcript.RoleUser || turns[0].Content != "How are you?" {
		t.Errorf("turn 0: got %+v", turns[0])
	}
	if turns[1].Role != transcript.RoleAssistant || turns[1].Content != "Fine, thanks." {
		t.Errorf("turn 1: got %+v", turns[1])
	}
}

func TestCapture_TranscriptFlushesRunningTurn(t *testing.T) {
	var c transcript.Capture
	c.AddToken("no explicit end")

	turns := c.Transcript()
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Content != "no explicit end" {
		t.Errorf("content: got %q", turns[0].Content)
	}
	// The flush consumed the accumulator; no duplicate on a second read.
	if again := c.Transcript(); len(again) != 1 {
		t.Errorf("second read: expected 1 turn, got %d", len(again))
	}
}

func TestCapture_TranscriptReturnsCopy(t *testing.T) {
	var c transcript.Capture
	c.AddToken("original")
	c.EndTurn()

	turns := c.Transcript()
	turns[0].Content = "mutated"

	if got := c.Transcript()[0].Content; got != "original" {
		t.Errorf("internal state mutated through returned slice: %q", got)
	}
}

func TestCapture_FullTextKeepsRawTokens(t *testing.T) {
	var c transcript.Capture
	c.AddToken("one ")
	c.EndTurn()
	c.AddToken("two")
	c.EndTurn()

	if got := c.FullText(); got != "one two" {
		t.Errorf("full text: got %q, want %q", got, "one two")
	}
}

func TestCapture_EmptyTranscript(t *testing.T) {
	var c transcript.Capture
	if turns := c.Transcript(); len(turns) != 0 {
		t.Errorf("expected no turns, got %d", len(turns))
	}
	if c.FullText() != "" {
		t.Errorf("expected empty full text, got %q", c.FullText())
	}
}
