package extract

import (
	"testing"

	"github.com/antiphonal/crosstalk/pkg/memory"
)

func TestParseFacts_ValidArray(t *testing.T) {
	raw := `[
		{"type": "fact", "content": "User's name is Alice", "confidence": 0.95},
		{"type": "preference", "content": "User prefers morning calls", "confidence": 0.8},
		{"type": "action_item", "content": "User wants a reminder to call the dentist", "confidence": 0.7}
	]`

	facts := parseFacts(raw)
	if len(facts) != 3 {
		t.Fatalf("got %d facts, want 3", len(facts))
	}
	if facts[0].Type != memory.MemoryFact || facts[0].Content != "User's name is Alice" {
		t.Errorf("facts[0] = %+v", facts[0])
	}
	if facts[0].Confidence != 0.95 {
		t.Errorf("facts[0].Confidence = %v, want 0.95", facts[0].Confidence)
	}
	if facts[1].Type != memory.MemoryPreference {
		t.Errorf("facts[1].Type = %q, want preference", facts[1].Type)
	}
	if facts[2].Type != memory.MemoryActionItem {
		t.Errorf("facts[2].Type = %q, want action_item", facts[2].Type)
	}
}

func TestParseFacts_ConfidenceDefaultsAndClamps(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"omitted defaults to 1", `[{"type":"fact","content":"x"}]`, 1.0},
		{"above range clamps", `[{"type":"fact","content":"x","confidence":1.7}]`, 1.0},
		{"below range clamps", `[{"type":"fact","content":"x","confidence":-0.2}]`, 0.0},
		{"explicit zero kept", `[{"type":"fact","content":"x","confidence":0}]`, 0.0},
		{"in range kept", `[{"type":"fact","content":"x","confidence":0.42}]`, 0.42},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			facts := parseFacts(tc.raw)
			if len(facts) != 1 {
				t.Fatalf("got %d facts, want 1", len(facts))
			}
			if facts[0].Confidence != tc.want {
				t.Errorf("confidence = %v, want %v", facts[0].Confidence, tc.want)
			}
		})
	}
}

func TestParseFacts_MarkdownFences(t *testing.T) {
	raw := "```json\n[{\"type\":\"fact\",\"content\":\"User lives in Berlin\"}]\n```"

	facts := parseFacts(raw)
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Content != "User lives in Berlin" {
		t.Errorf("content = %q", facts[0].Content)
	}
}

func TestParseFacts_RepairsMalformedJSON(t *testing.T) {
	// Single-quoted strings are a common model slip; jsonrepair fixes them.
	raw := `[{'type': 'fact', 'content': 'User likes tea'}]`

	facts := parseFacts(raw)
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Content != "User likes tea" {
		t.Errorf("content = %q", facts[0].Content)
	}
}

func TestParseFacts_NonArrayReturnsEmpty(t *testing.T) {
	raw := `{"facts": [{"type":"fact","content":"x"}]}`

	if facts := parseFacts(raw); len(facts) != 0 {
		t.Errorf("got %d facts, want 0", len(facts))
	}
}

func TestParseFacts_GarbageReturnsEmpty(t *testing.T) {
	if facts := parseFacts("The user said nothing of note."); len(facts) != 0 {
		t.Errorf("got %d facts, want 0", len(facts))
	}
}

func TestParseFacts_BlankContentSkipped(t *testing.T) {
	raw := `[
		{"type": "fact", "content": "   "},
		{"type": "fact", "content": ""},
		{"type": "fact", "content": "User has two cats"}
	]`

	facts := parseFacts(raw)
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Content != "User has two cats" {
		t.Errorf("content = %q", facts[0].Content)
	}
}

func TestParseFacts_UnknownTypeCoercedToFact(t *testing.T) {
	raw := `[{"type": "opinion", "content": "User thinks winters are too long"}]`

	facts := parseFacts(raw)
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Type != memory.MemoryFact {
		t.Errorf("type = %q, want fact", facts[0].Type)
	}
}

func TestCanonicalType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"fact", memory.MemoryFact},
		{"Preference", memory.MemoryPreference},
		{" ACTION_ITEM ", memory.MemoryActionItem},
		{"opinion", memory.MemoryFact},
		{"", memory.MemoryFact},
	}
	for _, tc := range tests {
		if got := canonicalType(tc.in); got != tc.want {
			t.Errorf("canonicalType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `[1]`, `[1]`},
		{"json fence", "```json\n[1]\n```", `[1]`},
		{"bare fence", "```\n[1]\n```", `[1]`},
		{"surrounding whitespace", "  [1]  ", `[1]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripMarkdown(tc.in); got != tc.want {
				t.Errorf("stripMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
