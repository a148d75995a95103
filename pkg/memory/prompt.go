package memory

import "strings"

// FormatForPrompt renders retrieved memories as a block for injection into
// an LLM prompt:
//
//	<memories>
//	- [fact] User's name is Alice
//	- [preference] User prefers morning calls
//	</memories>
//
// An empty slice renders as the empty string. A memory with an empty Type
// renders as [MemoryFact].
func FormatForPrompt(memories []ScoredMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<memories>\n")
	for _, m := range memories {
		t := m.Type
		if t == "" {
			t = MemoryFact
		}
		b.WriteString("- [")
		b.WriteString(t)
		b.WriteString("] ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("</memories>")
	return b.String()
}
