package extract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/antiphonal/crosstalk/pkg/memory"
	"github.com/kaptinlin/jsonrepair"
)

// fact is one extracted memory candidate after normalization.
type fact struct {
	Type       string
	Content    string
	Confidence float64
}

// rawFact mirrors the JSON shape the model is asked to produce. Confidence
// is a pointer so an omitted field can be told apart from an explicit zero.
type rawFact struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence"`
}

// parseFacts leniently decodes the model's fact array. Markdown fences are
// stripped, a syntax error gets one repair attempt via jsonrepair, and
// output that still is not a JSON array yields an empty slice. Entries
// with blank content are dropped, unknown types coerce to "fact", and
// confidence defaults to 1.0 and clamps to [0, 1].
func parseFacts(raw string) []fact {
	cleaned := stripMarkdown(raw)

	var entries []rawFact
	if err := json.Unmarshal([]byte(cleaned), &entries); err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil
		}
		fixed, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(fixed), &entries); err != nil {
			return nil
		}
	}

	facts := make([]fact, 0, len(entries))
	for _, e := range entries {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		facts = append(facts, fact{
			Type:       canonicalType(e.Type),
			Content:    content,
			Confidence: clampConfidence(e.Confidence),
		})
	}
	return facts
}

// canonicalType maps a model-reported type onto a known memory type.
// Anything unrecognised becomes a plain fact.
func canonicalType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case memory.MemoryPreference:
		return memory.MemoryPreference
	case memory.MemoryActionItem:
		return memory.MemoryActionItem
	default:
		return memory.MemoryFact
	}
}

// clampConfidence resolves the reported confidence: absent means 1.0,
// present clamps to [0, 1].
func clampConfidence(c *float64) float64 {
	if c == nil {
		return 1.0
	}
	switch {
	case *c < 0:
		return 0
	case *c > 1:
		return 1
	}
	return *c
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
