// Package extract turns finished conversations into long-term memories.
//
// After a call or text exchange ends, the [Extractor] replays the stored
// transcript through an [llm.Provider] twice: once to pull out discrete
// facts about the user and once to write a one-paragraph summary. Facts are
// checked against the user's recent memories with Jaro-Winkler similarity
// so restating a fact supersedes the old record instead of piling up
// near-copies. Everything is persisted through [memory.Store], and the
// conversation is closed with its summary.
//
// Extraction is best-effort: a failed model call degrades to storing
// nothing rather than failing the teardown of the call that triggered it.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antiphonal/crosstalk/internal/observe"
	"github.com/antiphonal/crosstalk/pkg/memory"
	"github.com/antiphonal/crosstalk/pkg/provider/llm"
	"github.com/antzucaro/matchr"
)

const (
	// defaultTemperature keeps the extraction passes close to deterministic.
	defaultTemperature = 0.2

	// supersedeThreshold is the Jaro-Winkler similarity at which a new
	// memory is considered a restatement of an existing one.
	supersedeThreshold = 0.92

	// recentWindow is how many recent same-type memories are scanned for
	// restatements.
	recentWindow = 50
)

// factExtractionPrompt precedes the rendered transcript in the fact pass.
const factExtractionPrompt = `You are a memory extraction system. Analyze the following conversation and extract discrete facts about the user. Return a JSON array of objects, each with:
- "type": one of "fact", "preference", "action_item"
- "content": a concise statement of the fact (always from user's perspective, e.g. "User's name is Alice")
- "confidence": float 0.0-1.0 indicating how certain this fact is

Only extract facts explicitly stated or strongly implied by the user. Do not infer or speculate.
Return ONLY the JSON array, no other text.

Conversation:
`

const factSystemPrompt = "You are a precise fact extraction system. Return only valid JSON."

// summaryPrompt precedes the rendered transcript in the summary pass.
const summaryPrompt = `Write a one-paragraph summary of this conversation. Focus on key topics discussed, decisions made, and any commitments. Be concise.

Conversation:
`

const summarySystemPrompt = "You are a conversation summarizer."

// Extractor extracts facts and summaries from finished conversations.
// It is safe for concurrent use.
type Extractor struct {
	llm         llm.Provider
	store       memory.Store
	temperature float64
}

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithTemperature sets the sampling temperature for the extraction and
// summary completions. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(e *Extractor) {
		e.temperature = temp
	}
}

// New returns an [Extractor] backed by the given provider and store.
func New(provider llm.Provider, store memory.Store, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         provider,
		store:       store,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ProcessConversation replays the conversation's stored messages through the
// model, persists extracted facts and a summary, and closes the conversation.
// channel tags the resulting memories with their source
// ([memory.ChannelVoice] or [memory.ChannelText]). Conversations with no
// messages are left untouched.
//
// Model failures degrade to storing nothing. Only failures to load the
// messages or to close the conversation are returned.
func (e *Extractor) ProcessConversation(ctx context.Context, userID, conversationID, channel string) error {
	ctx, span := observe.StartSpan(ctx, "extract.conversation")
	defer span.End()

	msgs, err := e.store.ConversationMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("extract: load messages: %w", err)
	}
	if len(msgs) == 0 {
		slog.Debug("extraction skipped, conversation has no messages",
			"conversation_id", conversationID,
		)
		return nil
	}

	transcript := renderTranscript(msgs)

	stored := 0
	for _, f := range e.extractFacts(ctx, transcript) {
		rec := memory.MemoryRecord{
			UserID:               userID,
			Type:                 f.Type,
			Content:              f.Content,
			Confidence:           f.Confidence,
			SourceChannel:        channel,
			SourceConversationID: conversationID,
			SupersedesID:         e.supersededID(ctx, userID, f),
		}
		if _, err := e.store.StoreMemory(ctx, rec); err != nil {
			slog.Warn("failed to store extracted memory", "type", f.Type, "err", err)
			continue
		}
		observe.DefaultMetrics().RecordMemoryStored(ctx, f.Type)
		stored++
	}

	summary := e.summarize(ctx, transcript)
	if summary != "" {
		rec := memory.MemoryRecord{
			UserID:               userID,
			Type:                 memory.MemorySummary,
			Content:              summary,
			Confidence:           1.0,
			SourceChannel:        channel,
			SourceConversationID: conversationID,
		}
		if _, err := e.store.StoreMemory(ctx, rec); err != nil {
			slog.Warn("failed to store conversation summary", "err", err)
		} else {
			observe.DefaultMetrics().RecordMemoryStored(ctx, memory.MemorySummary)
			stored++
		}
	}

	if err := e.store.EndConversation(ctx, conversationID, summary); err != nil {
		return fmt.Errorf("extract: end conversation: %w", err)
	}

	slog.Info("conversation processed",
		"conversation_id", conversationID,
		"messages", len(msgs),
		"memories_stored", stored,
	)
	return nil
}

// extractFacts runs the fact pass. Model failures and unparseable output
// yield an empty slice.
func (e *Extractor) extractFacts(ctx context.Context, transcript string) []fact {
	resp, err := e.complete(ctx, "extraction", factSystemPrompt, factExtractionPrompt+transcript)
	if err != nil {
		slog.Warn("fact extraction failed", "err", err)
		return nil
	}
	return parseFacts(resp)
}

// summarize runs the summary pass. Model failures yield an empty summary.
func (e *Extractor) summarize(ctx context.Context, transcript string) string {
	resp, err := e.complete(ctx, "summary", summarySystemPrompt, summaryPrompt+transcript)
	if err != nil {
		slog.Warn("summarization failed", "err", err)
		return ""
	}
	return strings.TrimSpace(resp)
}

// complete issues a single-turn completion and records provider metrics.
func (e *Extractor) complete(ctx context.Context, kind, systemPrompt, userPrompt string) (string, error) {
	m := observe.DefaultMetrics()
	start := time.Now()
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  e.temperature,
		Messages:     []llm.Message{{Role: "user", Content: userPrompt}},
	})
	m.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.RecordProviderRequest(ctx, "llm", kind, "error")
		return "", err
	}
	m.RecordProviderRequest(ctx, "llm", kind, "ok")
	return resp.Content, nil
}

// supersededID looks for a recent same-type memory that f restates and
// returns its id, or "" when f is new information. Recent memories arrive
// newest first, so the first hit is the freshest restatement target. A
// lookup failure just means no supersede link.
func (e *Extractor) supersededID(ctx context.Context, userID string, f fact) string {
	recent, err := e.store.RecentMemories(ctx, userID, f.Type, recentWindow)
	if err != nil {
		slog.Warn("recent memory lookup failed, storing without supersede link", "err", err)
		return ""
	}
	needle := normalizeContent(f.Content)
	for _, m := range recent {
		if matchr.JaroWinkler(needle, normalizeContent(m.Content), false) >= supersedeThreshold {
			return m.ID
		}
	}
	return ""
}

// normalizeContent lowercases and trims content before similarity scoring so
// capitalisation and stray whitespace do not defeat restatement detection.
func normalizeContent(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// renderTranscript flattens stored messages into "role: content" lines.
func renderTranscript(msgs []memory.Message) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.Role + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
