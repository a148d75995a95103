// Package text answers inbound SMS messages. Messages from the same number
// are threaded into one conversation while they arrive within the idle
// window; each reply is generated by the LLM with the user's memories and
// recent history in context.
package text

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antiphonal/crosstalk/internal/extract"
	"github.com/antiphonal/crosstalk/internal/observe"
	"github.com/antiphonal/crosstalk/pkg/memory"
	"github.com/antiphonal/crosstalk/pkg/phone"
	"github.com/antiphonal/crosstalk/pkg/provider/llm"
)

// Default tuning for [Config] fields left zero.
const (
	defaultIdleWindow        = 30 * time.Minute
	defaultMemoryTopK        = 10
	defaultContextMessages   = 20
	defaultExtractionTimeout = 2 * time.Minute
)

// replyMaxTokens caps generated SMS replies. Carriers split long bodies
// into segments, so there is no point letting the model run on.
const replyMaxTokens = 1024

// smsSystemPrompt frames every SMS completion; the rendered memories block
// is interpolated between the instruction and the closing line.
const smsSystemPrompt = "You are a helpful, friendly AI assistant communicating via text message. " +
	"Keep responses concise and natural for SMS - avoid overly long messages." +
	"\n\n%s\n\nRespond naturally to the user's message."

// Config holds the dependencies and tuning for the SMS handler.
type Config struct {
	// Store persists users, conversations, messages, and memories.
	// Must not be nil.
	Store memory.Store

	// LLM generates replies. Must not be nil.
	LLM llm.Provider

	// Extractor turns finished conversations into long-term memories.
	// May be nil, in which case extraction is skipped.
	Extractor *extract.Extractor

	// Model is recorded on new conversation rows for provenance.
	Model string

	// IdleWindow is how long a text conversation stays open after its last
	// message. Defaults to 30 minutes if zero.
	IdleWindow time.Duration

	// MemoryTopK caps how many memories are injected into the system prompt.
	// Defaults to 10 if zero.
	MemoryTopK int

	// ContextMessages caps how much recent history each completion sees.
	// Defaults to 20 if zero.
	ContextMessages int

	// ExtractionTimeout bounds the detached extraction task.
	// Defaults to 2 minutes if zero.
	ExtractionTimeout time.Duration
}

// Handler replies to SMS messages. A single Handler serves any number of
// concurrent messages; per-message state lives on the stack.
type Handler struct {
	store             memory.Store
	llm               llm.Provider
	extractor         *extract.Extractor
	model             string
	idleWindow        time.Duration
	topK              int
	contextMessages   int
	extractionTimeout time.Duration
}

// New creates an SMS [Handler] from the given configuration.
func New(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("text: Store must not be nil")
	}
	if cfg.LLM == nil {
		return nil, errors.New("text: LLM must not be nil")
	}
	h := &Handler{
		store:             cfg.Store,
		llm:               cfg.LLM,
		extractor:         cfg.Extractor,
		model:             cfg.Model,
		idleWindow:        cfg.IdleWindow,
		topK:              cfg.MemoryTopK,
		contextMessages:   cfg.ContextMessages,
		extractionTimeout: cfg.ExtractionTimeout,
	}
	if h.idleWindow <= 0 {
		h.idleWindow = defaultIdleWindow
	}
	if h.topK <= 0 {
		h.topK = defaultMemoryTopK
	}
	if h.contextMessages <= 0 {
		h.contextMessages = defaultContextMessages
	}
	if h.extractionTimeout <= 0 {
		h.extractionTimeout = defaultExtractionTimeout
	}
	return h, nil
}

// HandleMessage processes one inbound SMS and returns the reply text.
//
// The implementation:
//  1. Normalizes the sender to E.164 and upserts the user record.
//  2. Threads the message into the active text conversation, or opens one.
//  3. Stores the inbound body as a user message.
//  4. Retrieves memories relevant to the body and the recent history.
//  5. Completes via the LLM and stores the reply as an assistant message.
//  6. Schedules fact extraction detached from this request.
//
// Any error means no reply was produced; the caller should let the carrier
// retry delivery.
func (h *Handler) HandleMessage(ctx context.Context, from, body string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "text.message")
	defer span.End()
	log := observe.Logger(ctx)

	user, err := h.store.GetOrCreateUser(ctx, phone.NormalizeE164(from))
	if err != nil {
		return "", fmt.Errorf("text: resolve user: %w", err)
	}

	conv, err := h.activeConversation(ctx, user.ID)
	if err != nil {
		return "", err
	}

	if _, err := h.store.AddMessage(ctx, conv.ID, memory.RoleUser, body); err != nil {
		return "", fmt.Errorf("text: store inbound message: %w", err)
	}

	memories, err := h.store.SemanticSearch(ctx, user.ID, body, h.topK)
	if err != nil {
		return "", fmt.Errorf("text: search memories: %w", err)
	}

	history, err := h.recentHistory(ctx, conv.ID)
	if err != nil {
		return "", err
	}

	reply, err := h.complete(ctx, memories, history)
	if err != nil {
		return "", err
	}

	if _, err := h.store.AddMessage(ctx, conv.ID, memory.RoleAssistant, reply); err != nil {
		return "", fmt.Errorf("text: store reply: %w", err)
	}

	log.Info("sms handled",
		"user_id", user.ID,
		"conversation_id", conv.ID,
		"body_len", len(body),
		"reply_len", len(reply),
	)

	h.scheduleExtraction(user.ID, conv.ID, log)

	return reply, nil
}

// activeConversation returns the user's text conversation still inside the
// idle window, or opens a new one.
func (h *Handler) activeConversation(ctx context.Context, userID string) (memory.Conversation, error) {
	existing, err := h.store.LatestTextConversation(ctx, userID, h.idleWindow)
	if err != nil {
		return memory.Conversation{}, fmt.Errorf("text: find conversation: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}
	conv, err := h.store.CreateConversation(ctx, userID, memory.ChannelText, h.model)
	if err != nil {
		return memory.Conversation{}, fmt.Errorf("text: create conversation: %w", err)
	}
	return conv, nil
}

// recentHistory returns the newest slice of the conversation as LLM turns,
// keeping user and assistant roles only. The inbound message is already
// stored, so it arrives as the last turn.
func (h *Handler) recentHistory(ctx context.Context, conversationID string) ([]llm.Message, error) {
	msgs, err := h.store.ConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("text: load history: %w", err)
	}
	if len(msgs) > h.contextMessages {
		msgs = msgs[len(msgs)-h.contextMessages:]
	}
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != memory.RoleUser && m.Role != memory.RoleAssistant {
			continue
		}
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// complete issues the reply completion and records provider metrics.
func (h *Handler) complete(ctx context.Context, memories []memory.ScoredMemory, history []llm.Message) (string, error) {
	m := observe.DefaultMetrics()
	start := time.Now()
	resp, err := h.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(smsSystemPrompt, memory.FormatForPrompt(memories)),
		Messages:     history,
		MaxTokens:    replyMaxTokens,
	})
	m.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.RecordProviderRequest(ctx, "llm", "sms", "error")
		return "", fmt.Errorf("text: complete reply: %w", err)
	}
	m.RecordProviderRequest(ctx, "llm", "sms", "ok")
	return resp.Content, nil
}

// scheduleExtraction launches fact extraction detached from the request so
// a slow LLM cannot delay the SMS reply. Failures are logged only.
func (h *Handler) scheduleExtraction(userID, conversationID string, log *slog.Logger) {
	if h.extractor == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.extractionTimeout)
		defer cancel()
		if err := h.extractor.ProcessConversation(ctx, userID, conversationID, memory.ChannelText); err != nil {
			log.Error("sms fact extraction failed", "conversation_id", conversationID, "err", err)
		}
	}()
}
