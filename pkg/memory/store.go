// Package memory defines the persistent memory model shared by the voice and
// text paths: users keyed by phone number, conversations per interaction,
// their messages, and long-lived extracted memories retrievable by semantic
// similarity.
//
// The [Store] interface is public so that external packages can supply
// alternative backends (Postgres/pgvector, in-memory, …) without depending
// on crosstalk internals. The production implementation lives in the
// postgres subpackage.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Store is the persistence contract for users, conversations, messages, and
// extracted memories.
//
// Identity methods behave as upserts or idempotent lookups; read methods
// return empty (non-nil) slices when nothing matches. Implementations must
// be safe for concurrent use.
type Store interface {
	// GetOrCreateUser returns the user with the given E.164 phone number,
	// creating one on first contact. Safe under concurrent first contact
	// from the same number.
	GetOrCreateUser(ctx context.Context, phoneNumber string) (User, error)

	// CreateConversation opens a new conversation for userID on the given
	// channel ([ChannelVoice] or [ChannelText]). model names the LLM or
	// speech model serving it.
	CreateConversation(ctx context.Context, userID, channel, model string) (Conversation, error)

	// AddMessage appends a message to a conversation.
	AddMessage(ctx context.Context, conversationID, role, content string) (Message, error)

	// ConversationMessages returns all messages of a conversation in
	// chronological order (oldest first).
	// Returns an empty (non-nil) slice when the conversation has no messages.
	ConversationMessages(ctx context.Context, conversationID string) ([]Message, error)

	// LatestTextConversation returns the user's most recently active text
	// conversation that has not ended and whose last message is younger
	// than idleWindow. Returns (nil, nil) when no such conversation exists.
	LatestTextConversation(ctx context.Context, userID string, idleWindow time.Duration) (*Conversation, error)

	// EndConversation closes a conversation and records its summary.
	// Ending an already-ended conversation overwrites the summary.
	EndConversation(ctx context.Context, conversationID, summary string) error

	// StoreMemory persists a new memory. The store computes the content
	// embedding, assigns the ID and creation time, and returns the stored
	// record.
	StoreMemory(ctx context.Context, rec MemoryRecord) (Memory, error)

	// SemanticSearch embeds the query text and returns up to topK of the
	// user's unexpired memories ranked by cosine similarity (most similar
	// first). A topK value of 0 or less applies an implementation default.
	// Returns an empty (non-nil) slice when the user has no memories.
	SemanticSearch(ctx context.Context, userID, query string, topK int) ([]ScoredMemory, error)

	// RecentMemories returns the user's newest memories of the given type,
	// newest first, capped at limit. A limit of 0 or less applies an
	// implementation default.
	// Returns an empty (non-nil) slice when no memories match.
	RecentMemories(ctx context.Context, userID, memoryType string, limit int) ([]Memory, error)
}
