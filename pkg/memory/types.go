package memory

import "time"

// Conversation channels.
const (
	ChannelVoice = "voice"
	ChannelText  = "text"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Memory types.
const (
	MemoryFact       = "fact"
	MemorySummary    = "summary"
	MemoryPreference = "preference"
	MemoryActionItem = "action_item"
)

// User is a caller identified by phone number. Users are created on first
// contact and shared across every channel the same number reaches us on.
type User struct {
	// ID is the unique identifier for this user (a UUID).
	ID string

	// PhoneNumber is the E.164-normalized number (e.g. "+14155550100").
	PhoneNumber string

	// DisplayName is an optional human-readable name. Empty until set.
	DisplayName string

	// CreatedAt is when the user was first seen.
	CreatedAt time.Time
}

// Conversation groups the messages of a single interaction: one phone call,
// or one run of SMS exchanges within the idle window.
type Conversation struct {
	// ID is the unique identifier for this conversation (a UUID).
	ID string

	// UserID is the owning user.
	UserID string

	// Channel is how the conversation happened ([ChannelVoice] or [ChannelText]).
	Channel string

	// ModelUsed names the model that served this conversation.
	ModelUsed string

	// StartedAt is when the conversation was opened.
	StartedAt time.Time

	// EndedAt is when the conversation was closed. Nil while still active.
	EndedAt *time.Time

	// Summary is the post-conversation summary. Empty until the conversation
	// has ended and summarization has run.
	Summary string
}

// Message is a single utterance within a conversation.
type Message struct {
	// ID is the unique identifier for this message (a UUID).
	ID string

	// ConversationID is the owning conversation.
	ConversationID string

	// Role is who produced the message ([RoleUser], [RoleAssistant], [RoleSystem]).
	Role string

	// Content is the message text.
	Content string

	// Timestamp is when the message was stored.
	Timestamp time.Time
}

// Memory is a long-lived, user-scoped record extracted from conversations:
// a fact, preference, action item, or conversation summary. Each memory
// carries an embedding so it can be retrieved by semantic similarity.
type Memory struct {
	// ID is the unique identifier for this memory (a UUID).
	ID string

	// UserID is the user this memory is about.
	UserID string

	// Type classifies the memory ([MemoryFact], [MemorySummary],
	// [MemoryPreference], [MemoryActionItem]).
	Type string

	// Content is the memory text, phrased from the user's perspective
	// (e.g. "User's name is Alice").
	Content string

	// Confidence is how certain the extraction was (0.0 to 1.0).
	Confidence float64

	// SourceChannel is the channel the memory was extracted from
	// ([ChannelVoice] or [ChannelText]).
	SourceChannel string

	// SourceConversationID is the conversation the memory came from.
	// Empty when unknown.
	SourceConversationID string

	// SupersedesID is the ID of an earlier memory this one replaces.
	// Empty when the memory is new information.
	SupersedesID string

	// CreatedAt is when the memory was stored.
	CreatedAt time.Time

	// ExpiresAt is when the memory stops being returned by semantic search.
	// Nil means it never expires.
	ExpiresAt *time.Time
}

// MemoryRecord is the input to [Store.StoreMemory]. The store assigns the
// ID and timestamp and computes the embedding from Content.
type MemoryRecord struct {
	// UserID is the user this memory is about. Required.
	UserID string

	// Type classifies the memory. Required.
	Type string

	// Content is the memory text. Required, non-empty.
	Content string

	// Confidence is the extraction confidence (0.0 to 1.0).
	Confidence float64

	// SourceChannel is the originating channel. Required.
	SourceChannel string

	// SourceConversationID links the memory to its source conversation.
	// Optional; empty means no link.
	SourceConversationID string

	// SupersedesID marks an earlier memory this one replaces.
	// Optional; empty means none.
	SupersedesID string

	// ExpiresAt sets an expiry for the memory. Nil means it never expires.
	ExpiresAt *time.Time
}

// ScoredMemory pairs a retrieved memory with its cosine similarity to the
// search query. Similarity ranges over [-1, 1]; higher is more similar.
type ScoredMemory struct {
	Memory

	// Similarity is 1 minus the cosine distance between the memory's
	// embedding and the query embedding.
	Similarity float64
}
