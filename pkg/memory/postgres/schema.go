// Package postgres provides the PostgreSQL-backed implementation of
// [memory.Store]: users, conversations, messages, and extracted memories
// with pgvector similarity search.
//
// All tables share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536, embedder)
//	if err != nil { … }
//	defer store.Close()
//
//	user, _ := store.GetOrCreateUser(ctx, "+14155550100")
//	conv, _ := store.CreateConversation(ctx, user.ID, memory.ChannelVoice, "personaplex")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id           UUID         PRIMARY KEY,
    phone_number VARCHAR(20)  NOT NULL UNIQUE,
    display_name TEXT         NOT NULL DEFAULT '',
    metadata     JSONB        NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id          UUID         PRIMARY KEY,
    user_id     UUID         NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    channel     TEXT         NOT NULL CHECK (channel IN ('voice', 'text')),
    model_used  TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ,
    summary     TEXT         NOT NULL DEFAULT '',
    metadata    JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_id
    ON conversations (user_id);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id              UUID         PRIMARY KEY,
    conversation_id UUID         NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
    role            TEXT         NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content         TEXT         NOT NULL,
    metadata        JSONB        NOT NULL DEFAULT '{}',
    timestamp       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
    ON messages (conversation_id);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_timestamp
    ON messages (conversation_id, timestamp);
`

// ddlMemories returns the memories DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlMemories(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id                     UUID              PRIMARY KEY,
    user_id                UUID              NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    type                   TEXT              NOT NULL CHECK (type IN ('fact', 'summary', 'preference', 'action_item')),
    content                TEXT              NOT NULL,
    embedding              vector(%d),
    confidence             DOUBLE PRECISION  NOT NULL DEFAULT 1.0,
    source_channel         TEXT              NOT NULL CHECK (source_channel IN ('voice', 'text')),
    source_conversation_id UUID              REFERENCES conversations (id) ON DELETE SET NULL,
    supersedes_id          UUID              REFERENCES memories (id) ON DELETE SET NULL,
    metadata               JSONB             NOT NULL DEFAULT '{}',
    created_at             TIMESTAMPTZ       NOT NULL DEFAULT now(),
    expires_at             TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_memories_user_id
    ON memories (user_id);

CREATE INDEX IF NOT EXISTS idx_memories_user_type
    ON memories (user_id, type);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires
// a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlUsers,
		ddlConversations,
		ddlMessages,
		ddlMemories(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
