package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/antiphonal/crosstalk/pkg/memory"
)

// Defaults applied when a caller passes a non-positive limit.
const (
	defaultSearchTopK  = 10
	defaultRecentLimit = 50
)

// memoryColumns is the shared SELECT list for memory rows. Nullable UUID
// references come back as empty strings.
const memoryColumns = `id::text, user_id::text, type, content, confidence, source_channel,
	       COALESCE(source_conversation_id::text, ''), COALESCE(supersedes_id::text, ''),
	       created_at, expires_at`

// StoreMemory implements [memory.Store]. It embeds rec.Content via the
// injected embeddings provider and inserts the row with a fresh UUID.
func (s *Store) StoreMemory(ctx context.Context, rec memory.MemoryRecord) (memory.Memory, error) {
	if rec.Content == "" {
		return memory.Memory{}, fmt.Errorf("memory store: store memory: empty content")
	}

	vec, err := s.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return memory.Memory{}, fmt.Errorf("memory store: embed content: %w", err)
	}

	const q = `
		INSERT INTO memories
		    (id, user_id, type, content, embedding, confidence, source_channel,
		     source_conversation_id, supersedes_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::uuid, NULLIF($9, '')::uuid, $10)
		RETURNING created_at`

	m := memory.Memory{
		ID:                   uuid.NewString(),
		UserID:               rec.UserID,
		Type:                 rec.Type,
		Content:              rec.Content,
		Confidence:           rec.Confidence,
		SourceChannel:        rec.SourceChannel,
		SourceConversationID: rec.SourceConversationID,
		SupersedesID:         rec.SupersedesID,
		ExpiresAt:            rec.ExpiresAt,
	}
	err = s.pool.QueryRow(ctx, q,
		m.ID,
		rec.UserID,
		rec.Type,
		rec.Content,
		pgvector.NewVector(vec),
		rec.Confidence,
		rec.SourceChannel,
		rec.SourceConversationID,
		rec.SupersedesID,
		rec.ExpiresAt,
	).Scan(&m.CreatedAt)
	if err != nil {
		return memory.Memory{}, fmt.Errorf("memory store: store memory: %w", err)
	}
	return m, nil
}

// SemanticSearch implements [memory.Store]. It embeds the query text and
// ranks the user's unexpired memories by cosine similarity, most similar
// first. topK values of 0 or less fall back to a default of 10.
func (s *Store) SemanticSearch(ctx context.Context, userID, query string, topK int) ([]memory.ScoredMemory, error) {
	if topK <= 0 {
		topK = defaultSearchTopK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory store: embed query: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT %s,
		       1 - (embedding <=> $2) AS similarity
		FROM   memories
		WHERE  user_id = $1
		  AND  (expires_at IS NULL OR expires_at > now())
		ORDER  BY embedding <=> $2
		LIMIT  $3`, memoryColumns)

	rows, err := s.pool.Query(ctx, q, userID, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("memory store: semantic search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ScoredMemory, error) {
		var sm memory.ScoredMemory
		if err := scanMemory(row, &sm.Memory, &sm.Similarity); err != nil {
			return memory.ScoredMemory{}, err
		}
		return sm, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan search results: %w", err)
	}
	if results == nil {
		results = []memory.ScoredMemory{}
	}
	return results, nil
}

// RecentMemories implements [memory.Store]. It returns the user's newest
// memories of the given type, newest first. limit values of 0 or less fall
// back to a default of 50.
func (s *Store) RecentMemories(ctx context.Context, userID, memoryType string, limit int) ([]memory.Memory, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM   memories
		WHERE  user_id = $1
		  AND  type    = $2
		ORDER  BY created_at DESC
		LIMIT  $3`, memoryColumns)

	rows, err := s.pool.Query(ctx, q, userID, memoryType, limit)
	if err != nil {
		return nil, fmt.Errorf("memory store: recent memories: %w", err)
	}

	memories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Memory, error) {
		var m memory.Memory
		if err := scanMemory(row, &m); err != nil {
			return memory.Memory{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan memories: %w", err)
	}
	if memories == nil {
		memories = []memory.Memory{}
	}
	return memories, nil
}

// scanMemory scans one row laid out as [memoryColumns] into m, followed by
// any extra trailing columns (e.g. the similarity score).
func scanMemory(row pgx.CollectableRow, m *memory.Memory, extra ...any) error {
	dests := []any{
		&m.ID,
		&m.UserID,
		&m.Type,
		&m.Content,
		&m.Confidence,
		&m.SourceChannel,
		&m.SourceConversationID,
		&m.SupersedesID,
		&m.CreatedAt,
		&m.ExpiresAt,
	}
	dests = append(dests, extra...)
	return row.Scan(dests...)
}
