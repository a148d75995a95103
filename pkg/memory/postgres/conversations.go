package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/antiphonal/crosstalk/pkg/memory"
)

// CreateConversation implements [memory.Store]. It opens a new conversation
// row; started_at is assigned by the database clock.
func (s *Store) CreateConversation(ctx context.Context, userID, channel, model string) (memory.Conversation, error) {
	const q = `
		INSERT INTO conversations (id, user_id, channel, model_used)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at`

	c := memory.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Channel:   channel,
		ModelUsed: model,
	}
	if err := s.pool.QueryRow(ctx, q, c.ID, userID, channel, model).Scan(&c.StartedAt); err != nil {
		return memory.Conversation{}, fmt.Errorf("memory store: create conversation: %w", err)
	}
	return c, nil
}

// AddMessage implements [memory.Store]. The message timestamp is assigned by
// the database clock so that idle-window comparisons never see client skew.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string) (memory.Message, error) {
	const q = `
		INSERT INTO messages (id, conversation_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING timestamp`

	m := memory.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	if err := s.pool.QueryRow(ctx, q, m.ID, conversationID, role, content).Scan(&m.Timestamp); err != nil {
		return memory.Message{}, fmt.Errorf("memory store: add message: %w", err)
	}
	return m, nil
}

// ConversationMessages implements [memory.Store]. Messages are returned in
// chronological order (oldest first).
func (s *Store) ConversationMessages(ctx context.Context, conversationID string) ([]memory.Message, error) {
	const q = `
		SELECT id::text, conversation_id::text, role, content, timestamp
		FROM   messages
		WHERE  conversation_id = $1
		ORDER  BY timestamp`

	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("memory store: conversation messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Message, error) {
		var m memory.Message
		if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return memory.Message{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan messages: %w", err)
	}
	if messages == nil {
		messages = []memory.Message{}
	}
	return messages, nil
}

// LatestTextConversation implements [memory.Store]. A text conversation is
// active when it has not ended and its newest message is younger than
// idleWindow. Returns (nil, nil) when the user has no active text
// conversation.
func (s *Store) LatestTextConversation(ctx context.Context, userID string, idleWindow time.Duration) (*memory.Conversation, error) {
	const q = `
		SELECT c.id::text, c.user_id::text, c.channel, c.model_used, c.started_at, c.summary
		FROM   conversations c
		JOIN   messages m ON m.conversation_id = c.id
		WHERE  c.user_id  = $1
		  AND  c.channel  = $2
		  AND  c.ended_at IS NULL
		GROUP  BY c.id
		HAVING MAX(m.timestamp) > now() - make_interval(secs => $3)
		ORDER  BY MAX(m.timestamp) DESC
		LIMIT  1`

	var c memory.Conversation
	err := s.pool.QueryRow(ctx, q, userID, memory.ChannelText, idleWindow.Seconds()).
		Scan(&c.ID, &c.UserID, &c.Channel, &c.ModelUsed, &c.StartedAt, &c.Summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory store: latest text conversation: %w", err)
	}
	return &c, nil
}

// EndConversation implements [memory.Store]. It stamps ended_at and records
// the summary. Returns an error when the conversation does not exist.
func (s *Store) EndConversation(ctx context.Context, conversationID, summary string) error {
	const q = `
		UPDATE conversations
		SET    ended_at = now(),
		       summary  = $2
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, conversationID, summary)
	if err != nil {
		return fmt.Errorf("memory store: end conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory store: end conversation: conversation %q not found", conversationID)
	}
	return nil
}
