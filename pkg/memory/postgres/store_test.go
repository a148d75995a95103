package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/antiphonal/crosstalk/pkg/memory"
	"github.com/antiphonal/crosstalk/pkg/memory/postgres"
	embedmock "github.com/antiphonal/crosstalk/pkg/provider/embeddings/mock"
)

const testEmbeddingDim = 4

// testVectors maps memory/query text to a fixed unit vector so similarity
// ranking in tests is fully deterministic. Unknown text embeds to the last
// axis.
var testVectors = map[string][]float32{
	"User's name is Alice":        {1, 0, 0, 0},
	"name":                        {1, 0, 0, 0},
	"User prefers short replies":  {0, 1, 0, 0},
	"replies":                     {0, 1, 0, 0},
	"User lives in San Francisco": {0, 0, 1, 0},
}

func testEmbedder() *embedmock.Provider {
	return &embedmock.Provider{
		DimensionsValue: testEmbeddingDim,
		ModelIDValue:    "test-embed",
		EmbedFunc: func(text string) []float32 {
			if v, ok := testVectors[text]; ok {
				return v
			}
			return []float32{0, 0, 0, 1}
		},
	}
}

// testDSN returns the test database DSN from the environment, or skips the
// test if CROSSTALK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CROSSTALK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CROSSTALK_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema and a
// deterministic mock embedder. The returned pool can be used for raw
// statements (e.g. backdating timestamps). Both are closed via t.Cleanup.
func newTestStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	rawPool := mustPool(t, ctx, dsn)
	t.Cleanup(rawPool.Close)
	dropSchema(t, ctx, rawPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim, testEmbedder())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store, rawPool
}

// mustPool opens a pgxpool with pgvector types registered.
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS memories CASCADE",
		"DROP TABLE IF EXISTS messages CASCADE",
		"DROP TABLE IF EXISTS conversations CASCADE",
		"DROP TABLE IF EXISTS users CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func TestGetOrCreateUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	u1, err := store.GetOrCreateUser(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if u1.ID == "" {
		t.Fatal("GetOrCreateUser: empty ID")
	}
	if u1.PhoneNumber != "+14155550100" {
		t.Errorf("PhoneNumber: got %q, want +14155550100", u1.PhoneNumber)
	}
	if u1.CreatedAt.IsZero() {
		t.Error("CreatedAt: zero time")
	}

	// Same number yields the same user.
	u2, err := store.GetOrCreateUser(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("GetOrCreateUser again: %v", err)
	}
	if u2.ID != u1.ID {
		t.Errorf("second lookup: got ID %s, want %s", u2.ID, u1.ID)
	}

	// A different number yields a different user.
	u3, err := store.GetOrCreateUser(ctx, "+14155550101")
	if err != nil {
		t.Fatalf("GetOrCreateUser other: %v", err)
	}
	if u3.ID == u1.ID {
		t.Error("different numbers share a user ID")
	}
}

func TestConversationLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	conv, err := store.CreateConversation(ctx, user.ID, memory.ChannelVoice, "personaplex")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("CreateConversation: empty ID")
	}
	if conv.Channel != memory.ChannelVoice {
		t.Errorf("Channel: got %q, want voice", conv.Channel)
	}
	if conv.StartedAt.IsZero() {
		t.Error("StartedAt: zero time")
	}

	// Messages come back in insertion order.
	wantTurns := []struct{ role, content string }{
		{memory.RoleUser, "Hi, my name is Alice."},
		{memory.RoleAssistant, "Nice to meet you, Alice."},
		{memory.RoleUser, "Remind me to call the dentist."},
	}
	for _, turn := range wantTurns {
		if _, err := store.AddMessage(ctx, conv.ID, turn.role, turn.content); err != nil {
			t.Fatalf("AddMessage(%s): %v", turn.role, err)
		}
	}

	msgs, err := store.ConversationMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ConversationMessages: %v", err)
	}
	if len(msgs) != len(wantTurns) {
		t.Fatalf("messages: got %d, want %d", len(msgs), len(wantTurns))
	}
	for i, turn := range wantTurns {
		if msgs[i].Role != turn.role || msgs[i].Content != turn.content {
			t.Errorf("message %d: got (%s, %q), want (%s, %q)",
				i, msgs[i].Role, msgs[i].Content, turn.role, turn.content)
		}
	}

	// Unknown conversation returns an empty non-nil slice.
	none, err := store.ConversationMessages(ctx, "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("ConversationMessages unknown: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("unknown conversation: want empty non-nil slice, got %v", none)
	}

	if err := store.EndConversation(ctx, conv.ID, "Alice asked for a dentist reminder."); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}

	// Ending a missing conversation is an error.
	if err := store.EndConversation(ctx, "00000000-0000-0000-0000-000000000000", ""); err == nil {
		t.Error("EndConversation missing: expected error, got nil")
	}
}

func TestLatestTextConversation(t *testing.T) {
	store, rawPool := newTestStore(t)
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	// No conversations yet.
	got, err := store.LatestTextConversation(ctx, user.ID, 30*time.Minute)
	if err != nil {
		t.Fatalf("LatestTextConversation empty: %v", err)
	}
	if got != nil {
		t.Errorf("empty store: want nil, got %+v", got)
	}

	// A voice conversation must never be returned.
	voice, err := store.CreateConversation(ctx, user.ID, memory.ChannelVoice, "personaplex")
	if err != nil {
		t.Fatalf("CreateConversation voice: %v", err)
	}
	if _, err := store.AddMessage(ctx, voice.ID, memory.RoleAssistant, "Hello."); err != nil {
		t.Fatalf("AddMessage voice: %v", err)
	}
	got, err = store.LatestTextConversation(ctx, user.ID, 30*time.Minute)
	if err != nil {
		t.Fatalf("LatestTextConversation voice-only: %v", err)
	}
	if got != nil {
		t.Errorf("voice-only: want nil, got %+v", got)
	}

	// An active text conversation with a fresh message is found.
	text, err := store.CreateConversation(ctx, user.ID, memory.ChannelText, "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("CreateConversation text: %v", err)
	}
	if _, err := store.AddMessage(ctx, text.ID, memory.RoleUser, "hey"); err != nil {
		t.Fatalf("AddMessage text: %v", err)
	}
	got, err = store.LatestTextConversation(ctx, user.ID, 30*time.Minute)
	if err != nil {
		t.Fatalf("LatestTextConversation active: %v", err)
	}
	if got == nil || got.ID != text.ID {
		t.Fatalf("active: want %s, got %+v", text.ID, got)
	}
	if got.ModelUsed != "claude-sonnet-4-20250514" {
		t.Errorf("ModelUsed: got %q", got.ModelUsed)
	}

	// Once the last message falls outside the idle window, it is inactive.
	if _, err := rawPool.Exec(ctx,
		"UPDATE messages SET timestamp = now() - interval '1 hour' WHERE conversation_id = $1::uuid",
		text.ID,
	); err != nil {
		t.Fatalf("backdate messages: %v", err)
	}
	got, err = store.LatestTextConversation(ctx, user.ID, 30*time.Minute)
	if err != nil {
		t.Fatalf("LatestTextConversation stale: %v", err)
	}
	if got != nil {
		t.Errorf("stale: want nil, got %+v", got)
	}

	// A wider window finds it again.
	got, err = store.LatestTextConversation(ctx, user.ID, 2*time.Hour)
	if err != nil {
		t.Fatalf("LatestTextConversation wide: %v", err)
	}
	if got == nil || got.ID != text.ID {
		t.Errorf("wide window: want %s, got %+v", text.ID, got)
	}

	// An ended conversation is never returned.
	if err := store.EndConversation(ctx, text.ID, "done"); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	got, err = store.LatestTextConversation(ctx, user.ID, 2*time.Hour)
	if err != nil {
		t.Fatalf("LatestTextConversation ended: %v", err)
	}
	if got != nil {
		t.Errorf("ended: want nil, got %+v", got)
	}
}

func TestStoreMemoryAndSemanticSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	conv, err := store.CreateConversation(ctx, user.ID, memory.ChannelVoice, "personaplex")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	for _, content := range []string{
		"User's name is Alice",
		"User prefers short replies",
		"User lives in San Francisco",
	} {
		rec := memory.MemoryRecord{
			UserID:               user.ID,
			Type:                 memory.MemoryFact,
			Content:              content,
			Confidence:           0.9,
			SourceChannel:        memory.ChannelVoice,
			SourceConversationID: conv.ID,
		}
		stored, err := store.StoreMemory(ctx, rec)
		if err != nil {
			t.Fatalf("StoreMemory(%q): %v", content, err)
		}
		if stored.ID == "" || stored.CreatedAt.IsZero() {
			t.Errorf("StoreMemory(%q): incomplete record %+v", content, stored)
		}
	}

	// "name" embeds to the same axis as the Alice fact, so it must rank first
	// with similarity 1.
	results, err := store.SemanticSearch(ctx, user.ID, "name", 10)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results: got %d, want 3", len(results))
	}
	if results[0].Content != "User's name is Alice" {
		t.Errorf("top result: got %q", results[0].Content)
	}
	if sim := results[0].Similarity; sim < 0.999 || sim > 1.001 {
		t.Errorf("top similarity: got %v, want 1", sim)
	}
	if results[1].Similarity > results[0].Similarity {
		t.Error("results not ordered by similarity")
	}
	if results[0].SourceConversationID != conv.ID {
		t.Errorf("SourceConversationID: got %q, want %q", results[0].SourceConversationID, conv.ID)
	}

	// topK caps the result count.
	capped, err := store.SemanticSearch(ctx, user.ID, "replies", 1)
	if err != nil {
		t.Fatalf("SemanticSearch capped: %v", err)
	}
	if len(capped) != 1 || capped[0].Content != "User prefers short replies" {
		t.Errorf("capped: got %+v", capped)
	}

	// Expired memories are excluded; future expiries are not.
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	for content, expiry := range map[string]*time.Time{
		"expired note": &past,
		"pending note": &future,
	} {
		if _, err := store.StoreMemory(ctx, memory.MemoryRecord{
			UserID:        user.ID,
			Type:          memory.MemoryActionItem,
			Content:       content,
			Confidence:    1,
			SourceChannel: memory.ChannelText,
			ExpiresAt:     expiry,
		}); err != nil {
			t.Fatalf("StoreMemory(%q): %v", content, err)
		}
	}
	all, err := store.SemanticSearch(ctx, user.ID, "anything", 10)
	if err != nil {
		t.Fatalf("SemanticSearch all: %v", err)
	}
	for _, r := range all {
		if r.Content == "expired note" {
			t.Error("expired memory returned by search")
		}
	}
	found := false
	for _, r := range all {
		if r.Content == "pending note" {
			found = true
			if r.ExpiresAt == nil {
				t.Error("pending note: ExpiresAt not round-tripped")
			}
		}
	}
	if !found {
		t.Error("unexpired memory missing from search")
	}

	// A user with no memories gets an empty non-nil slice.
	other, err := store.GetOrCreateUser(ctx, "+14155550199")
	if err != nil {
		t.Fatalf("GetOrCreateUser other: %v", err)
	}
	none, err := store.SemanticSearch(ctx, other.ID, "name", 10)
	if err != nil {
		t.Fatalf("SemanticSearch other: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("no memories: want empty non-nil slice, got %v", none)
	}

	// Empty content is rejected before any embedding happens.
	if _, err := store.StoreMemory(ctx, memory.MemoryRecord{UserID: user.ID, Type: memory.MemoryFact, SourceChannel: memory.ChannelVoice}); err == nil {
		t.Error("StoreMemory empty content: expected error, got nil")
	}
}

func TestRecentMemoriesAndSupersedes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	first, err := store.StoreMemory(ctx, memory.MemoryRecord{
		UserID:        user.ID,
		Type:          memory.MemoryFact,
		Content:       "User lives in San Francisco",
		Confidence:    0.8,
		SourceChannel: memory.ChannelVoice,
	})
	if err != nil {
		t.Fatalf("StoreMemory first: %v", err)
	}
	if _, err := store.StoreMemory(ctx, memory.MemoryRecord{
		UserID:        user.ID,
		Type:          memory.MemoryPreference,
		Content:       "User prefers short replies",
		Confidence:    1,
		SourceChannel: memory.ChannelText,
	}); err != nil {
		t.Fatalf("StoreMemory preference: %v", err)
	}
	second, err := store.StoreMemory(ctx, memory.MemoryRecord{
		UserID:        user.ID,
		Type:          memory.MemoryFact,
		Content:       "User's name is Alice",
		Confidence:    1,
		SourceChannel: memory.ChannelVoice,
		SupersedesID:  first.ID,
	})
	if err != nil {
		t.Fatalf("StoreMemory second: %v", err)
	}

	// Type filter plus newest-first ordering.
	facts, err := store.RecentMemories(ctx, user.ID, memory.MemoryFact, 10)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("facts: got %d, want 2", len(facts))
	}
	if facts[0].ID != second.ID {
		t.Errorf("ordering: got %s first, want %s", facts[0].ID, second.ID)
	}
	if facts[0].SupersedesID != first.ID {
		t.Errorf("SupersedesID: got %q, want %q", facts[0].SupersedesID, first.ID)
	}
	if facts[1].SupersedesID != "" {
		t.Errorf("first fact SupersedesID: got %q, want empty", facts[1].SupersedesID)
	}

	// Limit caps the result count.
	capped, err := store.RecentMemories(ctx, user.ID, memory.MemoryFact, 1)
	if err != nil {
		t.Fatalf("RecentMemories capped: %v", err)
	}
	if len(capped) != 1 {
		t.Errorf("capped: got %d, want 1", len(capped))
	}

	// No memories of a type yields an empty non-nil slice.
	summaries, err := store.RecentMemories(ctx, user.ID, memory.MemorySummary, 10)
	if err != nil {
		t.Fatalf("RecentMemories summaries: %v", err)
	}
	if summaries == nil || len(summaries) != 0 {
		t.Errorf("summaries: want empty non-nil slice, got %v", summaries)
	}
}
