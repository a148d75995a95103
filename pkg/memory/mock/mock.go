// Package mock provides an in-memory test double for [memory.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.GetOrCreateUserResult = memory.User{ID: "u1", PhoneNumber: "+14155550100"}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("StoreMemory"); got != 2 {
//	    t.Errorf("expected 2 StoreMemory calls, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antiphonal/crosstalk/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.Store]. All exported *Err
// fields default to nil (success); all exported *Result fields default to
// their zero value.
//
// AddMessage and StoreMemory fabricate their return values from the call
// arguments so tests can assert on what flowed through without configuring
// every response.
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// messages accumulates everything passed to AddMessage.
	messages []memory.Message

	// stored accumulates everything passed to StoreMemory.
	stored []memory.MemoryRecord

	// GetOrCreateUserResult is returned by [Store.GetOrCreateUser].
	GetOrCreateUserResult memory.User

	// GetOrCreateUserErr is returned by [Store.GetOrCreateUser] when non-nil.
	GetOrCreateUserErr error

	// CreateConversationResult is returned by [Store.CreateConversation].
	CreateConversationResult memory.Conversation

	// CreateConversationErr is returned by [Store.CreateConversation] when non-nil.
	CreateConversationErr error

	// AddMessageErr is returned by [Store.AddMessage] when non-nil.
	AddMessageErr error

	// ConversationMessagesResult is returned by [Store.ConversationMessages].
	// When nil, ConversationMessages returns an empty non-nil slice.
	ConversationMessagesResult []memory.Message

	// ConversationMessagesErr is returned by [Store.ConversationMessages] when non-nil.
	ConversationMessagesErr error

	// LatestTextConversationResult is returned by [Store.LatestTextConversation].
	// Nil means no active conversation.
	LatestTextConversationResult *memory.Conversation

	// LatestTextConversationErr is returned by [Store.LatestTextConversation] when non-nil.
	LatestTextConversationErr error

	// EndConversationErr is returned by [Store.EndConversation] when non-nil.
	EndConversationErr error

	// StoreMemoryErr is returned by [Store.StoreMemory] when non-nil.
	StoreMemoryErr error

	// SemanticSearchResult is returned by [Store.SemanticSearch].
	// When nil, SemanticSearch returns an empty non-nil slice.
	SemanticSearchResult []memory.ScoredMemory

	// SemanticSearchErr is returned by [Store.SemanticSearch] when non-nil.
	SemanticSearchErr error

	// RecentMemoriesResult is returned by [Store.RecentMemories].
	// When nil, RecentMemories returns an empty non-nil slice.
	RecentMemoriesResult []memory.Memory

	// RecentMemoriesErr is returned by [Store.RecentMemories] when non-nil.
	RecentMemoriesErr error
}

var _ memory.Store = (*Store)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Messages returns a copy of every message passed to AddMessage.
func (m *Store) Messages() []memory.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// StoredRecords returns a copy of every record passed to StoreMemory.
func (m *Store) StoredRecords() []memory.MemoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.MemoryRecord, len(m.stored))
	copy(out, m.stored)
	return out
}

// Reset clears all recorded calls without altering response configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.messages = nil
	m.stored = nil
}

// GetOrCreateUser implements [memory.Store].
func (m *Store) GetOrCreateUser(_ context.Context, phoneNumber string) (memory.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetOrCreateUser", Args: []any{phoneNumber}})
	return m.GetOrCreateUserResult, m.GetOrCreateUserErr
}

// CreateConversation implements [memory.Store].
func (m *Store) CreateConversation(_ context.Context, userID, channel, model string) (memory.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "CreateConversation", Args: []any{userID, channel, model}})
	return m.CreateConversationResult, m.CreateConversationErr
}

// AddMessage implements [memory.Store]. On success it fabricates the
// returned message from the arguments with a sequential ID.
func (m *Store) AddMessage(_ context.Context, conversationID, role, content string) (memory.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "AddMessage", Args: []any{conversationID, role, content}})
	if m.AddMessageErr != nil {
		return memory.Message{}, m.AddMessageErr
	}
	msg := memory.Message{
		ID:             fmt.Sprintf("msg-%d", len(m.messages)+1),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now(),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

// ConversationMessages implements [memory.Store].
func (m *Store) ConversationMessages(_ context.Context, conversationID string) ([]memory.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ConversationMessages", Args: []any{conversationID}})
	if m.ConversationMessagesResult == nil {
		return []memory.Message{}, m.ConversationMessagesErr
	}
	out := make([]memory.Message, len(m.ConversationMessagesResult))
	copy(out, m.ConversationMessagesResult)
	return out, m.ConversationMessagesErr
}

// LatestTextConversation implements [memory.Store].
func (m *Store) LatestTextConversation(_ context.Context, userID string, idleWindow time.Duration) (*memory.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "LatestTextConversation", Args: []any{userID, idleWindow}})
	return m.LatestTextConversationResult, m.LatestTextConversationErr
}

// EndConversation implements [memory.Store].
func (m *Store) EndConversation(_ context.Context, conversationID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "EndConversation", Args: []any{conversationID, summary}})
	return m.EndConversationErr
}

// StoreMemory implements [memory.Store]. On success it fabricates the
// returned memory from rec with a sequential ID.
func (m *Store) StoreMemory(_ context.Context, rec memory.MemoryRecord) (memory.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "StoreMemory", Args: []any{rec}})
	if m.StoreMemoryErr != nil {
		return memory.Memory{}, m.StoreMemoryErr
	}
	m.stored = append(m.stored, rec)
	return memory.Memory{
		ID:                   fmt.Sprintf("mem-%d", len(m.stored)),
		UserID:               rec.UserID,
		Type:                 rec.Type,
		Content:              rec.Content,
		Confidence:           rec.Confidence,
		SourceChannel:        rec.SourceChannel,
		SourceConversationID: rec.SourceConversationID,
		SupersedesID:         rec.SupersedesID,
		CreatedAt:            time.Now(),
		ExpiresAt:            rec.ExpiresAt,
	}, nil
}

// SemanticSearch implements [memory.Store].
func (m *Store) SemanticSearch(_ context.Context, userID, query string, topK int) ([]memory.ScoredMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SemanticSearch", Args: []any{userID, query, topK}})
	if m.SemanticSearchResult == nil {
		return []memory.ScoredMemory{}, m.SemanticSearchErr
	}
	out := make([]memory.ScoredMemory, len(m.SemanticSearchResult))
	copy(out, m.SemanticSearchResult)
	return out, m.SemanticSearchErr
}

// RecentMemories implements [memory.Store].
func (m *Store) RecentMemories(_ context.Context, userID, memoryType string, limit int) ([]memory.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "RecentMemories", Args: []any{userID, memoryType, limit}})
	if m.RecentMemoriesResult == nil {
		return []memory.Memory{}, m.RecentMemoriesErr
	}
	out := make([]memory.Memory, len(m.RecentMemoriesResult))
	copy(out, m.RecentMemoriesResult)
	return out, m.RecentMemoriesErr
}
