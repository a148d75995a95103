// Package session supervises a single voice call: it resolves the caller,
// opens the conversation record, dials the AI speech service, runs the
// media bridge, and persists the transcript once the call ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/antiphonal/crosstalk/internal/bridge"
	"github.com/antiphonal/crosstalk/internal/extract"
	"github.com/antiphonal/crosstalk/internal/observe"
	"github.com/antiphonal/crosstalk/pkg/memory"
	"github.com/antiphonal/crosstalk/pkg/phone"
	"github.com/antiphonal/crosstalk/pkg/transcript"
)

// Default tuning for [Config] fields left zero.
const (
	defaultMemoryTopK        = 10
	defaultExtractionTimeout = 2 * time.Minute
)

// Config holds the dependencies and tuning for voice call sessions.
type Config struct {
	// Store persists users, conversations, messages, and memories.
	// Must not be nil.
	Store memory.Store

	// Extractor turns finished conversations into long-term memories.
	// May be nil, in which case post-call extraction is skipped.
	Extractor *extract.Extractor

	// AIBaseURL is the WebSocket endpoint of the AI speech service,
	// e.g. "ws://personaplex:8998/api/chat". Must not be empty.
	AIBaseURL string

	// VoicePrompt selects the service-side voice for synthesized speech.
	VoicePrompt string

	// TextPrompt replaces the built-in conversation instruction when
	// non-empty. Retrieved memories are appended to it either way.
	TextPrompt string

	// Model is recorded on conversation rows for provenance.
	Model string

	// MemoryTopK caps how many memories are injected into the prompt.
	// Defaults to 10 if zero.
	MemoryTopK int

	// ExtractionTimeout bounds the detached post-call extraction task.
	// Defaults to 2 minutes if zero.
	ExtractionTimeout time.Duration
}

// Handler runs voice call sessions. Each call gets its own goroutines and
// codec state; a single Handler serves any number of concurrent calls.
type Handler struct {
	store             memory.Store
	extractor         *extract.Extractor
	aiBaseURL         string
	voicePrompt       string
	textPrompt        string
	model             string
	topK              int
	extractionTimeout time.Duration
}

// New creates a call session [Handler] from the given configuration.
func New(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: Store must not be nil")
	}
	if cfg.AIBaseURL == "" {
		return nil, errors.New("session: AIBaseURL must not be empty")
	}
	topK := cfg.MemoryTopK
	if topK <= 0 {
		topK = defaultMemoryTopK
	}
	extractionTimeout := cfg.ExtractionTimeout
	if extractionTimeout <= 0 {
		extractionTimeout = defaultExtractionTimeout
	}
	return &Handler{
		store:             cfg.Store,
		extractor:         cfg.Extractor,
		aiBaseURL:         cfg.AIBaseURL,
		voicePrompt:       cfg.VoicePrompt,
		textPrompt:        cfg.TextPrompt,
		model:             cfg.Model,
		topK:              topK,
		extractionTimeout: extractionTimeout,
	}, nil
}

// HandleCall drives one voice call over an accepted carrier WebSocket.
//
// The implementation:
//  1. Normalizes the caller to E.164 and upserts the user record.
//  2. Retrieves relevant memories and opens a conversation record.
//  3. Dials the AI speech service with the composed prompts.
//  4. Waits for the service's handshake frame.
//  5. Bridges audio and text until either side disconnects.
//  6. Persists the transcript and schedules fact extraction.
//
// An error in steps 1-4 fails the call with no conversation content
// written. Once the handshake has been received, post-call processing
// runs exactly once no matter how the bridge ends.
//
// HandleCall does not close the carrier socket; the caller owns it.
func (h *Handler) HandleCall(ctx context.Context, carrier *websocket.Conn, caller string) error {
	ctx, span := observe.StartSpan(ctx, "session.call")
	defer span.End()
	log := observe.Logger(ctx)

	user, err := h.store.GetOrCreateUser(ctx, phone.NormalizeE164(caller))
	if err != nil {
		return fmt.Errorf("session: resolve user: %w", err)
	}

	memories, err := h.store.SemanticSearch(ctx, user.ID, memoryProbe, h.topK)
	if err != nil {
		return fmt.Errorf("session: search memories: %w", err)
	}

	conv, err := h.store.CreateConversation(ctx, user.ID, memory.ChannelVoice, h.model)
	if err != nil {
		return fmt.Errorf("session: create conversation: %w", err)
	}
	log = log.With("user_id", user.ID, "conversation_id", conv.ID)
	log.Info("call session starting",
		"voice_prompt", h.voicePrompt,
		"memories", len(memories),
	)

	peer, err := h.dialAI(ctx, composePrompt(h.textPrompt, memories))
	if err != nil {
		return err
	}

	if err := awaitHandshake(ctx, peer); err != nil {
		_ = peer.Close(websocket.StatusProtocolError, "handshake failed")
		return err
	}
	log.Debug("ai handshake received")

	m := observe.DefaultMetrics()
	m.ActiveCalls.Add(ctx, 1)
	started := time.Now()

	var capture transcript.Capture
	br := bridge.New(carrier, peer, &capture)

	defer func() {
		m.ActiveCalls.Add(ctx, -1)
		m.CallDuration.Record(ctx, time.Since(started).Seconds())
		h.postCall(ctx, user.ID, conv.ID, &capture)
		_ = peer.Close(websocket.StatusNormalClosure, "call ended")
	}()

	return br.Run(ctx)
}

// dialAI opens the WebSocket to the AI speech service, passing the voice
// and text prompts as URL-encoded query parameters.
func (h *Handler) dialAI(ctx context.Context, textPrompt string) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("voice_prompt", h.voicePrompt)
	q.Set("text_prompt", textPrompt)
	conn, _, err := websocket.Dial(ctx, h.aiBaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("session: dial ai service: %w", err)
	}
	return conn, nil
}

// awaitHandshake reads the first message from the AI service, which must be
// a binary frame of kind [bridge.KindHandshake]. Anything else means the
// service is not speaking our protocol and the call cannot proceed.
func awaitHandshake(ctx context.Context, peer *websocket.Conn) error {
	typ, data, err := peer.Read(ctx)
	if err != nil {
		return fmt.Errorf("session: ai handshake: %w", err)
	}
	if typ != websocket.MessageBinary {
		return fmt.Errorf("session: ai handshake: first message is %v, want binary", typ)
	}
	kind, _, ok := bridge.SplitFrame(data)
	if !ok {
		return errors.New("session: ai handshake: empty first message")
	}
	if kind != bridge.KindHandshake {
		return fmt.Errorf("session: ai handshake: first frame kind %#x, want %#x", kind, bridge.KindHandshake)
	}
	return nil
}
