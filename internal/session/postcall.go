package session

import (
	"context"
	"strings"
	"time"

	"github.com/antiphonal/crosstalk/internal/observe"
	"github.com/antiphonal/crosstalk/pkg/memory"
	"github.com/antiphonal/crosstalk/pkg/transcript"
)

// persistTimeout bounds the post-call transcript writes. The call is over
// at that point; a wedged pool must not pin the session goroutine.
const persistTimeout = 15 * time.Second

// postCall persists the transcript and schedules fact extraction. It runs
// exactly once per bridged call, on every exit path after the AI handshake.
// Database work runs on fresh contexts so that a cancelled call context
// cannot lose the transcript. Failures are logged and never affect the
// call outcome.
func (h *Handler) postCall(callCtx context.Context, userID, conversationID string, capture *transcript.Capture) {
	log := observe.Logger(callCtx).With("conversation_id", conversationID)
	log.Info("call disconnected")

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if turns := capture.Transcript(); len(turns) > 0 {
		for _, turn := range turns {
			if _, err := h.store.AddMessage(ctx, conversationID, turn.Role, turn.Content); err != nil {
				log.Error("failed to persist transcript turn", "err", err)
			}
		}
	} else if text := strings.TrimSpace(capture.FullText()); text != "" {
		// Token stream with no turn boundaries: keep it as one assistant
		// message rather than dropping it.
		if _, err := h.store.AddMessage(ctx, conversationID, memory.RoleAssistant, text); err != nil {
			log.Error("failed to persist transcript text", "err", err)
		}
	}

	if h.extractor == nil {
		return
	}
	go func() {
		ectx, cancel := context.WithTimeout(context.Background(), h.extractionTimeout)
		defer cancel()
		if err := h.extractor.ProcessConversation(ectx, userID, conversationID, memory.ChannelVoice); err != nil {
			log.Error("voice fact extraction failed", "err", err)
		}
	}()
}
