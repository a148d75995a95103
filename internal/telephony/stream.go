package telephony

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/antiphonal/crosstalk/internal/observe"
)

// CallRegistry tracks calls in flight so the app can report on them and
// drain them at shutdown. Implementations must be safe for concurrent use.
type CallRegistry interface {
	// Register adds a call and returns the function that removes it.
	Register(caller string) (unregister func())
}

// noopRegistry stands in when no registry is configured.
type noopRegistry struct{}

func (noopRegistry) Register(string) func() { return func() {} }

// VoiceStream accepts the carrier's media stream WebSocket and runs the
// call session on it. The connection lives until the call ends; the request
// context is cancelled when the carrier drops, which stops the session.
func (s *Server) VoiceStream(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		caller = "unknown"
	}
	log := observe.Logger(r.Context())

	// The carrier's stream client is not a browser; origin checks do not
	// apply to it.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Warn("carrier stream accept failed", "err", err)
		return
	}
	log.Info("carrier stream connected")

	unregister := s.calls.Register(caller)
	defer unregister()

	if err := s.voice.HandleCall(r.Context(), conn, caller); err != nil {
		log.Error("call session failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session failed")
		return
	}
	log.Info("carrier stream closed")
	conn.Close(websocket.StatusNormalClosure, "call complete")
}
