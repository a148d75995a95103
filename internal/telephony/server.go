// Package telephony is the carrier-facing HTTP front end: webhook handlers
// for incoming calls and SMS, and the WebSocket endpoint carrier media
// streams connect back to.
package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/antiphonal/crosstalk/internal/observe"
)

// CallHandler runs one accepted carrier media stream to completion.
// *session.Handler satisfies it.
type CallHandler interface {
	HandleCall(ctx context.Context, carrier *websocket.Conn, caller string) error
}

// SMSHandler produces the reply for one inbound message. *text.Handler
// satisfies it.
type SMSHandler interface {
	HandleMessage(ctx context.Context, from, body string) (string, error)
}

// Config holds the dependencies for the carrier front end.
type Config struct {
	// Voice runs accepted media streams. Must not be nil.
	Voice CallHandler

	// SMS answers inbound messages. Must not be nil.
	SMS SMSHandler

	// Calls tracks calls in flight. May be nil.
	Calls CallRegistry

	// AuthToken is the webhook signing secret. Empty disables signature
	// validation (development mode).
	AuthToken string

	// PublicHost is the externally reachable host (and optional port) used
	// in TwiML stream URLs and signature checks. Empty falls back to the
	// request's Host header.
	PublicHost string
}

// Server holds the webhook and stream handlers. Register wires them onto a
// mux; the app owns the http.Server lifecycle.
type Server struct {
	voice      CallHandler
	sms        SMSHandler
	calls      CallRegistry
	authToken  string
	publicHost string
}

// New creates the carrier front end from the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Voice == nil {
		return nil, errors.New("telephony: Voice must not be nil")
	}
	if cfg.SMS == nil {
		return nil, errors.New("telephony: SMS must not be nil")
	}
	calls := cfg.Calls
	if calls == nil {
		calls = noopRegistry{}
	}
	return &Server{
		voice:      cfg.Voice,
		sms:        cfg.SMS,
		calls:      calls,
		authToken:  cfg.AuthToken,
		publicHost: cfg.PublicHost,
	}, nil
}

// Register adds the carrier-facing routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /voice/incoming", s.VoiceIncoming)
	mux.HandleFunc("POST /sms/incoming", s.SMSIncoming)
	mux.HandleFunc("GET /voice/stream", s.VoiceStream)
}

// VoiceIncoming answers the carrier's incoming-call webhook with TwiML that
// connects the call's audio to the stream endpoint.
func (s *Server) VoiceIncoming(w http.ResponseWriter, r *http.Request) {
	params, err := formParams(r)
	if err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	if !s.validSignature(r, params) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	caller := params["From"]
	if caller == "" {
		caller = "unknown"
	}
	observe.Logger(r.Context()).Info("incoming voice call", "call_sid", params["CallSid"])

	writeTwiML(w, voiceStreamTwiML(s.streamURL(r, caller)))
}

// SMSIncoming answers the carrier's inbound-SMS webhook with TwiML carrying
// the generated reply. A handling failure returns 500 so the carrier
// retries delivery.
func (s *Server) SMSIncoming(w http.ResponseWriter, r *http.Request) {
	params, err := formParams(r)
	if err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	if !s.validSignature(r, params) {
		observe.DefaultMetrics().RecordSMS(r.Context(), "rejected")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	reply, err := s.sms.HandleMessage(r.Context(), params["From"], params["Body"])
	if err != nil {
		observe.Logger(r.Context()).Error("sms handling failed", "err", err)
		observe.DefaultMetrics().RecordSMS(r.Context(), "error")
		http.Error(w, "sms handling failed", http.StatusInternalServerError)
		return
	}
	observe.DefaultMetrics().RecordSMS(r.Context(), "ok")

	writeTwiML(w, smsTwiML(reply))
}

// streamURL builds the WebSocket URL the carrier connects back to for the
// call's media stream.
func (s *Server) streamURL(r *http.Request, caller string) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return scheme + "://" + s.host(r) + "/voice/stream?caller=" + url.QueryEscape(caller)
}

// host returns the configured public host, or the request's Host header
// when none is configured.
func (s *Server) host(r *http.Request) string {
	if s.publicHost != "" {
		return s.publicHost
	}
	return r.Host
}

// formParams flattens the POST form into the map the signature check and
// the handlers consume. The carrier sends each parameter once.
func formParams(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params, nil
}

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
