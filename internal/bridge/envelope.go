package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Carrier media-stream event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// Envelope is one JSON message on the carrier media stream. Inbound
// envelopes populate the section matching their event; outbound media
// envelopes carry the stream id and a payload.
type Envelope struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
}

// StartPayload announces stream metadata when the carrier begins a call.
type StartPayload struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid,omitempty"`
}

// MediaPayload carries one base64-encoded chunk of 8 kHz mono µ-law audio.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// StartStreamSid returns the stream id announced by a start envelope. Some
// carriers duplicate it at the top level, so that is the fallback.
func (e *Envelope) StartStreamSid() string {
	if e.Start != nil && e.Start.StreamSid != "" {
		return e.Start.StreamSid
	}
	return e.StreamSid
}

// ParseEnvelope decodes a carrier text frame.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bridge: parse envelope: %w", err)
	}
	return &env, nil
}

// MediaEnvelope encodes µ-law bytes as an outbound media message for the
// given stream.
func MediaEnvelope(streamSid string, ulaw []byte) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: marshal envelope: %w", err)
	}
	return data, nil
}
