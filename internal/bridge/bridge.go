// Package bridge moves audio and text between the carrier media stream and
// the conversational peer for a single call.
//
// Two pumps run concurrently: carrier→peer transcodes inbound µ-law chunks
// to Opus packets, peer→carrier transcodes Opus back to µ-law envelopes and
// collects response text tokens. Whichever pump finishes first stops the
// other; a clean carrier stop or a normal close on either socket ends the
// bridge without error.
package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/antiphonal/crosstalk/internal/observe"
	"github.com/antiphonal/crosstalk/pkg/audio"
	"github.com/antiphonal/crosstalk/pkg/transcript"
)

// Bridge shuttles media between one carrier stream and one peer socket.
// Construct with New and drive with Run; a Bridge is single-use.
type Bridge struct {
	carrier *websocket.Conn
	peer    *websocket.Conn
	capture *transcript.Capture

	// streamSid is published once by the carrier→peer pump when the start
	// envelope arrives and read by the peer→carrier pump. Until it is set,
	// outbound audio has no addressable stream and is dropped.
	streamSid atomic.Pointer[string]

	// residual and encoder belong to the carrier→peer pump.
	residual *audio.FrameBuffer
	encoder  *audio.OpusEncoder

	// decoder belongs to the peer→carrier pump.
	decoder *audio.OpusDecoder
}

// New returns a bridge over an accepted carrier connection and a dialed
// peer connection. The peer handshake must already have been consumed.
func New(carrier, peer *websocket.Conn, capture *transcript.Capture) *Bridge {
	return &Bridge{
		carrier:  carrier,
		peer:     peer,
		capture:  capture,
		residual: audio.NewFrameBuffer(audio.OpusFrameSamples),
	}
}

// StreamSid returns the carrier stream id, or "" before start was seen.
func (b *Bridge) StreamSid() string {
	if sid := b.streamSid.Load(); sid != nil {
		return *sid
	}
	return ""
}

// Run drives both pumps until one exits, then cancels the other and waits
// for it. It returns the first pump failure, or nil when the call ended
// with a carrier stop or a normal socket close.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer cancel()
		return b.carrierToPeer(egCtx)
	})
	eg.Go(func() error {
		defer cancel()
		return b.peerToCarrier(egCtx)
	})
	return eg.Wait()
}

// carrierToPeer reads carrier envelopes and ships transcoded audio to the
// peer until the stream stops or the socket goes away.
func (b *Bridge) carrierToPeer(ctx context.Context) error {
	log := observe.Logger(ctx)
	m := observe.DefaultMetrics()

	for {
		typ, data, err := b.carrier.Read(ctx)
		if err != nil {
			return socketResult(ctx, "carrier", err)
		}
		if typ != websocket.MessageText {
			// The carrier protocol is JSON over text frames only.
			continue
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			m.RecordFrameDrop(ctx, "bad_envelope")
			log.Warn("dropping malformed carrier envelope", "err", err)
			continue
		}

		switch env.Event {
		case EventStart:
			if sid := env.StartStreamSid(); sid != "" && b.streamSid.CompareAndSwap(nil, &sid) {
				log.Info("carrier stream started", "stream_sid", sid)
			}
		case EventMedia:
			if err := b.forwardInbound(ctx, env); err != nil {
				return err
			}
		case EventStop:
			log.Info("carrier stream stopped", "stream_sid", b.StreamSid())
			return nil
		default:
			// connected, mark, and anything the carrier adds later
		}
	}
}

// forwardInbound transcodes one media envelope into zero or more Opus
// packets and writes them to the peer. Decode and encode failures drop the
// affected audio; only a failed socket write ends the pump.
func (b *Bridge) forwardInbound(ctx context.Context, env *Envelope) error {
	m := observe.DefaultMetrics()

	if env.Media == nil || env.Media.Payload == "" {
		return nil
	}
	ulaw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		m.RecordFrameDrop(ctx, "bad_base64")
		return nil
	}

	if b.encoder == nil {
		enc, err := audio.NewOpusEncoder()
		if err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		b.encoder = enc
	}

	b.residual.Push(audio.Resample(audio.DecodeMulaw(ulaw), audio.TelephonyRate, audio.OpusRate))
	for _, frame := range b.residual.Drain() {
		packet, err := b.encoder.Encode(frame)
		if err != nil {
			m.RecordFrameDrop(ctx, "opus_encode")
			observe.Logger(ctx).Warn("dropping frame after encode failure", "err", err)
			continue
		}
		if err := b.peer.Write(ctx, websocket.MessageBinary, AudioFrame(packet)); err != nil {
			return socketResult(ctx, "peer", err)
		}
		m.RecordFrames(ctx, "inbound", 1)
	}
	return nil
}

// peerToCarrier reads peer frames, returning audio to the carrier and text
// tokens to the transcript capture.
func (b *Bridge) peerToCarrier(ctx context.Context) error {
	log := observe.Logger(ctx)

	for {
		typ, data, err := b.peer.Read(ctx)
		if err != nil {
			return socketResult(ctx, "peer", err)
		}
		if typ != websocket.MessageBinary {
			continue
		}
		kind, payload, ok := SplitFrame(data)
		if !ok {
			continue
		}

		switch kind {
		case KindHandshake:
			// duplicate handshake after session setup; nothing to do
		case KindAudio:
			if len(payload) == 0 {
				continue
			}
			if err := b.forwardOutbound(ctx, payload); err != nil {
				return err
			}
		case KindText:
			if len(payload) == 0 {
				continue
			}
			b.capture.AddToken(strings.ToValidUTF8(string(payload), "�"))
		default:
			log.Debug("ignoring unknown peer frame kind", "kind", kind)
		}
	}
}

// forwardOutbound decodes one Opus packet and sends it to the carrier as a
// media envelope. Audio is dropped until the carrier has announced its
// stream id: an envelope without streamSid is unroutable.
func (b *Bridge) forwardOutbound(ctx context.Context, packet []byte) error {
	m := observe.DefaultMetrics()

	if b.decoder == nil {
		dec, err := audio.NewOpusDecoder()
		if err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		b.decoder = dec
	}

	// Decode before the stream-id check so the decoder state stays
	// continuous across suppressed frames.
	frame, err := b.decoder.Decode(packet)
	if err != nil {
		m.RecordFrameDrop(ctx, "opus_decode")
		observe.Logger(ctx).Warn("dropping frame after decode failure", "err", err)
		return nil
	}

	sid := b.streamSid.Load()
	if sid == nil {
		m.RecordFrameDrop(ctx, "no_stream_sid")
		return nil
	}

	msg, err := MediaEnvelope(*sid, audio.EncodeMulaw(audio.Resample(frame, audio.OpusRate, audio.TelephonyRate)))
	if err != nil {
		return err
	}
	if err := b.carrier.Write(ctx, websocket.MessageText, msg); err != nil {
		return socketResult(ctx, "carrier", err)
	}
	m.RecordFrames(ctx, "outbound", 1)
	return nil
}

// socketResult normalizes a read or write failure: cancellation by the
// sibling pump and normal closes end the pump cleanly, everything else is
// reported.
func socketResult(ctx context.Context, side string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	return fmt.Errorf("bridge: %s socket: %w", side, err)
}
