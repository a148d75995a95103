package audio

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	// TelephonyRate is the carrier-side G.711 sample rate in Hz.
	TelephonyRate = 8000

	// OpusRate is the conversational peer's PCM sample rate in Hz.
	OpusRate = 24000

	// OpusFrameSamples is one 20 ms frame at OpusRate.
	OpusFrameSamples = 480

	// maxOpusPacket bounds the size of a single encoded packet.
	maxOpusPacket = 4000

	opusChannels = 1
)

// OpusEncoder compresses 20 ms PCM frames into Opus packets for the
// conversational peer. Not safe for concurrent use; confine each encoder to
// a single goroutine.
type OpusEncoder struct {
	enc *gopus.Encoder
}

// NewOpusEncoder returns an encoder in VOIP mode at [OpusRate], mono.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(OpusRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode compresses exactly one frame of [OpusFrameSamples] samples.
func (e *OpusEncoder) Encode(frame []float32) ([]byte, error) {
	if len(frame) != OpusFrameSamples {
		return nil, fmt.Errorf("audio: opus encode: frame has %d samples, want %d", len(frame), OpusFrameSamples)
	}
	packet, err := e.enc.Encode(floatToInt16(frame), OpusFrameSamples, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}

// OpusDecoder expands Opus packets from the conversational peer into 20 ms
// PCM frames. Not safe for concurrent use.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder returns a decoder at [OpusRate], mono.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode expands one packet into at most [OpusFrameSamples] samples.
func (d *OpusDecoder) Decode(packet []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(packet, OpusFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16ToFloat(pcm), nil
}

func floatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}

func int16ToFloat(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}
