// Package audio implements the transcoding pipeline between carrier
// telephony audio and the conversational peer's codec: G.711 µ-law
// expansion and compression, sample-rate conversion, frame-boundary
// buffering, and Opus packet coding.
//
// PCM is represented as []float32 with samples in [-1, 1]. Every function
// in this package is total on its inputs; only the Opus coders, which wrap
// a native codec, can return errors.
package audio

// G.711 µ-law tables. Decode is a 256-entry direct lookup; encode indexes a
// 65536-entry table by the unsigned reinterpretation of the int16 sample so
// the hot paths are gathers with no branching.
var (
	mulawToPCM [256]float32
	pcmToMulaw [65536]uint8
)

func init() {
	for i := range mulawToPCM {
		mulawToPCM[i] = decodeMulawByte(uint8(i))
	}
	for i := -32768; i <= 32767; i++ {
		pcmToMulaw[uint16(int16(i))] = encodeMulawSample(int16(i))
	}
}

// decodeMulawByte expands one µ-law byte to a normalized sample.
func decodeMulawByte(b uint8) float32 {
	u := ^b
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int32(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if u&0x80 != 0 {
		sample = -sample
	}
	return float32(sample) / 32768.0
}

// encodeMulawSample compresses one int16 sample to a µ-law byte.
func encodeMulawSample(s int16) uint8 {
	sample := int32(s)
	var sign uint8
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > 32635 {
		sample = 32635
	}
	sample += 0x84

	exponent := uint8(7)
	for mask := int32(0x4000); exponent > 0 && sample&mask == 0; exponent-- {
		mask >>= 1
	}
	mantissa := uint8(sample>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMulaw expands µ-law bytes to float32 PCM. The output has exactly
// one sample per input byte, each in [-1, 1].
func DecodeMulaw(data []byte) []float32 {
	out := make([]float32, len(data))
	for i, b := range data {
		out[i] = mulawToPCM[b]
	}
	return out
}

// EncodeMulaw compresses float32 PCM to µ-law bytes. Samples outside
// [-1, 1] are clipped.
func EncodeMulaw(samples []float32) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = pcmToMulaw[uint16(int16(s*32767))]
	}
	return out
}
