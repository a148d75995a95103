package bridge

// One-byte type prefixes on conversational-peer binary frames.
const (
	// KindHandshake is sent once by the peer after the socket opens.
	KindHandshake byte = 0x00
	// KindAudio frames carry one raw Opus packet (24 kHz mono, 20 ms).
	KindAudio byte = 0x01
	// KindText frames carry one UTF-8 response token.
	KindText byte = 0x02
)

// AudioFrame wraps one Opus packet for the peer socket.
func AudioFrame(packet []byte) []byte {
	out := make([]byte, 0, len(packet)+1)
	out = append(out, KindAudio)
	return append(out, packet...)
}

// SplitFrame separates a peer binary message into its kind byte and payload.
// ok is false for an empty message, which carries no kind at all.
func SplitFrame(msg []byte) (kind byte, payload []byte, ok bool) {
	if len(msg) == 0 {
		return 0, nil, false
	}
	return msg[0], msg[1:], true
}
