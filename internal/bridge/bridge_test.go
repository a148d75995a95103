package bridge_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/antiphonal/crosstalk/internal/bridge"
	"github.com/antiphonal/crosstalk/pkg/audio"
	"github.com/antiphonal/crosstalk/pkg/transcript"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsPair opens one WebSocket connection through an httptest server and
// returns both ends. The bridge end goes to the code under test; the peer
// end is driven by the test as the fake carrier or fake AI.
func wsPair(t *testing.T) (bridgeEnd, peerEnd *websocket.Conn) {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		conns <- conn
		<-done
	}))
	t.Cleanup(func() {
		close(done)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "test done") })

	select {
	case server := <-conns:
		t.Cleanup(func() { server.Close(websocket.StatusNormalClosure, "test done") })
		return client, server
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for accepted connection")
		return nil, nil
	}
}

// startBridge runs b until completion and delivers Run's result.
func startBridge(t *testing.T, b *bridge.Bridge) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for bridge to finish")
		return nil
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
}

func writeBinary(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		t.Fatalf("writeBinary: %v", err)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return typ, data
}

// waitForSid polls until the carrier→peer pump has published the stream id.
func waitForSid(t *testing.T, b *bridge.Bridge) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.StreamSid() == "" {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for stream sid")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startEnvelope(sid string) map[string]any {
	return map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": sid, "callSid": "CA1"},
	}
}

// mediaEnvelope wraps 20 ms of µ-law silence (160 bytes), which transcodes
// to exactly one Opus frame.
func mediaEnvelope() map[string]any {
	silence := make([]byte, 160)
	for i := range silence {
		silence[i] = 0xff
	}
	return map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(silence)},
	}
}

// opusPacket encodes one 20 ms frame of silence.
func opusPacket(t *testing.T) []byte {
	t.Helper()
	enc, err := audio.NewOpusEncoder()
	if err != nil {
		t.Fatalf("create encoder: %v", err)
	}
	packet, err := enc.Encode(make([]float32, audio.OpusFrameSamples))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return packet
}

// ── Carrier → peer ────────────────────────────────────────────────────────────

func TestBridge_CarrierMediaReachesPeer(t *testing.T) {
	t.Parallel()

	carrierEnd, carrier := wsPair(t)
	peerEnd, peer := wsPair(t)
	b := bridge.New(carrierEnd, peerEnd, &transcript.Capture{})
	done := startBridge(t, b)

	writeJSON(t, carrier, startEnvelope("MZ123"))
	writeJSON(t, carrier, mediaEnvelope())

	typ, data := readMessage(t, peer)
	if typ != websocket.MessageBinary {
		t.Fatalf("peer message type = %v; want binary", typ)
	}
	if len(data) < 2 || data[0] != bridge.KindAudio {
		t.Fatalf("peer frame = %v; want audio kind with payload", data)
	}

	writeJSON(t, carrier, map[string]any{"event": "stop"})
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run = %v; want nil after stop", err)
	}
	if b.StreamSid() != "MZ123" {
		t.Errorf("StreamSid = %q; want MZ123", b.StreamSid())
	}
}

func TestBridge_MediaBeforeStartStillForwarded(t *testing.T) {
	t.Parallel()

	carrierEnd, carrier := wsPair(t)
	peerEnd, peer := wsPair(t)
	b := bridge.New(carrierEnd, peerEnd, &transcript.Capture{})
	startBridge(t, b)

	writeJSON(t, carrier, mediaEnvelope())

	typ, data := readMessage(t, peer)
	if typ != websocket.MessageBinary || len(data) < 2 || data[0] != bridge.KindAudio {
		t.Fatalf("peer frame = (%v, %v); want audio despite missing start", typ, data)
	}
}

func TestBridge_MalformedEnvelopeSkipped(t *testing.T) {
	t.Parallel()

	carrierEnd, carrier := wsPair(t)
	peerEnd, peer := wsPair(t)
	b := bridge.New(carrierEnd, peerEnd, &transcript.Capture{})
	startBridge(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := carrier.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeJSON(t, carrier, mediaEnvelope())

	typ, data := readMessage(t, peer)
	if typ != websocket.MessageBinary || data[0] != bridge.KindAudio {
		t.Fatalf("pump did not survive the malformed envelope; got (%v, %v)", typ, data)
	}
}

func TestBridge_StopEndsRun(t *testing.T) {
	t.Parallel()

	carrierEnd, carrier := wsPair(t)
	peerEnd, _ := wsPair(t)
	b := bridge.New(carrierEnd, peerEnd, &transcript.Capture{})
	done := startBridge(t, b)

	writeJSON(t, carrier, map[string]any{"event": "stop"})
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run = %v; want nil", err)
	}
}

func TestBridge_StreamSidImmutable(t *testing.T) {
	t.Parallel()

	carrierEnd, carrier := wsPair(t)
	peerEnd, _ := wsPair(t)
	b := bridge.New(carrierEnd, peerEnd, &transcript.Capture{})
	done := startBridge(t, b)

	writeJSON(t, carrier, startEnvelope("MZfirst"))
	waitForSid(t, b)
	writeJSON(t, carrier, startEnvelope("MZsecond"))
	writeJSON(t, carrier, map[string]any{"event": "stop"})

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run = %v; want nil", err)
	}
	if b.StreamSid() != "MZfirst" {
		t.Errorf("StreamSid = %q; want the first announcement kept", b.StreamSid())
	}
}

// ── Peer → carrier ────────────────────────────────────────────────────────────

func TestBridge_PeerAudioReachesCarrier(t *testing.T) {
	t.Parallel()

	carrierEnd, carrier := wsPair(t)
	peerEnd, peer := wsPair(t)
	b := bridge.New(carrierEnd, peerEnd, &transcript.Capture{})
	startBridge(t, b)

	writeJSON(t, carrier, startEnvelope("MZ123"))
	waitForSid(t, b)

	writeBinary(t, peer, bridge.AudioFrame(opusPacket(t)))

	typ, data := readMessage(t, carrier)
	if typ != websocket.MessageText {
		t.Fatalf("carrier message type = %v; want text", typ)
	}
	env, err := bridge.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("outbound envelope: %v", err)
	}
	if env.Event != bridge.EventMedia || env.StreamSid != "MZ123" {
		t.Errorf("envelope = %+v; want media for MZ123", env)
	}
	ulaw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		t.Fatalf("payload base64: %v", err)
	}
	if len(ulaw) != 160 {
		t.Errorf("payload = %d µ-law bytes; want 160 (one 20 ms frame)", len(ulaw))
	}
}

func TestBridge_PeerAudioSuppressedBeforeStart(t *testing.T) {
	t.Parallel()

	carrierEnd, carrier := wsPair(t)
	peerEnd, peer := wsPair(t)
	b := bridge.New(carrierEnd, peerEnd, &transcript.Capture{})
	startBridge(t, b)

	writeBinary(t, peer, bridge.AudioFrame(opusPacket(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	if _, _, err := carrier.Read(ctx); err == nil {
		t.Fatal("carrier received audio before the stream id was known")
	}
	if b.StreamSid() != "" {
		t.Errorf("StreamSid = %q; want empty", b.StreamSid())
	}
}

func TestBridge_TextTokensReachCapture(t *testing.T) {
	t.Parallel()

	carrierEnd, _ := wsPair(t)
	peerEnd, peer := wsPair(t)
	capture := &transcript.Capture{}
	b := bridge.New(carrierEnd, peerEnd, capture)
	done := startBridge(t, b)

	writeBinary(t, peer, []byte{bridge.KindHandshake}) // duplicate handshake
	writeBinary(t, peer, append([]byte{bridge.KindText}, "Hello"...))
	writeBinary(t, peer, []byte{bridge.KindText}) // empty payload
	writeBinary(t, peer, append([]byte{bridge.KindText}, " world"...))
	writeBinary(t, peer, []byte{0x07, 0x01}) // unknown kind
	peer.Close(websocket.StatusNormalClosure, "done")

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run = %v; want nil after normal close", err)
	}
	if got := capture.FullText(); got != "Hello world" {
		t.Errorf("FullText = %q; want %q", got, "Hello world")
	}
}

func TestBridge_InvalidUTF8TokenReplaced(t *testing.T) {
	t.Parallel()

	carrierEnd, _ := wsPair(t)
	peerEnd, peer := wsPair(t)
	capture := &transcript.Capture{}
	b := bridge.New(carrierEnd, peerEnd, capture)
	done := startBridge(t, b)

	writeBinary(t, peer, append([]byte{bridge.KindText}, 'a', 0xff, 'b'))
	peer.Close(websocket.StatusNormalClosure, "done")

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run = %v; want nil", err)
	}
	if got := capture.FullText(); got != "a�b" {
		t.Errorf("FullText = %q; want the invalid byte replaced", got)
	}
}

func TestBridge_GarbageOpusDropped(t *testing.T) {
	t.Parallel()

	carrierEnd, carrier := wsPair(t)
	peerEnd, peer := wsPair(t)
	capture := &transcript.Capture{}
	b := bridge.New(carrierEnd, peerEnd, capture)
	done := startBridge(t, b)

	writeJSON(t, carrier, startEnvelope("MZ123"))
	waitForSid(t, b)

	writeBinary(t, peer, []byte{bridge.KindAudio, 0x03}) // not a valid packet
	writeBinary(t, peer, append([]byte{bridge.KindText}, "still here"...))
	peer.Close(websocket.StatusNormalClosure, "done")

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run = %v; want nil", err)
	}
	if got := capture.FullText(); got != "still here" {
		t.Errorf("FullText = %q; pump should survive a decode failure", got)
	}
}

func TestBridge_PeerNormalCloseEndsRun(t *testing.T) {
	t.Parallel()

	carrierEnd, _ := wsPair(t)
	peerEnd, peer := wsPair(t)
	b := bridge.New(carrierEnd, peerEnd, &transcript.Capture{})
	done := startBridge(t, b)

	peer.Close(websocket.StatusNormalClosure, "hanging up")

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run = %v; want nil", err)
	}
}
