package wsproto

import (
	"bytes"
	"testing"

	"github.com/lattice-io/reactorweb/internal/errs"
)

func maskedClientFrame(fin bool, opcode Opcode, payload []byte) []byte {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	plen := len(payload)
	var out []byte
	var b0 byte
	if fin {
		b0 = 0x80
	}
	b0 |= byte(opcode)
	switch {
	case plen <= 125:
		out = []byte{b0, byte(plen) | 0x80}
	case plen <= 0xFFFF:
		out = []byte{b0, 126 | 0x80, byte(plen >> 8), byte(plen)}
	default:
		t := plen
		out = []byte{b0, 127 | 0x80, 0, 0, 0, 0, byte(t >> 24), byte(t >> 16), byte(t >> 8), byte(t)}
	}
	out = append(out, key[:]...)
	out = append(out, masked...)
	return out
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	raw := maskedClientFrame(true, OpText, []byte("hello"))
	f, n, err := DecodeFrame(raw)
	if err != nil || f == nil {
		t.Fatalf("unexpected decode failure: %v", err)
	}
	if n != len(raw) {
		t.Fatalf("expected to consume all %d bytes, consumed %d", len(raw), n)
	}
	if !bytes.Equal(f.Payload, []byte("hello")) {
		t.Fatalf("unexpected payload: %q", f.Payload)
	}

	encoded := EncodeFrame(true, OpText, f.Payload)
	if !bytes.Equal(encoded, append([]byte{0x81, 5}, []byte("hello")...)) {
		t.Fatalf("unexpected server encoding: %v", encoded)
	}
}

func TestDecodeIncompleteReturnsNilNilNil(t *testing.T) {
	raw := maskedClientFrame(true, OpText, []byte("hello"))
	f, n, err := DecodeFrame(raw[:3])
	if f != nil || n != 0 || err != nil {
		t.Fatalf("expected incomplete sentinel, got %v %d %v", f, n, err)
	}
}

func TestDecodeUnmaskedClientFrameIsProtocolError(t *testing.T) {
	unmasked := []byte{0x81, 5, 'h', 'e', 'l', 'l', 'o'}
	_, _, err := DecodeFrame(unmasked)
	if err == nil {
		t.Fatalf("expected protocol violation for unmasked client frame")
	}
	e, ok := err.(*errs.Error)
	if !ok || e.Code != errs.CodeProtocolViolation {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestSessionAssemblesFragments(t *testing.T) {
	s := NewSession(0)
	f1 := &Frame{Fin: false, Opcode: OpText, Payload: []byte("hel")}
	f2 := &Frame{Fin: true, Opcode: OpContinuation, Payload: []byte("lo")}

	ev, out, err := s.Feed(f1)
	if err != nil || ev != nil || out != nil {
		t.Fatalf("expected no event on first fragment, got %v %v %v", ev, out, err)
	}
	ev, out, err = s.Feed(f2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil || ev.Kind != EventMessage || string(ev.Payload) != "hello" {
		t.Fatalf("expected assembled message 'hello', got %+v", ev)
	}
	if out != nil {
		t.Fatalf("expected no auto-reply for data frame")
	}
}

func TestSessionRejectsContinuationWithoutStart(t *testing.T) {
	s := NewSession(0)
	_, _, err := s.Feed(&Frame{Fin: true, Opcode: OpContinuation, Payload: []byte("x")})
	if err == nil {
		t.Fatalf("expected error for orphan continuation")
	}
}

func TestSessionOversizeMessageIs1009(t *testing.T) {
	s := NewSession(4)
	_, _, err := s.Feed(&Frame{Fin: true, Opcode: OpText, Payload: []byte("toolong")})
	e, ok := err.(*errs.Error)
	if !ok || e.Code != errs.CodeResourceExhausted {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
}

func TestSessionPingAutoReplyPong(t *testing.T) {
	s := NewSession(0)
	ev, out, err := s.Feed(&Frame{Fin: true, Opcode: OpPing, Payload: []byte("ping-data")})
	if err != nil || ev != nil {
		t.Fatalf("expected no app event for ping, got %v %v", ev, err)
	}
	if len(out) == 0 {
		t.Fatalf("expected auto pong reply")
	}
	decoded, n, err := DecodeFrame(serverFrameAsClient(out))
	if err != nil || n == 0 {
		t.Fatalf("failed to decode generated pong: %v", err)
	}
	if decoded.Opcode != OpPong || string(decoded.Payload) != "ping-data" {
		t.Fatalf("unexpected pong frame: %+v", decoded)
	}
}

func TestSessionCloseProducesEventAndEcho(t *testing.T) {
	s := NewSession(0)
	ev, out, err := s.Feed(&Frame{Fin: true, Opcode: OpClose, Payload: append([]byte{0x03, 0xe8}, "bye"...)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil || ev.Kind != EventClose || ev.CloseCode != CloseNormal || ev.CloseReason != "bye" {
		t.Fatalf("unexpected close event: %+v", ev)
	}
	if len(out) == 0 {
		t.Fatalf("expected close echo")
	}
}

// serverFrameAsClient re-masks a server-encoded (unmasked) frame so the
// test can round-trip it back through the server-side DecodeFrame, which
// requires a mask bit per RFC 6455 §5.1.
func serverFrameAsClient(serverFrame []byte) []byte {
	if len(serverFrame) < 2 {
		return serverFrame
	}
	b1 := serverFrame[1] & 0x7F
	headerLen := 2
	switch b1 {
	case 126:
		headerLen += 2
	case 127:
		headerLen += 8
	}
	payload := serverFrame[headerLen:]
	key := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	out := append([]byte{}, serverFrame[:headerLen]...)
	out[1] |= 0x80
	out = append(out, key[:]...)
	out = append(out, masked...)
	return out
}
