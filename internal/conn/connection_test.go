package conn

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/lattice-io/reactorweb/internal/handlers"
)

type fakeHandler struct {
	connected bool
	messages  [][]byte
	closed    bool
	closeCode uint16
}

func (h *fakeHandler) OnConnect(c handlers.Conn) { h.connected = true }
func (h *fakeHandler) OnMessage(c handlers.Conn, isText bool, payload []byte) {
	h.messages = append(h.messages, payload)
}
func (h *fakeHandler) OnClose(c handlers.Conn, code uint16, reason string) {
	h.closed = true
	h.closeCode = code
}

func newTestConnection(reg *handlers.Registry) *Connection {
	return New(3, "127.0.0.1:5555", time.Unix(0, 0), Config{Handlers: reg})
}

func maskedClientFrame(fin bool, opcode byte, payload []byte) []byte {
	key := [4]byte{1, 2, 3, 4}
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	var b0 byte
	if fin {
		b0 = 0x80
	}
	b0 |= opcode
	out := []byte{b0, byte(len(payload)) | 0x80}
	out = append(out, key[:]...)
	out = append(out, masked...)
	return out
}

func TestDispatch404WithNoStaticResolver(t *testing.T) {
	reg := handlers.NewRegistry()
	c := newTestConnection(reg)
	c.Feed([]byte("GET /missing HTTP/1.1\r\nHost: x\r\n\r\n"))

	out := string(c.Output())
	if !strings.HasPrefix(out, "HTTP/1.1 404") {
		t.Fatalf("expected 404 response, got %q", out)
	}
	if c.Phase() != PhaseStreaming {
		t.Fatalf("expected Streaming phase, got %v", c.Phase())
	}

	c.ConsumeOutput(len(c.Output()))
	if c.Phase() != PhaseDraining {
		t.Fatalf("expected Draining after the 404 flushes, got %v", c.Phase())
	}
}

func TestDispatchNonKeepaliveDrains(t *testing.T) {
	reg := handlers.NewRegistry()
	c := newTestConnection(reg)
	c.Feed([]byte("GET /missing HTTP/1.1\r\nConnection: close\r\n\r\n"))
	c.ConsumeOutput(len(c.Output()))
	if c.Phase() != PhaseDraining {
		t.Fatalf("expected Draining after non-keepalive flush, got %v", c.Phase())
	}
}

func TestWebSocketUpgradeFlow(t *testing.T) {
	reg := handlers.NewRegistry()
	h := &fakeHandler{}
	reg.Register("/ws", h, false)
	c := newTestConnection(reg)

	req := "GET /ws HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	c.Feed([]byte(req))

	out := c.Output()
	if !bytes.HasPrefix(out, []byte("HTTP/1.1 101")) {
		t.Fatalf("expected 101 response, got %q", out)
	}
	if c.Phase() != PhaseWebSocket {
		t.Fatalf("expected WebSocket phase, got %v", c.Phase())
	}
	if !h.connected {
		t.Fatalf("expected OnConnect to have been called")
	}
	c.ConsumeOutput(len(out))

	frame := maskedClientFrame(true, 0x1, []byte("hi"))
	c.Feed(frame)
	if len(h.messages) != 1 || string(h.messages[0]) != "hi" {
		t.Fatalf("expected message 'hi' delivered, got %+v", h.messages)
	}

	c.Send([]byte("back"), true)
	if len(c.Output()) == 0 {
		t.Fatalf("expected Send to queue output")
	}
}

func TestWebSocketUnknownEndpointRejected(t *testing.T) {
	reg := handlers.NewRegistry()
	c := newTestConnection(reg)
	req := "GET /ws HTTP/1.1\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	c.Feed([]byte(req))
	if !bytes.HasPrefix(c.Output(), []byte("HTTP/1.1 400")) {
		t.Fatalf("expected 400 for unknown endpoint, got %q", c.Output())
	}
}

func TestHangupDiscardsOutput(t *testing.T) {
	reg := handlers.NewRegistry()
	c := newTestConnection(reg)
	c.Feed([]byte("GET /missing HTTP/1.1\r\n\r\n"))
	if len(c.Output()) == 0 {
		t.Fatalf("expected queued output before hangup")
	}
	c.HangupOrError()
	if c.Phase() != PhaseDraining || len(c.Output()) != 0 {
		t.Fatalf("expected draining with discarded output, got phase=%v out=%q", c.Phase(), c.Output())
	}
}

func TestPeerCloseZeroBytesMovesToDraining(t *testing.T) {
	reg := handlers.NewRegistry()
	c := newTestConnection(reg)
	c.Feed(nil)
	if c.Phase() != PhaseDraining {
		t.Fatalf("expected Draining on peer close, got %v", c.Phase())
	}
}
