// Package wsproto implements the RFC 6455 WebSocket framer: the
// handshake upgrade, frame decode/encode, fragmentation coalescing, and
// control-frame handling, including endpoint lookup and Origin/CORS
// checks, working against this module's own Headers type instead of
// net/http.Header.
package wsproto

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/lattice-io/reactorweb/internal/errs"
	"github.com/lattice-io/reactorweb/internal/httpproto"
)

const (
	webSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	requiredWebSocketVersion = "13"
)

// HandshakeResult carries everything the connection state machine needs
// to write the 101 response (or reject with 400).
type HandshakeResult struct {
	Accept         string
	EchoOrigin     string // non-empty when CORS is enabled and Origin was present
	RejectedReason string // non-empty ⇒ reject with 400
}

// DoHandshake validates the upgrade headers on req and computes
// Sec-WebSocket-Accept. endpointKnown and allowCrossOrigin come from the
// handler registry lookup for req.Path().
func DoHandshake(req *httpproto.Request, endpointKnown bool, allowCrossOrigin bool) HandshakeResult {
	if !endpointKnown {
		return HandshakeResult{RejectedReason: "unknown endpoint"}
	}
	if !headerContainsToken(req.Headers, "Connection", "Upgrade") ||
		!strings.EqualFold(req.Headers.Get("Upgrade"), "websocket") {
		return HandshakeResult{RejectedReason: "invalid upgrade headers"}
	}
	if req.Headers.Get("Sec-WebSocket-Version") != requiredWebSocketVersion {
		return HandshakeResult{RejectedReason: "unsupported websocket version"}
	}
	key := req.Headers.Get("Sec-WebSocket-Key")
	if key == "" {
		return HandshakeResult{RejectedReason: "missing Sec-WebSocket-Key"}
	}
	origin := req.Headers.Get("Origin")
	if origin != "" && !allowCrossOrigin {
		// Non-CORS endpoints only need Origin rejected when it's actually
		// cross-origin; the core has no notion of "own origin" (that is
		// the embedding program's concern), so it only rejects when the
		// endpoint explicitly disallows all cross-origin Upgrade.
		return HandshakeResult{RejectedReason: "origin not allowed"}
	}

	h := sha1.New()
	h.Write([]byte(key + webSocketGUID))
	accept := base64.StdEncoding.EncodeToString(h.Sum(nil))

	res := HandshakeResult{Accept: accept}
	if allowCrossOrigin && origin != "" {
		res.EchoOrigin = origin
	}
	return res
}

func headerContainsToken(h *httpproto.Headers, name, token string) bool {
	v := h.Get(name)
	token = strings.ToLower(token)
	for _, part := range strings.Split(v, ",") {
		if strings.ToLower(strings.TrimSpace(part)) == token {
			return true
		}
	}
	return false
}

// ErrHandshake wraps a rejection reason as a structured protocol error for
// callers that want an error value instead of inspecting RejectedReason.
func (r HandshakeResult) ErrHandshake() error {
	if r.RejectedReason == "" {
		return nil
	}
	return errs.New(errs.CodeProtocolViolation, r.RejectedReason)
}
