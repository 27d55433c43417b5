package wsproto

import (
	"encoding/binary"

	"github.com/lattice-io/reactorweb/internal/errs"
)

// Close status codes used by this core (RFC 6455 §7.4).
const (
	CloseNormal         uint16 = 1000
	CloseProtocolError  uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	CloseMessageTooBig  uint16 = 1009
	CloseInternalError  uint16 = 1011
)

// EventKind classifies what a Session.Feed call produced.
type EventKind int

const (
	EventNone EventKind = iota
	EventMessage
	EventClose
)

// Event is a fully-assembled application-visible WebSocket event: either a
// complete message (coalesced from one or more fragments) or a peer-
// initiated close.
type Event struct {
	Kind        EventKind
	Opcode      Opcode // OpText or OpBinary, valid when Kind == EventMessage
	Payload     []byte
	CloseCode   uint16
	CloseReason string
}

// Session coalesces a stream of decoded frames into application messages:
// non-final data frames plus their continuations are assembled into one
// message; control frames (ping/pong/close) are serviced inline and never
// interleave with message assembly other than between fragments, as
// RFC 6455 permits.
type Session struct {
	maxMessage int

	assembling bool
	msgOpcode  Opcode
	buf        []byte
}

// NewSession creates a session bounding reassembled messages to
// maxMessage bytes; 0 selects DefaultMaxMessagePayload.
func NewSession(maxMessage int) *Session {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxMessagePayload
	}
	return &Session{maxMessage: maxMessage}
}

// Feed processes one decoded frame. It returns at most one Event and at
// most one slice of bytes that the caller must write back to the peer
// immediately (a pong reply or a close echo) — auto-replies the
// connection state machine doesn't need to know about.
func (s *Session) Feed(f *Frame) (*Event, []byte, error) {
	if f.Opcode.IsControl() {
		return s.feedControl(f)
	}
	return s.feedData(f)
}

func (s *Session) feedControl(f *Frame) (*Event, []byte, error) {
	if !f.Fin {
		return nil, nil, errs.New(errs.CodeProtocolViolation, "fragmented control frame")
	}
	if len(f.Payload) > 125 {
		return nil, nil, errs.New(errs.CodeProtocolViolation, "oversize control frame")
	}

	switch f.Opcode {
	case OpPing:
		return nil, EncodeFrame(true, OpPong, f.Payload), nil
	case OpPong:
		return nil, nil, nil
	case OpClose:
		code, reason := decodeCloseBody(f.Payload)
		ev := &Event{Kind: EventClose, CloseCode: code, CloseReason: reason}
		echo := EncodeFrame(true, OpClose, f.Payload)
		return ev, echo, nil
	default:
		return nil, nil, errs.New(errs.CodeProtocolViolation, "unknown control opcode")
	}
}

func (s *Session) feedData(f *Frame) (*Event, []byte, error) {
	switch f.Opcode {
	case OpText, OpBinary:
		if s.assembling {
			return nil, nil, errs.New(errs.CodeProtocolViolation, "new message started mid-fragment")
		}
		s.assembling = true
		s.msgOpcode = f.Opcode
		s.buf = s.buf[:0]
	case OpContinuation:
		if !s.assembling {
			return nil, nil, errs.New(errs.CodeProtocolViolation, "continuation without start")
		}
	default:
		return nil, nil, errs.New(errs.CodeProtocolViolation, "unknown data opcode")
	}

	if len(s.buf)+len(f.Payload) > s.maxMessage {
		return nil, nil, errs.New(errs.CodeResourceExhausted, "message exceeds maximum size").
			WithContext("closeCode", CloseMessageTooBig)
	}
	s.buf = append(s.buf, f.Payload...)

	if !f.Fin {
		return nil, nil, nil
	}

	msg := make([]byte, len(s.buf))
	copy(msg, s.buf)
	op := s.msgOpcode
	s.assembling = false
	s.buf = s.buf[:0]
	return &Event{Kind: EventMessage, Opcode: op, Payload: msg}, nil, nil
}

// EncodeClose builds a complete close frame whose body is the status code
// followed by the UTF-8 reason.
func EncodeClose(code uint16, reason string) []byte {
	body := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(body, code)
	copy(body[2:], reason)
	return EncodeFrame(true, OpClose, body)
}

func decodeCloseBody(payload []byte) (uint16, string) {
	if len(payload) < 2 {
		return CloseNormal, ""
	}
	return binary.BigEndian.Uint16(payload), string(payload[2:])
}
