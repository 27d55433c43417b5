package wsproto

import (
	"encoding/binary"

	"github.com/lattice-io/reactorweb/internal/errs"
)

// Opcode identifies the frame type per RFC 6455 §5.2.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) IsControl() bool { return op&0x8 != 0 }

// DefaultMaxMessagePayload bounds a single (possibly reassembled) message;
// overflow closes with status 1009 (message too big).
const DefaultMaxMessagePayload = 64 << 20

// maxSingleFramePayload bounds a single frame's own declared length,
// independent of message reassembly.
const maxSingleFramePayload = 16 << 20

// Frame is one decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// DecodeFrame parses one frame from the front of raw. It returns
// (nil, 0, nil) when raw does not yet hold a complete frame header or
// payload — the caller should feed more bytes and retry, mirroring
// httpproto.Parser's incremental contract. A non-nil error means the
// frame is malformed or violates a size/masking invariant and the
// connection must be closed.
func DecodeFrame(raw []byte) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil
	}
	fin := raw[0]&0x80 != 0
	if raw[0]&0x70 != 0 {
		return nil, 0, errs.New(errs.CodeProtocolViolation, "reserved bits set")
	}
	opcode := Opcode(raw[0] & 0x0F)
	masked := raw[1]&0x80 != 0
	length := int64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint64(raw[offset:]))
		offset += 8
	}

	if length > maxSingleFramePayload {
		return nil, 0, errs.New(errs.CodeResourceExhausted, "frame payload too large")
	}

	// RFC 6455 §5.1: clients MUST mask, servers MUST NOT mask frames they
	// send. This codec is server-side only, so an unmasked frame here is
	// always a protocol violation by the peer.
	if !masked {
		return nil, 0, errs.New(errs.CodeProtocolViolation, "client frame not masked")
	}

	var maskKey [4]byte
	if len(raw) < offset+4 {
		return nil, 0, nil
	}
	copy(maskKey[:], raw[offset:offset+4])
	offset += 4

	total := offset + int(length)
	if len(raw) < total {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:total])
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}

	return &Frame{
		Fin:     fin,
		Opcode:  opcode,
		Masked:  masked,
		MaskKey: maskKey,
		Payload: payload,
	}, total, nil
}

// serverFragmentThreshold is the size above which EncodeMessage splits a
// message into multiple frames at encode time.
const serverFragmentThreshold = 64 << 10

// EncodeMessage serializes one application message as one or more
// frames, fragmenting automatically once the payload crosses
// serverFragmentThreshold.
func EncodeMessage(isText bool, payload []byte) []byte {
	op := OpBinary
	if isText {
		op = OpText
	}
	if len(payload) <= serverFragmentThreshold {
		return EncodeFrame(true, op, payload)
	}

	var out []byte
	first := true
	remaining := payload
	for len(remaining) > 0 {
		chunkLen := serverFragmentThreshold
		if chunkLen > len(remaining) {
			chunkLen = len(remaining)
		}
		chunk := remaining[:chunkLen]
		remaining = remaining[chunkLen:]

		opcode := OpContinuation
		if first {
			opcode = op
			first = false
		}
		out = append(out, EncodeFrame(len(remaining) == 0, opcode, chunk)...)
	}
	return out
}

// EncodeFrame serializes a server-to-client frame. Per RFC 6455 §5.1,
// server frames are never masked.
func EncodeFrame(fin bool, opcode Opcode, payload []byte) []byte {
	plen := len(payload)
	var hdr [10]byte
	var b0 byte
	if fin {
		b0 = 0x80
	}
	b0 |= byte(opcode) & 0x0F

	var header []byte
	switch {
	case plen <= 125:
		header = hdr[:2]
		header[0] = b0
		header[1] = byte(plen)
	case plen <= 0xFFFF:
		header = hdr[:4]
		header[0] = b0
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(plen))
	default:
		header = hdr[:10]
		header[0] = b0
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(plen))
	}

	out := make([]byte, 0, len(header)+plen)
	out = append(out, header...)
	out = append(out, payload...)
	return out
}
