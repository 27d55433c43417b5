// Package handlers implements the endpoint registration table: a mapping
// from normalized endpoint path to a WebSocket handler and its
// cross-origin policy. The table is pure data, written once before Serve
// and read only from the reactor thread afterward.
package handlers

import "strings"

// Handler is the application-supplied collaborator for one WebSocket
// endpoint, referenced only by this interface.
type Handler interface {
	// OnConnect is called once the 101 handshake response has been queued
	// for sending.
	OnConnect(conn Conn)
	// OnMessage delivers one assembled message (text or binary).
	OnMessage(conn Conn, isText bool, payload []byte)
	// OnClose is called once, when the session's close begins: with the
	// close code the peer sent, with the code the server sent when it
	// closed the session itself (protocol error, message too big, or
	// CloseWithStatus), or with CloseNormal when the connection is torn
	// down without a close handshake.
	OnClose(conn Conn, code uint16, reason string)
}

// Conn is the handler-facing view of a connection, narrowed from the
// internal connection type so application code cannot reach reactor
// internals.
type Conn interface {
	Send(payload []byte, isText bool)
	CloseWithStatus(code uint16, reason string)
	RemoteAddr() string
}

type registration struct {
	handler          Handler
	allowCrossOrigin bool
}

// Registry is the handler lookup table. Writes are expected only during
// startup configuration; Lookup is called from the reactor thread with no
// locking, since writes are confined to pre-serve initialization.
type Registry struct {
	byPath map[string]registration
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string]registration)}
}

// Register binds path to handler with the given cross-origin policy,
// overwriting any previous registration for the same normalized path.
func (r *Registry) Register(path string, handler Handler, allowCrossOrigin bool) {
	r.byPath[normalize(path)] = registration{handler: handler, allowCrossOrigin: allowCrossOrigin}
}

// Lookup resolves path to its handler and CORS policy. ok is false when
// no endpoint is registered for path.
func (r *Registry) Lookup(path string) (handler Handler, allowCrossOrigin bool, ok bool) {
	reg, found := r.byPath[normalize(path)]
	if !found {
		return nil, false, false
	}
	return reg.handler, reg.allowCrossOrigin, true
}

// normalize strips a single trailing slash (except the root path) so
// lookups are exact-match on the normalized path.
func normalize(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return strings.TrimSuffix(path, "/")
	}
	return path
}
