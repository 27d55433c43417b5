// Package conn implements the per-connection protocol state machine:
// reading an HTTP request, dispatching it to a static file, a
// WebSocket upgrade, or a 404; streaming the response; and, once
// upgraded, decoding/encoding WebSocket frames until the peer or the
// application closes the session. Built around httpproto.Parser and
// wsproto.Session for incremental buffer scanning.
package conn

import (
	"time"

	"github.com/lattice-io/reactorweb/internal/errs"
	"github.com/lattice-io/reactorweb/internal/handlers"
	"github.com/lattice-io/reactorweb/internal/httpproto"
	"github.com/lattice-io/reactorweb/internal/logging"
	"github.com/lattice-io/reactorweb/internal/sso"
	"github.com/lattice-io/reactorweb/internal/staticfile"
	"github.com/lattice-io/reactorweb/internal/wsproto"
)

// Phase is the connection's current position in its protocol state
// table. ReadingHeaders and ReadingBody are folded into Reading since
// httpproto.Parser already tracks that distinction internally.
type Phase int

const (
	PhaseReading Phase = iota
	PhaseStreaming
	PhaseWebSocket
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseReading:
		return "reading"
	case PhaseStreaming:
		return "streaming"
	case PhaseWebSocket:
		return "websocket"
	case PhaseDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Config bounds resource use for every connection spawned from one
// listener; the embedding program supplies one shared instance.
type Config struct {
	MaxRequestBytes int
	MaxMessageBytes int
	Handlers        *handlers.Registry
	Static          staticfile.Resolver
	Authenticator   sso.Authenticator
	Log             logging.Logger
}

// Connection is one accepted socket's protocol state. It owns no file
// descriptor syscalls itself — the reactor performs the actual recv/send
// and drives this type with the bytes it read and the buffer it still
// needs to write.
type Connection struct {
	fd         int
	remoteAddr string
	acceptedAt time.Time
	cfg        Config
	log        logging.Logger

	phase Phase
	out   []byte

	parser *httpproto.Parser
	req    *httpproto.Request

	keepAliveNext   bool   // Keepalive transition requested once out drains
	pendingLeftover []byte // pipelined bytes for the next request, replayed after the keepalive reset

	session      *wsproto.Session
	wsIn         []byte
	handler      handlers.Handler
	wsOpened     bool
	closeSent    bool
	closePending *wsproto.Event

	bytesReceived int64
	bytesSent     int64

	creds   sso.Credentials
	lastURI string
}

// LastURI returns the path of the most recently dispatched request,
// consulted only by the stats document.
func (c *Connection) LastURI() string { return c.lastURI }

// New creates a connection freshly entered into ReadingHeaders.
func New(fd int, remoteAddr string, acceptedAt time.Time, cfg Config) *Connection {
	if cfg.Log == nil {
		cfg.Log = logging.Discard{}
	}
	return &Connection{
		fd:         fd,
		remoteAddr: remoteAddr,
		acceptedAt: acceptedAt,
		cfg:        cfg,
		log:        cfg.Log,
		parser:     httpproto.NewParser(cfg.MaxRequestBytes),
	}
}

// FD satisfies registry.Entry.
func (c *Connection) FD() int { return c.fd }

// Close satisfies registry.Entry; the reactor is expected to close the
// OS socket itself once this returns, since fd ownership syscalls live
// at the reactor layer, not here. This exists so registry removal has a
// uniform hook to notify the application handler of a final close.
func (c *Connection) Close() error {
	if c.handler != nil && c.wsOpened && !c.closeSent {
		c.closeSent = true
		c.handler.OnClose(c, wsproto.CloseNormal, "")
	}
	return nil
}

func (c *Connection) Phase() Phase          { return c.phase }
func (c *Connection) RemoteAddr() string    { return c.remoteAddr }
func (c *Connection) AcceptedAt() time.Time { return c.acceptedAt }
func (c *Connection) BytesReceived() int64  { return c.bytesReceived }
func (c *Connection) BytesSent() int64      { return c.bytesSent }
func (c *Connection) IsDraining() bool      { return c.phase == PhaseDraining }

// Credentials returns the identity the SSO collaborator attached to this
// connection, or nil if it was never authenticated.
func (c *Connection) Credentials() sso.Credentials { return c.creds }

// NeedsWrite reports whether the reactor should keep this connection's
// write-readiness subscription on: the subscription tracks whether the
// output buffer is non-empty.
func (c *Connection) NeedsWrite() bool { return len(c.out) > 0 }

// Output returns the currently queued output bytes. The reactor writes
// as many as the socket accepts and calls ConsumeOutput with the count.
func (c *Connection) Output() []byte { return c.out }

// ConsumeOutput removes the first n bytes written successfully and, if
// the buffer has drained to empty, advances any phase transition that
// was waiting on the flush (Keepalive reset or Draining teardown).
func (c *Connection) ConsumeOutput(n int) {
	c.bytesSent += int64(n)
	c.out = c.out[n:]
	if len(c.out) != 0 {
		return
	}
	if c.keepAliveNext {
		c.keepAliveNext = false
		c.phase = PhaseReading
		c.parser = httpproto.NewParser(c.cfg.MaxRequestBytes)
		c.req = nil
		if leftover := c.pendingLeftover; len(leftover) > 0 {
			c.pendingLeftover = nil
			c.Feed(leftover)
		}
		return
	}
	if c.closePending != nil {
		c.phase = PhaseDraining
	}
}

// Feed processes newly received bytes according to the current phase.
// A zero-length data slice signals the peer performed an orderly
// shutdown (recv returned 0).
func (c *Connection) Feed(data []byte) {
	if c.phase == PhaseDraining {
		return
	}
	if len(data) == 0 {
		c.peerClosed()
		return
	}
	c.bytesReceived += int64(len(data))

	switch c.phase {
	case PhaseReading:
		c.feedHTTP(data)
	case PhaseWebSocket:
		c.feedWebSocket(data)
	case PhaseStreaming:
		// Streaming ignores further inbound bytes until the response is
		// fully sent.
	}
}

// HangupOrError moves the connection directly to Draining and discards
// any queued output.
func (c *Connection) HangupOrError() {
	c.phase = PhaseDraining
	c.out = nil
}

func (c *Connection) peerClosed() {
	if len(c.out) > 0 {
		c.closePending = &wsproto.Event{Kind: wsproto.EventClose}
		return
	}
	c.phase = PhaseDraining
}

func (c *Connection) feedHTTP(data []byte) {
	res := c.parser.Feed(data)
	if res.Err != nil {
		c.sendError(res.Err)
		return
	}
	if !res.Complete {
		return
	}
	c.req = res.Request
	if len(res.Leftover) > 0 {
		// Pipelined bytes for the next request on the same keep-alive
		// connection; replayed once the current response finishes
		// flushing and the parser resets (see ConsumeOutput).
		c.pendingLeftover = append([]byte(nil), res.Leftover...)
	}
	c.dispatch()
}

func (c *Connection) sendError(err error) {
	status := 400
	if e, ok := err.(*errs.Error); ok && e.Code == errs.CodeResourceExhausted {
		status = 413
	}
	c.log.Log(logging.Warning, "connection %s: %v", c.remoteAddr, err)
	c.queueOutput(httpproto.PlainTextError(status))
	c.phase = PhaseStreaming
	c.closePending = &wsproto.Event{Kind: wsproto.EventClose}
}

func (c *Connection) queueOutput(b []byte) {
	c.out = append(c.out, b...)
}
