package conn

import (
	"github.com/lattice-io/reactorweb/internal/errs"
	"github.com/lattice-io/reactorweb/internal/logging"
	"github.com/lattice-io/reactorweb/internal/wsproto"
)

// feedWebSocket decodes as many complete frames as the buffer holds,
// delivering messages to the handler and servicing control frames.
func (c *Connection) feedWebSocket(data []byte) {
	c.appendWSInput(data)

	for {
		frame, n, err := wsproto.DecodeFrame(c.wsIn)
		if err != nil {
			c.failWebSocket(err)
			return
		}
		if frame == nil {
			return
		}
		c.wsIn = c.wsIn[n:]

		ev, autoReply, err := c.session.Feed(frame)
		if err != nil {
			c.failWebSocket(err)
			return
		}
		if autoReply != nil {
			c.queueOutput(autoReply)
		}
		if ev == nil {
			continue
		}
		switch ev.Kind {
		case wsproto.EventMessage:
			if c.handler != nil {
				c.handler.OnMessage(c, ev.Opcode == wsproto.OpText, ev.Payload)
			}
		case wsproto.EventClose:
			c.beginDrainAfterClose(ev)
			return
		}
	}
}

func (c *Connection) appendWSInput(data []byte) {
	c.wsIn = append(c.wsIn, data...)
}

func (c *Connection) failWebSocket(err error) {
	code := wsproto.CloseProtocolError
	if e, ok := err.(*errs.Error); ok && e.Code == errs.CodeResourceExhausted {
		code = wsproto.CloseMessageTooBig
	}
	c.log.Log(logging.Warning, "websocket connection %s: %v", c.remoteAddr, err)
	c.queueOutput(wsproto.EncodeClose(code, ""))
	c.beginDrainAfterClose(&wsproto.Event{Kind: wsproto.EventClose, CloseCode: code})
}

func (c *Connection) beginDrainAfterClose(ev *wsproto.Event) {
	if c.handler != nil && !c.closeSent {
		c.closeSent = true
		c.handler.OnClose(c, ev.CloseCode, ev.CloseReason)
	}
	c.closePending = ev
	if len(c.out) == 0 {
		c.phase = PhaseDraining
	}
}

// Send satisfies handlers.Conn: queues payload as one or more WebSocket
// frames for the reactor to flush on the next writable event.
func (c *Connection) Send(payload []byte, isText bool) {
	if c.phase != PhaseWebSocket {
		return
	}
	c.queueOutput(wsproto.EncodeMessage(isText, payload))
}

// CloseWithStatus satisfies handlers.Conn: sends a close frame and
// begins draining once it flushes.
func (c *Connection) CloseWithStatus(code uint16, reason string) {
	if c.phase != PhaseWebSocket {
		return
	}
	c.queueOutput(wsproto.EncodeClose(code, reason))
	c.beginDrainAfterClose(&wsproto.Event{Kind: wsproto.EventClose, CloseCode: code, CloseReason: reason})
}
