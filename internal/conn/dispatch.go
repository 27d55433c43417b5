package conn

import (
	"io"

	"github.com/lattice-io/reactorweb/internal/httpproto"
	"github.com/lattice-io/reactorweb/internal/logging"
	"github.com/lattice-io/reactorweb/internal/staticfile"
	"github.com/lattice-io/reactorweb/internal/wsproto"
)

// dispatch evaluates a completed request: static file, WebSocket
// upgrade, or unknown endpoint.
func (c *Connection) dispatch() {
	req := c.req
	c.lastURI = req.Path()

	if isUpgradeRequest(req) {
		c.dispatchUpgrade(req)
		return
	}
	c.dispatchStatic(req)
}

func isUpgradeRequest(req *httpproto.Request) bool {
	return req.Headers.Has("Upgrade") || req.Headers.Get("Sec-WebSocket-Key") != ""
}

func (c *Connection) dispatchUpgrade(req *httpproto.Request) {
	handler, allowCrossOrigin, known := c.cfg.Handlers.Lookup(req.Path())
	res := wsproto.DoHandshake(req, known, allowCrossOrigin)
	if res.RejectedReason != "" {
		c.log.Log(logging.Warning, "websocket upgrade rejected for %s: %s", req.Path(), res.RejectedReason)
		c.queueOutput(httpproto.PlainTextError(400))
		c.phase = PhaseStreaming
		c.closePending = &wsproto.Event{Kind: wsproto.EventClose}
		return
	}

	if c.cfg.Authenticator != nil {
		if creds, ok := c.cfg.Authenticator.Authenticate(req.Path(), req.Headers); ok {
			c.creds = creds
		}
	}

	headers := [][2]string{
		{"Upgrade", "websocket"},
		{"Connection", "Upgrade"},
		{"Sec-WebSocket-Accept", res.Accept},
		{"Sec-WebSocket-Version", "13"},
	}
	if res.EchoOrigin != "" {
		headers = append(headers, [2]string{"Access-Control-Allow-Origin", res.EchoOrigin})
	}
	c.queueOutput(httpproto.BuildResponse(101, headers, nil))

	c.session = wsproto.NewSession(c.cfg.MaxMessageBytes)
	c.handler = handler
	c.phase = PhaseWebSocket
	c.wsOpened = true
	if c.handler != nil {
		c.handler.OnConnect(c)
	}
	if leftover := c.pendingLeftover; len(leftover) > 0 {
		c.pendingLeftover = nil
		c.feedWebSocket(leftover)
	}
}

func (c *Connection) dispatchStatic(req *httpproto.Request) {
	if c.cfg.Static == nil {
		c.respondNotFound()
		return
	}
	ifModSince := staticfile.ParseIfModifiedSince(req.Headers.Get("If-Modified-Since"))
	result, err := c.cfg.Static.Resolve(req.Path(), ifModSince)
	if err != nil || !result.Found {
		c.respondNotFound()
		return
	}
	if result.NotModified {
		c.queueOutput(httpproto.BuildResponse(304, [][2]string{
			{"Connection", connectionHeaderValue(req)},
		}, nil))
		c.finishNonUpgradeResponse(req)
		return
	}
	defer result.Body.Close()
	body := make([]byte, result.Size)
	if _, err := io.ReadFull(result.Body, body); err != nil {
		c.respondNotFound()
		return
	}

	headers := [][2]string{
		{"Content-Type", result.ContentType},
		{"Last-Modified", staticfile.FormatLastModified(result.ModTime)},
		{"Connection", connectionHeaderValue(req)},
	}
	c.queueOutput(httpproto.BuildResponse(200, headers, body))
	c.finishNonUpgradeResponse(req)
}

// connectionHeaderValue reports the Connection header value matching the
// keep-alive decision finishNonUpgradeResponse will make for req.
func connectionHeaderValue(req *httpproto.Request) string {
	if req.KeepAlive() {
		return "keep-alive"
	}
	return "close"
}

func (c *Connection) respondNotFound() {
	c.queueOutput(httpproto.PlainTextError(404))
	c.phase = PhaseStreaming
	c.closePending = &wsproto.Event{Kind: wsproto.EventClose}
}

// finishNonUpgradeResponse queues the Keepalive-or-Draining follow-up
// once the response currently in the output buffer fully flushes.
func (c *Connection) finishNonUpgradeResponse(req *httpproto.Request) {
	c.phase = PhaseStreaming
	if req.KeepAlive() {
		c.keepAliveNext = true
	} else {
		c.closePending = &wsproto.Event{Kind: wsproto.EventClose}
	}
}
