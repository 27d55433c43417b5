// Example: embeds the reactor core as an echo WebSocket endpoint plus a
// static file root, mirroring the shape of reactor_echo/main.go.
package main

import (
	"fmt"
	"os"

	"github.com/lattice-io/reactorweb/server"
)

type echoHandler struct{}

func (echoHandler) OnConnect(c server.Conn) {
	fmt.Printf("[example] connected: %s\n", c.RemoteAddr())
}

func (echoHandler) OnMessage(c server.Conn, isText bool, payload []byte) {
	fmt.Printf("[example] message from %s (%d bytes)\n", c.RemoteAddr(), len(payload))
	c.Send(payload, isText)
}

func (echoHandler) OnClose(c server.Conn, code uint16, reason string) {
	fmt.Printf("[example] closed: %s (code=%d reason=%q)\n", c.RemoteAddr(), code, reason)
}

func main() {
	s := server.NewServer()

	if err := s.AddWebSocketHandler("/echo", echoHandler{}, true); err != nil {
		fmt.Fprintf(os.Stderr, "register handler: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("[example] listening on :9002, static root %q, websocket endpoint /echo\n", "./public")
	if err := s.Serve("./public", 9002); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
}
