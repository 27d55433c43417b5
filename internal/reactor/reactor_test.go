package reactor_test

import (
	"bufio"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lattice-io/reactorweb/internal/conn"
	"github.com/lattice-io/reactorweb/internal/handlers"
	"github.com/lattice-io/reactorweb/internal/reactor"
)

func startTestReactor(t *testing.T, handlerReg *handlers.Registry) (*reactor.Reactor, int, <-chan error) {
	t.Helper()
	fd, err := reactor.Listen(0, 16)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port, err := reactor.BoundPort(fd)
	if err != nil {
		t.Fatalf("BoundPort: %v", err)
	}

	r, err := reactor.New(fd, reactor.Config{
		ConnConfig: conn.Config{Handlers: handlerReg},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Serve() }()
	return r, port, done
}

func TestReactorServesNotFound(t *testing.T) {
	reg := handlers.NewRegistry()
	r, port, done := startTestReactor(t, reg)
	defer func() {
		r.Terminate()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("reactor did not shut down in time")
		}
	}()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "GET /nope HTTP/1.1\r\nConnection: close\r\n\r\n")
	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if status != "HTTP/1.1 404 Not Found\r\n" {
		t.Fatalf("unexpected status line: %q", status)
	}
}

func TestReactorSchedulesTasksOnReactorThread(t *testing.T) {
	reg := handlers.NewRegistry()
	r, _, done := startTestReactor(t, reg)
	defer func() {
		r.Terminate()
		<-done
	}()

	var ran atomic.Bool
	r.Schedule(func() { ran.Store(true) })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ran.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("scheduled task did not run")
}
