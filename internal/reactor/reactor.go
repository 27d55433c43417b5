//go:build linux

package reactor

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lattice-io/reactorweb/control"
	"github.com/lattice-io/reactorweb/internal/conn"
	"github.com/lattice-io/reactorweb/internal/logging"
	"github.com/lattice-io/reactorweb/internal/registry"
	"github.com/lattice-io/reactorweb/internal/taskqueue"
)

// pollTimeoutMillis is the fixed poll wait (~500 ms) so the loop
// periodically reaps lame connections even under quiet load.
const pollTimeoutMillis = 500

// lameCheckInterval governs how often the lame-connection sweep runs: at
// most once per interval, checked after every poll Wait, which the poll
// timeout bounds even under quiet load.
const lameCheckInterval = 1 * time.Second

// DefaultLameConnectionTimeout is the default window a connection may sit
// without sending any bytes before the reactor reaps it.
const DefaultLameConnectionTimeout = 10 * time.Second

// lingerSeconds is the SO_LINGER applied to every accepted socket, so a
// Draining connection's final close does not silently drop unsent bytes
// still in the kernel buffer.
const lingerSeconds = 5

// eventQueueFullWarnInterval rate-limits the "full event batch" warning
// so a sustained burst of readiness events logs at most once per window
// instead of once per poll iteration.
const eventQueueFullWarnInterval = 1 * time.Minute

// Config bundles everything Reactor needs beyond the listening socket.
type Config struct {
	ConnConfig            conn.Config
	Log                   logging.Logger
	Metrics               *control.MetricsRegistry
	LameConnectionTimeout time.Duration
}

// Reactor is the single-threaded event loop: accept, readiness dispatch,
// task-queue draining, and lame-connection reaping, built around the
// Poller/wakeup/taskqueue/registry collaborators rather than one inline
// epoll_wait loop.
type Reactor struct {
	poller Poller
	wake   *wakeup
	tasks  *taskqueue.Queue
	reg    *registry.Registry[*conn.Connection]

	listenFD int
	cfg      Config

	terminate          bool
	nextLameCheck      time.Time
	nextEventQueueWarn time.Time

	log     logging.Logger
	metrics *control.MetricsRegistry
}

// New creates a reactor bound to an already-created, already-listening,
// non-blocking socket. Socket setup (bind/listen) is the caller's
// concern: those are startup configuration errors and never enter the
// loop.
func New(listenFD int, cfg Config) (*Reactor, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}
	wake, err := newWakeup()
	if err != nil {
		poller.Close()
		return nil, fmt.Errorf("wakeup create: %w", err)
	}
	if cfg.Log == nil {
		cfg.Log = logging.Discard{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = control.NewMetricsRegistry()
	}
	if cfg.LameConnectionTimeout <= 0 {
		cfg.LameConnectionTimeout = DefaultLameConnectionTimeout
	}
	return &Reactor{
		poller:   poller,
		wake:     wake,
		tasks:    taskqueue.New(wake),
		listenFD: listenFD,
		cfg:      cfg,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
	}, nil
}

// Schedule submits a task for execution on the reactor goroutine,
// callable from any goroutine.
func (r *Reactor) Schedule(t taskqueue.Task) { r.tasks.Schedule(t) }

// Terminate requests loop exit. Safe from any goroutine: it is itself
// scheduled as a task so the mutation happens on the reactor goroutine,
// matching the registry's single-writer contract.
func (r *Reactor) Terminate() {
	r.tasks.Schedule(func() { r.terminate = true })
}

// SetLameConnectionTimeout changes the reap timeout used by
// maybeReapLame. Call only from the reactor thread — from inside a
// Schedule'd task, matching every other mutation of reactor-confined
// state.
func (r *Reactor) SetLameConnectionTimeout(d time.Duration) {
	r.cfg.LameConnectionTimeout = d
}

// Stats returns a snapshot of runtime counters and gauges.
func (r *Reactor) Stats() map[string]any { return r.metrics.GetSnapshot() }

// StatsDocument renders a tab-separated per-connection table: since, fd,
// id, uri, addr, user, input, read, output, written. Reactor-thread
// only, like every other registry-reading call — callers invoke this
// from inside a Schedule'd task or a WebSocket handler callback, both of
// which already run there.
func (r *Reactor) StatsDocument() string {
	var sb strings.Builder
	sb.WriteString("since\tfd\tid\turi\taddr\tuser\tinput\tread\toutput\twritten\n")
	r.reg.Range(func(fd int, c *conn.Connection, acceptedAt time.Time) {
		user := ""
		if creds := c.Credentials(); creds != nil {
			user = creds.Username()
		}
		fmt.Fprintf(&sb, "%s\t%d\t%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			acceptedAt.Format(time.RFC3339), fd, fd, c.LastURI(), c.RemoteAddr(), user,
			c.BytesReceived(), c.BytesReceived(), c.BytesSent(), c.BytesSent())
	})
	return sb.String()
}

// Serve runs the event loop until Terminate is observed or a listener-
// fatal condition occurs. It binds the calling OS thread for its entire
// duration, per registry's ownership contract.
func (r *Reactor) Serve() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tok := registry.NewOwnerToken()
	tok.Bind()
	r.reg = registry.New[*conn.Connection](tok)

	if err := r.poller.Register(r.listenFD, EventReadable); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}
	if err := r.poller.Register(r.wake.FD(), EventReadable); err != nil {
		return fmt.Errorf("register wakeup: %w", err)
	}
	defer r.shutdown()

	events := make([]PollEvent, 0, MaxPollEvents)
	for !r.terminate {
		r.tasks.Drain()

		var err error
		events, err = r.poller.Wait(events[:0], pollTimeoutMillis)
		if err != nil {
			r.log.Log(logging.Severe, "poll wait failed: %v", err)
			return fmt.Errorf("poll wait: %w", err)
		}
		if len(events) >= MaxPollEvents {
			r.warnEventQueueFull(len(events))
		}

		for _, ev := range events {
			r.routeEvent(ev)
			if r.terminate {
				break
			}
		}

		r.maybeReapLame()
		r.metrics.Set("activeConnections", int64(r.reg.Len()))
	}
	return nil
}

func (r *Reactor) shutdown() {
	r.reg.DestroyAll()
	_ = r.poller.Close()
	_ = r.wake.Close()
	_ = unix.Close(r.listenFD)
}

func (r *Reactor) routeEvent(ev PollEvent) {
	switch ev.FD {
	case r.listenFD:
		r.routeListener(ev)
	case r.wake.FD():
		if ev.Mask&^EventReadable != 0 {
			r.log.Log(logging.Severe, "unexpected event mask %s on wakeup descriptor", formatEventMask(ev.Mask))
		}
		_ = r.wake.Drain()
	default:
		r.routeConnection(ev)
	}
}

func (r *Reactor) routeListener(ev PollEvent) {
	if ev.Mask&^EventReadable != 0 {
		r.log.Log(logging.Severe, "unexpected event mask %s on listening socket, terminating", formatEventMask(ev.Mask))
		r.terminate = true
		return
	}
	r.acceptLoop()
}

// formatEventMask renders mask as a human-readable list of bit names,
// e.g. "READABLE|HANGUP", so an unexpected-mask log line tells an
// operator exactly which bits surprised the reactor instead of a bare
// hex number. Any bit this package does not name is rendered as hex.
func formatEventMask(mask EventMask) string {
	var parts []string
	for _, b := range []struct {
		bit  EventMask
		name string
	}{
		{EventReadable, "READABLE"},
		{EventWritable, "WRITABLE"},
		{EventHangup, "HANGUP"},
		{EventError, "ERROR"},
	} {
		if mask.Has(b.bit) {
			parts = append(parts, b.name)
			mask &^= b.bit
		}
	}
	if mask != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(mask)))
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// warnEventQueueFull logs, at most once per eventQueueFullWarnInterval,
// that a single poll Wait call returned a full batch of events — a sign
// more readiness events may already be queued behind it.
func (r *Reactor) warnEventQueueFull(n int) {
	now := time.Now()
	if now.Before(r.nextEventQueueWarn) {
		return
	}
	r.nextEventQueueWarn = now.Add(eventQueueFullWarnInterval)
	r.log.Log(logging.Warning, "poll returned a full event batch (%d events); readiness events may be queued behind it", n)
}

func (r *Reactor) acceptLoop() {
	for {
		nfd, sa, err := unix.Accept4(r.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			r.log.Log(logging.Warning, "accept failed: %v", err)
			return
		}

		if r.terminate {
			// Open Question (b): a connection accepted during shutdown is
			// closed immediately without entering the registry.
			_ = unix.Close(nfd)
			continue
		}

		_ = unix.SetsockoptLinger(nfd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: lingerSeconds})

		now := time.Now()
		c := conn.New(nfd, formatSockaddr(sa), now, r.cfg.ConnConfig)
		if err := r.poller.Register(nfd, EventReadable); err != nil {
			r.log.Log(logging.Warning, "register accepted fd=%d: %v", nfd, err)
			_ = unix.Close(nfd)
			continue
		}
		r.reg.Insert(c, now)
		r.metrics.Incr("connectionsAccepted", 1)
	}
}

func (r *Reactor) routeConnection(ev PollEvent) {
	c, ok := r.reg.Lookup(ev.FD)
	if !ok {
		// A stale event for an fd already removed this iteration; benign.
		return
	}

	if ev.Mask&^(EventReadable|EventWritable|EventHangup) != 0 {
		c.HangupOrError()
		r.finalizeConnection(c)
		return
	}
	if ev.Mask == EventHangup {
		if c.NeedsWrite() {
			r.flushWrites(c)
		}
		c.HangupOrError()
		r.finalizeConnection(c)
		return
	}

	if ev.Mask.Has(EventWritable) {
		r.flushWrites(c)
		if c.IsDraining() {
			r.finalizeConnection(c)
			return
		}
	}
	if ev.Mask.Has(EventReadable) {
		r.driveReads(c)
		if c.IsDraining() {
			r.finalizeConnection(c)
			return
		}
	}

	r.syncWriteSubscription(c)
}

func (r *Reactor) driveReads(c *conn.Connection) {
	var buf [64 * 1024]byte
	for {
		n, err := unix.Read(c.FD(), buf[:])
		if n > 0 {
			c.Feed(buf[:n])
		}
		if n == 0 {
			c.Feed(nil)
			return
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			c.HangupOrError()
			return
		}
	}
}

func (r *Reactor) flushWrites(c *conn.Connection) {
	for c.NeedsWrite() {
		out := c.Output()
		n, err := unix.Write(c.FD(), out)
		if n > 0 {
			c.ConsumeOutput(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			c.HangupOrError()
			return
		}
		if n == 0 {
			return
		}
	}
}

func (r *Reactor) syncWriteSubscription(c *conn.Connection) {
	interest := EventReadable
	if c.NeedsWrite() {
		interest |= EventWritable
	}
	if err := r.poller.Modify(c.FD(), interest); err != nil {
		r.log.Log(logging.Warning, "modify fd=%d: %v", c.FD(), err)
	}
}

func (r *Reactor) finalizeConnection(c *conn.Connection) {
	_ = r.poller.Unregister(c.FD())
	_ = unix.Close(c.FD())
	r.reg.Remove(c.FD())
}

func (r *Reactor) maybeReapLame() {
	now := time.Now()
	if now.Before(r.nextLameCheck) {
		return
	}
	r.nextLameCheck = now.Add(lameCheckInterval)

	var lame []int
	r.reg.Range(func(fd int, c *conn.Connection, acceptedAt time.Time) {
		if c.BytesReceived() == 0 && now.Sub(acceptedAt) >= r.cfg.LameConnectionTimeout {
			lame = append(lame, fd)
		}
	})
	for _, fd := range lame {
		c, ok := r.reg.Lookup(fd)
		if !ok {
			continue
		}
		r.log.Log(logging.Info, "reaping lame connection fd=%d", fd)
		c.HangupOrError()
		r.finalizeConnection(c)
	}
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}
