// Package reactor implements the single-threaded event reactor: the
// readiness poller, the cross-thread wakeup channel, and the top-level
// accept/dispatch loop. Everything in this package is confined to the
// goroutine that calls Reactor.Serve — see reactor.go for the ownership
// check.
package reactor

// EventMask is a bitmask over the two readiness interests the poller
// exposes, plus the error/hangup bit the kernel reports unconditionally.
type EventMask uint32

const (
	EventReadable EventMask = 1 << iota
	EventWritable
	EventHangup
	EventError
)

func (m EventMask) Has(bit EventMask) bool { return m&bit != 0 }

// MaxPollEvents bounds how many ready events a single Wait call can
// return; the reactor treats a full batch as a signal that more
// readiness events may already be queued behind it.
const MaxPollEvents = 256

// PollEvent is one (fd, mask) pair returned by a Poller.Wait call. fd
// doubles as the token: it is sufficient for the reactor to recover the
// owning object (listening socket, wakeup read end, or connection) from
// its own bookkeeping, so the poller need not carry an opaque token
// through the kernel's event structure.
type PollEvent struct {
	FD   int
	Mask EventMask
}

// Poller is the OS readiness-notification abstraction: register, modify
// and unregister a socket handle with a subscription mask, and block for
// a batch of readiness events with a fixed timeout so the reactor can
// periodically reap lame connections even under quiet load.
type Poller interface {
	// Register adds fd to the poll set with the given interest mask.
	Register(fd int, interest EventMask) error
	// Modify changes the subscribed interest for an already-registered fd.
	Modify(fd int, interest EventMask) error
	// Unregister removes fd from the poll set.
	Unregister(fd int) error
	// Wait blocks up to timeoutMillis and appends ready events into dst,
	// returning the populated slice.
	Wait(dst []PollEvent, timeoutMillis int) ([]PollEvent, error)
	// Close releases the underlying OS poll handle.
	Close() error
}
