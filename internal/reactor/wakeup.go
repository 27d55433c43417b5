//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// wakeup is the cross-thread self-pipe: one eventfd, registered with the
// poller for readable events, to which any thread may write a nonzero
// counter value to nudge the
// reactor out of a blocking Wait. Built on eventfd rather than a two-fd
// pipe, since Linux always has eventfd available.
type wakeup struct {
	fd int
}

func newWakeup() (*wakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd create: %w", err)
	}
	return &wakeup{fd: fd}, nil
}

// FD returns the descriptor to register with the poller for readable
// events.
func (w *wakeup) FD() int { return w.fd }

// Signal posts one wakeup. A would-block write means a signal is already
// pending and is silently ignored; any other error is the caller's to log
// but is never fatal.
func (w *wakeup) Signal() error {
	var one [8]byte
	one[7] = 1
	_, err := unix.Write(w.fd, one[:])
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil
	}
	return err
}

// Drain reads and discards the accumulated counter value, repeating until
// the read would block, so a single notification is never left pending.
func (w *wakeup) Drain() error {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err == nil {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		return err
	}
}

func (w *wakeup) Close() error {
	return unix.Close(w.fd)
}
