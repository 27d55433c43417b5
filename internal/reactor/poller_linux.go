//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux implementation of Poller, collapsing two
// near-identical hand-rolled epoll wrappers into one
// register/modify/unregister/wait contract. Level triggered: no
// edge-triggered bit is set, since the state machine in internal/conn
// relies on repeated notifications until a socket operation would block.
type epollPoller struct {
	epfd int
}

// NewPoller creates the platform readiness poller.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollPoller{epfd: epfd}, nil
}

func toEpollEvents(interest EventMask) uint32 {
	var ev uint32
	if interest.Has(EventReadable) {
		ev |= unix.EPOLLIN
	}
	if interest.Has(EventWritable) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(raw uint32) EventMask {
	var m EventMask
	if raw&unix.EPOLLIN != 0 {
		m |= EventReadable
	}
	if raw&unix.EPOLLOUT != 0 {
		m |= EventWritable
	}
	if raw&unix.EPOLLHUP != 0 {
		m |= EventHangup
	}
	if raw&unix.EPOLLERR != 0 {
		m |= EventError
	}
	return m
}

func (p *epollPoller) Register(fd int, interest EventMask) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, interest EventMask) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Unregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Wait(dst []PollEvent, timeoutMillis int) ([]PollEvent, error) {
	var raw [MaxPollEvents]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		dst = append(dst, PollEvent{
			FD:   int(raw[i].Fd),
			Mask: fromEpollEvents(raw[i].Events),
		})
	}
	return dst, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
