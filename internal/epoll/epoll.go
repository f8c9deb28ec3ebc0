//go:build linux

// Package epoll wraps the kernel readiness interface used by the reactor.
package epoll

import (
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-httpd/internal/constants"
)

// Events is an interest or readiness mask.
type Events uint32

const (
	Readable      Events = unix.EPOLLIN
	Writable      Events = unix.EPOLLOUT
	Hangup        Events = unix.EPOLLHUP
	PeerHangup    Events = unix.EPOLLRDHUP
	Error         Events = unix.EPOLLERR
	OneShot       Events = unix.EPOLLONESHOT
	EdgeTriggered Events = unix.EPOLLET
)

// Poller owns an epoll instance and the event batch of the last Wait.
// Wait and the event accessors belong to the reactor goroutine; Add, Mod
// and Del are safe to call from workers re-arming their connection.
type Poller struct {
	fd     int
	events []unix.EpollEvent
}

// New creates a poller with the given event batch size.
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = constants.MaxEvents
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{fd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Add registers fd with the given interest mask.
func (p *Poller) Add(fd int, ev Events) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: uint32(ev),
		Fd:     int32(fd),
	})
}

// Mod replaces fd's interest mask. With a oneshot registration this re-arms
// the fd after a suppressed event.
func (p *Poller) Mod(fd int, ev Events) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: uint32(ev),
		Fd:     int32(fd),
	})
}

// Del removes fd from the interest set.
func (p *Poller) Del(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to timeoutMs milliseconds (-1 blocks indefinitely) and
// returns the number of ready events. Interrupted waits are retried.
func (p *Poller) Wait(timeoutMs int) (int, error) {
	for {
		n, err := unix.EpollWait(p.fd, p.events, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// EventFd returns the fd of event i from the last Wait.
func (p *Poller) EventFd(i int) int {
	return int(p.events[i].Fd)
}

// EventMask returns the readiness mask of event i from the last Wait.
func (p *Poller) EventMask(i int) Events {
	return Events(p.events[i].Events)
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.fd)
}
