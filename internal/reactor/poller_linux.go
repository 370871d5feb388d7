//go:build linux

// Package reactor wraps the kernel readiness multiplexer (epoll) behind the
// small contract the HTTP adapter needs: edge-triggered registration,
// one-shot re-arming and a blocking wait that can be interrupted for shutdown.
//
// One-shot registrations deliver at most one event until Rearm is called.
// That is what lets the adapter hand a connection to exactly one goroutine at
// a time: whoever received the event owns the connection until it re-arms.
package reactor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Interest is the readiness a descriptor is monitored for.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) String() string {
	switch i {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	default:
		return "none"
	}
}

// ErrClosed is returned by operations on a closed Poller.
var ErrClosed = errors.New("reactor: poller closed")

// Event is a readiness notification for one descriptor.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Hangup is set on peer shutdown (RDHUP), hangup or socket error.
	Hangup bool
}

// Poller owns one epoll instance plus an eventfd used to interrupt Wait.
type Poller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
	closed atomic.Bool
}

// New creates a Poller able to report up to maxEvents events per Wait.
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	// The wake descriptor stays level-triggered so a pending wakeup is never lost.
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	}); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl add wakefd: %w", err)
	}

	return &Poller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func eventMask(interest Interest, oneShot bool) uint32 {
	mask := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if interest&Readable != 0 {
		mask |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	if oneShot {
		mask |= unix.EPOLLONESHOT
	}
	return mask
}

// Register adds fd with the given interest. Notification is edge-triggered;
// with oneShot the descriptor is disabled after its first event until Rearm.
func (p *Poller) Register(fd int, interest Interest, oneShot bool) error {
	if p.closed.Load() {
		return ErrClosed
	}

	ev := unix.EpollEvent{Events: eventMask(interest, oneShot), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Rearm re-enables a one-shot descriptor with a new interest. It must be
// called exactly once per finished processing cycle; a missed Rearm leaves
// the descriptor silent forever.
func (p *Poller) Rearm(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrClosed
	}

	ev := unix.EpollEvent{Events: eventMask(interest, true), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Deregister removes fd. Removing a descriptor that is not registered, or
// already closed, is not an error.
func (p *Poller) Deregister(fd int) error {
	if p.closed.Load() {
		return nil
	}

	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == nil || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
}

// Wait blocks until at least one descriptor is ready, Wake is called, or the
// timeout expires (a negative timeout waits forever). Ready events are
// appended to dst[:0]. Interruptions by signals or Wake return no events and
// no error.
func (p *Poller) Wait(dst []Event, timeout time.Duration) ([]Event, error) {
	dst = dst[:0]
	if p.closed.Load() {
		return dst, ErrClosed
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.epfd, p.events, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return dst, nil
		}
		return dst, fmt.Errorf("epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		raw := p.events[i]
		fd := int(raw.Fd)

		if fd == p.wakefd {
			p.drainWake()
			continue
		}

		dst = append(dst, Event{
			Fd:       fd,
			Readable: raw.Events&unix.EPOLLIN != 0,
			Writable: raw.Events&unix.EPOLLOUT != 0,
			Hangup:   raw.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return dst, nil
}

// Wake interrupts a concurrent Wait. Safe to call from any goroutine.
func (p *Poller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}

	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(p.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

// Close releases the epoll instance. Descriptors registered with it are not
// closed. Close is idempotent.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	errWake := unix.Close(p.wakefd)
	errEp := unix.Close(p.epfd)
	return errors.Join(errWake, errEp)
}
