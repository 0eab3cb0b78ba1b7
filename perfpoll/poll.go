// Package perfpoll registers a perf_event fd with epoll and exposes
// the drain-to-empty readiness state machine the sampler driver uses.
package perfpoll

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// State is the readiness state machine spec's Open Question mandates:
// drain the ring to empty on every notification, then clear readiness,
// rather than yielding back after a single record.
type State int32

const (
	NotReady State = iota
	Ready
	Draining
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "NotReady"
	case Ready:
		return "Ready"
	case Draining:
		return "Draining"
	default:
		return "invalid"
	}
}

// Source registers one fd with an epoll instance in edge-triggered
// mode and tracks the NotReady -> Ready -> Draining -> NotReady state
// machine across wakeups. Grounded on nathanjsweet-ebpf/syscalls.go's
// newEpollFd.
type Source struct {
	epollFd int
	fd      int
	state   int32 // atomic State
}

// Open creates an epoll instance and registers fd for edge-triggered
// read readiness.
func Open(fd int) (*Source, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &RegisterError{Op: "epoll_create1", Errno: err}
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epollFd)
		return nil, &RegisterError{Op: "epoll_ctl", Errno: err}
	}
	return &Source{epollFd: epollFd, fd: fd}, nil
}

// Close deregisters and closes the epoll instance. It does not close
// the monitored fd, which the caller continues to own.
func (s *Source) Close() error {
	return unix.Close(s.epollFd)
}

// State reports the current readiness state.
func (s *Source) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Await blocks until the fd becomes readable or timeoutMillis elapses.
// On readiness it sets the state to Ready and returns ok=true; on
// timeout or EINTR it returns ok=false and leaves the state unchanged.
// Await does not watch any stop signal itself. timeoutMillis follows
// epoll_wait's convention (-1 blocks indefinitely); the driver passes a
// small timeout so it can check its stop channel between calls without
// a second fd in the epoll set.
func (s *Source) Await(timeoutMillis int) (ok bool, err error) {
	var events [1]unix.EpollEvent
	n, err := unix.EpollWait(s.epollFd, events[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, &WaitError{Errno: err}
	}
	if n == 0 {
		return false, nil
	}
	atomic.StoreInt32(&s.state, int32(Ready))
	return true, nil
}

// BeginDrain transitions Ready -> Draining. It is a no-op, returning
// false, if the state is not currently Ready (e.g. a spurious second
// call).
func (s *Source) BeginDrain() bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(Ready), int32(Draining))
}

// EndDrain transitions Draining -> NotReady once the ring has been
// drained to empty, so the next Await call observes a fresh edge.
func (s *Source) EndDrain() {
	atomic.StoreInt32(&s.state, int32(NotReady))
}

// RegisterError reports a failed epoll_create1(2) or epoll_ctl(2)
// call.
type RegisterError struct {
	Op    string
	Errno error
}

func (e *RegisterError) Error() string { return fmt.Sprintf("perfpoll: %s: %v", e.Op, e.Errno) }
func (e *RegisterError) Unwrap() error  { return e.Errno }

// WaitError reports a failed epoll_wait(2) call.
type WaitError struct {
	Errno error
}

func (e *WaitError) Error() string { return fmt.Sprintf("perfpoll: epoll_wait: %v", e.Errno) }
func (e *WaitError) Unwrap() error  { return e.Errno }
