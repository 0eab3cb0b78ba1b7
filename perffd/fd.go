// Package perffd owns the kernel file descriptor produced by
// perf_event_open(2): the open syscall itself, switching to
// non-blocking/async I/O, and arming the counter via ioctl.
package perffd

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aclements-labs/goperf/perfattr"
)

// Target selects which task and CPU an event attaches to.
type Target struct {
	// PID: 0 = calling process, -1 = any process (requires CPU >= 0).
	PID int
	// CPU: -1 = any CPU.
	CPU int
}

// CurrentProcessAnyCPU is the common case: attach to the calling
// process across whichever CPU it happens to run on.
var CurrentProcessAnyCPU = Target{PID: 0, CPU: -1}

// EventFile is the exclusive owner of one perf_event fd. It is created
// disabled; the caller must call Enable once ring-buffer mapping and
// readiness registration are in place.
type EventFile struct {
	fd int
}

// Open builds the kernel attribute from cfg and opens the resulting
// event. The fd is returned already switched to O_ASYNC|O_NONBLOCK.
func Open(cfg perfattr.SamplingConfig, target Target) (*EventFile, error) {
	attr, err := perfattr.Build(cfg)
	if err != nil {
		return nil, err
	}
	return OpenRaw(attr, target)
}

// OpenRaw opens an already-built attribute directly, bypassing
// perfattr.Build. The sampling engine never needs this; it exists so
// collaborators like perfcount, which build a counting (non-sampling)
// attribute from perfattr's RawAttr type directly, can still share
// this package's syscall, errno-translation and async-setup logic.
func OpenRaw(attr *perfattr.RawAttr, target Target) (*EventFile, error) {
	fd, err := perfEventOpen(attr, target.PID, target.CPU, -1, 0)
	if err != nil {
		return nil, &OpenError{Errno: err, Reason: openErrnoReason(err)}
	}
	f := &EventFile{fd: fd}
	if err := f.setAsync(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return f, nil
}

// Fd returns the raw file descriptor, for registration with a
// readiness source.
func (f *EventFile) Fd() int { return f.fd }

// setAsync switches the fd to O_ASYNC|O_NONBLOCK, required before the
// ring buffer is mapped.
func (f *EventFile) setAsync() error {
	flags, _, errno := syscall.Syscall(syscall.SYS_FCNTL, uintptr(f.fd), syscall.F_GETFL, 0)
	if errno != 0 {
		return &FcntlError{Errno: errno}
	}
	flags |= syscall.O_ASYNC | syscall.O_NONBLOCK
	_, _, errno = syscall.Syscall(syscall.SYS_FCNTL, uintptr(f.fd), syscall.F_SETFL, flags)
	if errno != 0 {
		return &FcntlError{Errno: errno}
	}
	return nil
}

// Enable arms the counter via PERF_EVENT_IOC_ENABLE. The driver calls
// this exactly once, after mapping and readiness registration.
func (f *EventFile) Enable() error {
	const perfEventIocEnable = 0x2400
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(f.fd), perfEventIocEnable, 0)
	if errno != 0 {
		return &EnableError{Errno: errno}
	}
	return nil
}

// Close closes the fd. Safe to call once; the RingBuffer mapped over
// this fd must be unmapped first or separately, mmap keeps its own
// reference to the underlying page cache object.
func (f *EventFile) Close() error {
	return unix.Close(f.fd)
}

// perfEventOpen issues the perf_event_open(2) syscall via
// unix.PerfEventOpen, which already resolves SYS_PERF_EVENT_OPEN for
// whatever arch this builds on (other_examples' parca-agent profiler
// calls the same wrapper the same way). Forces attr.Size and the
// CLOEXEC flag bit before the call.
func perfEventOpen(attr *perfattr.RawAttr, pid, cpu, groupFd int, flags int) (int, error) {
	const flagCloexec = 1 << 3
	attr.Size = uint32(unsafe.Sizeof(*attr))
	flags |= flagCloexec

	return unix.PerfEventOpen(attr, pid, cpu, groupFd, flags)
}

// OpenError reports a failed perf_event_open(2) call.
type OpenError struct {
	Errno  error
	Reason string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("perffd: open: %s (%v)", e.Reason, e.Errno)
}
func (e *OpenError) Unwrap() error { return e.Errno }

// openErrnoReason translates an errno from perf_event_open(2) into the
// taxonomy named by spec. Grounded on nathanjsweet-ebpf/syscalls.go's
// switch, cross-checked against original_source/src/fd.rs's broader
// table. Each errno below, EBADF and EBUSY included, gets its own reason.
func openErrnoReason(err error) string {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return "unknown error"
	}
	switch errno {
	case syscall.E2BIG:
		return "attribute size mismatches what this kernel expects"
	case syscall.EACCES, syscall.EPERM:
		return "missing CAP_SYS_ADMIN or a more permissive paranoid setting, or an unsupported exclusion"
	case syscall.EBADF:
		return "invalid cgroup or group fd"
	case syscall.EBUSY:
		return "PMU exclusive-access collision"
	case syscall.EFAULT:
		return "bad attr pointer"
	case syscall.EINVAL:
		return "configuration invalid"
	case syscall.EMFILE:
		return "per-process fd limit reached"
	case syscall.ENODEV:
		return "CPU lacks the requested feature"
	case syscall.ENOENT:
		return "event type unknown"
	case syscall.ENOSPC:
		return "hardware breakpoint table full"
	case syscall.ENOSYS:
		return "user-stack sampling unsupported"
	case syscall.EOPNOTSUPP:
		return "event requires a hardware feature that is missing"
	case syscall.EOVERFLOW:
		return "sample_max_stack too large"
	case syscall.ESRCH:
		return "target process does not exist"
	default:
		return fmt.Sprintf("unknown errno %d", errno)
	}
}

// FcntlError reports a failed fcntl(2) call while switching the fd to
// non-blocking/async mode.
type FcntlError struct {
	Errno error
}

func (e *FcntlError) Error() string { return fmt.Sprintf("perffd: fcntl: %v", e.Errno) }
func (e *FcntlError) Unwrap() error  { return e.Errno }

// EnableError reports a failed PERF_EVENT_IOC_ENABLE ioctl.
type EnableError struct {
	Errno error
}

func (e *EnableError) Error() string { return fmt.Sprintf("perffd: enable ioctl: %v", e.Errno) }
func (e *EnableError) Unwrap() error  { return e.Errno }
