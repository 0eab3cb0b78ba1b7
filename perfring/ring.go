// Package perfring memory-maps the kernel's perf_event ring buffer and
// implements its head/tail protocol: a lock-free single-producer
// (kernel) / single-consumer (us) queue of variable-length records.
package perfring

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aclements-labs/goperf/perffd"
	"github.com/aclements-labs/goperf/perfrecord"
)

// DefaultPages is the default data-region page count (must be a power
// of two), matching scenario S1.
const DefaultPages = 128

// metaPage mirrors the kernel's perf_event_mmap_page layout: this core
// only reads the four fields named by spec (data_head/data_tail/
// data_offset/data_size); the capability and timing fields ahead of
// them are left as padding, the same shortcut nathanjsweet-ebpf takes
// in its perfEventMeta.
type metaPage struct {
	_          [128]uint64
	dataHead   uint64
	dataTail   uint64
	dataOffset uint64
	dataSize   uint64
}

// RingBuffer is the mapped ring: page 0 is metadata, the data region
// follows at meta.dataOffset and is meta.dataSize bytes, a power of
// two.
type RingBuffer struct {
	mmap []byte
	meta *metaPage
	data []byte

	// tail mirrors meta.dataTail locally; it is only ever advanced by
	// this goroutine, so it needs no atomic access on its own, only
	// when published to the shared meta page.
	tail uint64
}

// Map mmaps (pages+1) pages read-write shared over f's fd: page 0 for
// metadata, pages 1..pages for the data region. pages must be a power
// of two.
func Map(f *perffd.EventFile, pages int) (*RingBuffer, error) {
	if pages <= 0 || pages&(pages-1) != 0 {
		return nil, &MapError{Reason: fmt.Sprintf("pages %d is not a power of two", pages)}
	}
	pageSize := os.Getpagesize()
	size := (pages + 1) * pageSize

	mmap, err := unix.Mmap(f.Fd(), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &MapError{Reason: mmapErrnoReason(err), Errno: err}
	}

	meta := (*metaPage)(unsafe.Pointer(&mmap[0]))
	rb := &RingBuffer{
		mmap: mmap,
		meta: meta,
		data: mmap[meta.dataOffset : meta.dataOffset+meta.dataSize],
		tail: meta.dataTail,
	}
	return rb, nil
}

// Close unmaps the ring. Safe to call once.
func (rb *RingBuffer) Close() error {
	return unix.Munmap(rb.mmap)
}

// MappedLen returns the total mapped length in bytes, (N+1)*page_size.
func (rb *RingBuffer) MappedLen() int { return len(rb.mmap) }

// DataSize returns meta.data_size, the power-of-two byte length of the
// data region.
func (rb *RingBuffer) DataSize() uint64 { return rb.meta.dataSize }

// DataOffset returns meta.data_offset.
func (rb *RingBuffer) DataOffset() uint64 { return rb.meta.dataOffset }

// dataHead loads meta.data_head with the acquire fence spec requires:
// atomic.LoadUint64 on Go's memory model is itself a synchronizing
// acquire operation, pairing with the kernel's release store, so no
// separate fence instruction is issued or needed.
func (rb *RingBuffer) dataHead() uint64 {
	return atomic.LoadUint64(&rb.meta.dataHead)
}

// publishTail stores meta.data_tail with the release fence spec
// requires: atomic.StoreUint64 is a release operation, ensuring every
// read of the data region up to tail happens-before the kernel
// observes the new tail and reclaims that space.
func (rb *RingBuffer) publishTail(tail uint64) {
	atomic.StoreUint64(&rb.meta.dataTail, tail)
	rb.tail = tail
}

// Next returns the next record's header and payload, or ok=false if
// the ring is empty. A non-nil error indicates the kernel wrote a
// self-inconsistent header (corruption); the caller should treat the
// session as unrecoverable (scenario S5).
//
// This implementation reads the header and payload by masking offsets
// into the data region and copying across the wrap when a record
// straddles the end of the region — unlike
// original_source/src/sample/ring_buffer.rs's next_event_bytes, which
// asserts no record ever wraps and always returns None: that assertion
// does not hold in general (testable property 7 requires correct
// wraparound), so this core performs the wrap-aware copy instead.
func (rb *RingBuffer) Next() (perfrecord.Header, []byte, bool, error) {
	head := rb.dataHead()
	tail := rb.tail
	if head == tail {
		return perfrecord.Header{}, nil, false, nil
	}

	size := head - tail
	mask := rb.DataSize() - 1

	hdrBytes := rb.readAt(tail, mask, 8)
	hdr := decodeHeader(hdrBytes)

	if hdr.Size < 8 {
		return perfrecord.Header{}, nil, false, &DecodeError{Reason: fmt.Sprintf("record size %d is smaller than the 8-byte header", hdr.Size)}
	}
	if uint64(hdr.Size) > size {
		return perfrecord.Header{}, nil, false, &DecodeError{Reason: fmt.Sprintf("record size %d exceeds %d bytes available before data_head", hdr.Size, size)}
	}

	payloadLen := int(hdr.Size) - 8
	var payload []byte
	if payloadLen > 0 {
		payload = rb.readAt(tail+8, mask, payloadLen)
	}

	rb.publishTail(tail + uint64(hdr.Size))
	return hdr, payload, true, nil
}

// readAt copies n bytes starting at the ring-relative offset off
// (masked by mask = data_size-1), splitting the copy across the ring's
// physical wrap point when necessary.
func (rb *RingBuffer) readAt(off, mask uint64, n int) []byte {
	start := int(off & mask)
	dataSize := len(rb.data)
	buf := make([]byte, n)
	if start+n <= dataSize {
		copy(buf, rb.data[start:start+n])
		return buf
	}
	first := dataSize - start
	copy(buf[:first], rb.data[start:])
	copy(buf[first:], rb.data[:n-first])
	return buf
}

func decodeHeader(b []byte) perfrecord.Header {
	return perfrecord.Header{
		Kind: perfrecord.Kind(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24),
		Misc: uint16(b[4]) | uint16(b[5])<<8,
		Size: uint16(b[6]) | uint16(b[7])<<8,
	}
}

// MapError reports a failed mmap(2) call.
type MapError struct {
	Reason string
	Errno  error
}

func (e *MapError) Error() string {
	if e.Errno != nil {
		return fmt.Sprintf("perfring: map: %s (%v)", e.Reason, e.Errno)
	}
	return fmt.Sprintf("perfring: map: %s", e.Reason)
}
func (e *MapError) Unwrap() error { return e.Errno }

// DecodeError reports a self-inconsistent record header found while
// iterating the ring: the kernel's head/tail invariant has been
// violated, so the ring is no longer trustworthy.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("perfring: corrupt ring: %s", e.Reason) }

// mmapErrnoReason translates an mmap(2) errno into the taxonomy named
// by spec. Grounded on original_source/src/fd.rs's mmap errno table.
func mmapErrnoReason(err error) string {
	errno, ok := err.(unix.Errno)
	if !ok {
		return "unknown error"
	}
	switch errno {
	case unix.EACCES:
		return "fd not opened for reading/writing or mapping conflicts with MAP_DENYWRITE"
	case unix.EAGAIN:
		return "file locked or too much memory locked"
	case unix.EBADF:
		return "fd is not a valid open file descriptor"
	case unix.EINVAL:
		return "invalid length, offset, or address arguments"
	case unix.ENODEV:
		return "filesystem backing fd does not support memory mapping"
	case unix.ENOMEM:
		return "no memory available, or process's maps count would exceed the limit"
	case unix.EOVERFLOW:
		return "requested mapping would overflow an addressable range"
	case unix.EPERM:
		return "requested PROT_EXEC on a no-exec filesystem"
	case unix.ETXTBSY:
		return "fd refers to a file open for writing"
	default:
		return fmt.Sprintf("unknown errno %d", errno)
	}
}
