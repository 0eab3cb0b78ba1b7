package perfring

import (
	"sync/atomic"
	"testing"
	"unsafe"
)

// newTestRing builds a RingBuffer over a plain byte slice, bypassing
// Map's mmap(2) call, so the head/tail protocol can be exercised
// without a real perf_event fd.
func newTestRing(dataSize int) (*RingBuffer, []byte) {
	const metaPad = 128 * 8 // bytes consumed by metaPage's padding array
	offset := metaPad + 32  // room for the four uint64 fields after padding
	// The data region starts right after meta, with no page rounding;
	// exact value doesn't matter, only that it doesn't overlap meta.
	buf := make([]byte, offset+dataSize)
	meta := (*metaPage)(unsafe.Pointer(&buf[0]))
	meta.dataOffset = uint64(offset)
	meta.dataSize = uint64(dataSize)

	rb := &RingBuffer{
		mmap: buf,
		meta: meta,
		data: buf[offset : offset+dataSize],
		tail: 0,
	}
	return rb, rb.data
}

func putHeader(b []byte, at int, kind uint32, misc, size uint16) {
	b[at] = byte(kind)
	b[at+1] = byte(kind >> 8)
	b[at+2] = byte(kind >> 16)
	b[at+3] = byte(kind >> 24)
	b[at+4] = byte(misc)
	b[at+5] = byte(misc >> 8)
	b[at+6] = byte(size)
	b[at+7] = byte(size >> 8)
}

// TestNextEmpty exercises testable property 9: an empty ring (head ==
// tail) yields ok=false and no error.
func TestNextEmpty(t *testing.T) {
	rb, _ := newTestRing(64)
	_, _, ok, err := rb.Next()
	if ok || err != nil {
		t.Fatalf("got ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

// TestNextSingleRecord writes one record contiguously and checks Next
// decodes it and advances data_tail by exactly its size.
func TestNextSingleRecord(t *testing.T) {
	rb, data := newTestRing(64)
	putHeader(data, 0, 9, 0, 16)
	copy(data[8:16], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	atomic.StoreUint64(&rb.meta.dataHead, 16)

	hdr, payload, ok, err := rb.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if hdr.Kind != 9 || hdr.Size != 16 {
		t.Errorf("got header %+v", hdr)
	}
	if len(payload) != 8 || payload[0] != 1 || payload[7] != 8 {
		t.Errorf("got payload %v", payload)
	}
	if rb.meta.dataTail != 16 {
		t.Errorf("dataTail = %d, want 16", rb.meta.dataTail)
	}

	// ring is now empty again
	_, _, ok, err = rb.Next()
	if ok || err != nil {
		t.Fatalf("got ok=%v err=%v, want empty", ok, err)
	}
}

// TestNextWraps exercises testable property 7: a record whose bytes
// straddle the end of the data region decodes identically to the same
// record placed contiguously.
func TestNextWraps(t *testing.T) {
	const dataSize = 64
	rb, data := newTestRing(dataSize)

	// Place the tail 8 bytes from the end of the region so a 16-byte
	// record straddles the wrap: header at [56:64), payload spans
	// [0:8) of the next lap.
	rb.tail = dataSize - 8
	putHeader(data, dataSize-8, 9, 0, 16)
	payloadWant := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x11, 0x22}
	copy(data[0:8], payloadWant)

	atomic.StoreUint64(&rb.meta.dataHead, dataSize-8+16)

	hdr, payload, ok, err := rb.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if hdr.Kind != 9 || hdr.Size != 16 {
		t.Errorf("got header %+v", hdr)
	}
	if string(payload) != string(payloadWant) {
		t.Errorf("got payload %v, want %v", payload, payloadWant)
	}
}

// TestNextCorruptHeader exercises scenario S5: a header claiming a
// size smaller than the 8-byte header itself is a decode error, not a
// panic.
func TestNextCorruptHeader(t *testing.T) {
	rb, data := newTestRing(64)
	putHeader(data, 0, 9, 0, 4)
	atomic.StoreUint64(&rb.meta.dataHead, 4)

	_, _, ok, err := rb.Next()
	if ok || err == nil {
		t.Fatalf("got ok=%v err=%v, want a DecodeError", ok, err)
	}
	if _, isDecodeErr := err.(*DecodeError); !isDecodeErr {
		t.Fatalf("got %T, want *DecodeError", err)
	}
}

// TestNextSizeExceedsAvailable exercises the other half of the
// corruption check: a header claiming more bytes than data_head - tail
// makes available.
func TestNextSizeExceedsAvailable(t *testing.T) {
	rb, data := newTestRing(64)
	putHeader(data, 0, 9, 0, 32)
	atomic.StoreUint64(&rb.meta.dataHead, 16) // only 16 bytes published

	_, _, ok, err := rb.Next()
	if ok || err == nil {
		t.Fatalf("got ok=%v err=%v, want a DecodeError", ok, err)
	}
}

func TestMapRejectsNonPowerOfTwo(t *testing.T) {
	_, err := Map(nil, 3)
	if _, isMapErr := err.(*MapError); !isMapErr {
		t.Fatalf("got %T, want *MapError", err)
	}
}
