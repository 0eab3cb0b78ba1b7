package perfrecord

import (
	"encoding/binary"
	"testing"
)

func u64le(x uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, x)
	return b
}

func u32le(x uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, x)
	return b
}

// TestDecodeSampleIPTidTime decodes a synthesized PERF_RECORD_SAMPLE
// payload carrying ip, pid/tid and time, matching scenario S2.
func TestDecodeSampleIPTidTime(t *testing.T) {
	format := SampleFormatIP | SampleFormatTID | SampleFormatTime
	var payload []byte
	payload = append(payload, u64le(0xdeadbeef)...) // ip
	payload = append(payload, u32le(17)...)          // pid
	payload = append(payload, u32le(17)...)          // tid
	payload = append(payload, u64le(1000)...)        // time

	hdr := Header{Kind: KindSample, Size: uint16(8 + len(payload))}
	rec, err := Decode(hdr, payload, DecodeConfig{SampleFormat: format})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, ok := rec.(*Sample)
	if !ok {
		t.Fatalf("got %T, want *Sample", rec)
	}
	if s.IP != 0xdeadbeef || s.PID != 17 || s.TID != 17 || s.Time != 1000 {
		t.Errorf("got %+v", s)
	}
}

// TestDecodeShortPayload covers the decoder's side of corrupt input. A
// header claiming a size too small to even hold itself is rejected by
// the ring layer (see perfring's TestNextCorruptHeader), so this test
// exercises the decoder's own defense: a record whose declared kind
// requires more bytes than are actually present.
func TestDecodeShortPayload(t *testing.T) {
	hdr := Header{Kind: KindExit, Size: 8 + 4}
	_, err := Decode(hdr, []byte{1, 2, 3, 4}, DecodeConfig{})
	if err == nil {
		t.Fatal("expected a decode error for a truncated Exit record")
	}
	var de *DecodeError
	if !asDecodeError(err, &de) {
		t.Fatalf("got %T, want *DecodeError", err)
	}
}

func asDecodeError(err error, out **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*out = de
	}
	return ok
}

func TestSampleIDTailRoundTrip(t *testing.T) {
	format := SampleFormatTID | SampleFormatTime | SampleFormatStreamID | SampleFormatCPU
	var tail []byte
	tail = append(tail, u32le(42)...)   // pid
	tail = append(tail, u32le(43)...)   // tid
	tail = append(tail, u64le(123)...)  // time
	tail = append(tail, u64le(7)...)    // stream_id
	tail = append(tail, u32le(2)...)    // cpu
	tail = append(tail, u32le(0)...)    // res

	common := decodeTail(format, tail)
	if common.PID != 42 || common.TID != 43 || common.Time != 123 || common.StreamID != 7 || common.CPU != 2 {
		t.Errorf("got %+v", common)
	}
}

func TestDecodeCommWithSampleIDTail(t *testing.T) {
	format := SampleFormatTID | SampleFormatTime
	var payload []byte
	payload = append(payload, u32le(5)...) // pid
	payload = append(payload, u32le(5)...) // tid
	payload = append(payload, []byte("ok\x00")...)
	// sample_id tail: tid(pid,tid) + time
	payload = append(payload, u32le(5)...)
	payload = append(payload, u32le(5)...)
	payload = append(payload, u64le(999)...)

	hdr := Header{Kind: KindComm, Size: uint16(8 + len(payload))}
	rec, err := Decode(hdr, payload, DecodeConfig{SampleFormat: format, SampleIDAll: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	c, ok := rec.(*Comm)
	if !ok {
		t.Fatalf("got %T, want *Comm", rec)
	}
	if c.Name != "ok" {
		t.Errorf("Name = %q, want %q", c.Name, "ok")
	}
	if c.Common.Time != 999 {
		t.Errorf("tail Time = %d, want 999", c.Common.Time)
	}
}
