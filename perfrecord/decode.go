package perfrecord

import (
	"encoding/binary"
	"fmt"
)

// DecodeConfig carries the parts of the originating event's attribute
// that the decoder needs but that don't travel with each record: which
// optional fields a Sample carries, how a read-format value block is
// laid out, whether non-Sample records carry a sample_id tail, and the
// register masks that size a register dump (the record itself only
// carries a popcount's worth of values, not the mask).
type DecodeConfig struct {
	SampleFormat SampleFormat
	ReadFormat   ReadFormat
	SampleIDAll  bool
	RegsUserMask uint64
	RegsIntrMask uint64
}

// DecodeError reports a malformed record: one whose declared size
// doesn't match what its kind's parser actually consumed, or whose
// bytes ran out before a variable-length field did.
type DecodeError struct {
	RecordKind Kind
	Reason     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("perfrecord: decode %v record: %s", e.RecordKind, e.Reason)
}

// Decode decodes one record given its header and exactly
// header.Size-8 payload bytes copied out of the ring (the caller is
// responsible for assembling those bytes contiguously, including
// across a ring-buffer wrap). It never panics: a malformed record
// (undersized payload, a length field in the payload that would read
// past the end) is reported as a *DecodeError rather than propagated as
// a runtime panic, so the caller can deliver it on an errors channel and
// move on to the next record, per the non-fatal Decode error contract.
func Decode(hdr Header, payload []byte, cfg DecodeConfig) (rec Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			rec = nil
			err = &DecodeError{hdr.Kind, fmt.Sprintf("%v", p)}
		}
	}()

	c := &cursor{buf: payload}

	if hdr.Kind == KindSample {
		s := c.decodeSample(hdr, cfg)
		if len(c.buf) != 0 {
			return nil, &DecodeError{hdr.Kind, fmt.Sprintf("%d trailing bytes after parsing", len(c.buf))}
		}
		return s, nil
	}

	var tail []byte
	if cfg.SampleIDAll {
		tb := cfg.SampleFormat.TrailerBytes()
		if tb > len(c.buf) {
			return nil, &DecodeError{hdr.Kind, "payload shorter than its sample_id trailer"}
		}
		tail = c.buf[len(c.buf)-tb:]
		c.buf = c.buf[:len(c.buf)-tb]
	}

	var body Record
	switch hdr.Kind {
	case KindMmap, KindMmap2:
		body = c.decodeMmap(hdr)
	case KindLost:
		body = c.decodeLost()
	case KindComm:
		body = c.decodeComm(hdr)
	case KindExit:
		body = c.decodeExit()
	case KindThrottle, KindUnthrottle:
		body = c.decodeThrottle(hdr.Kind == KindThrottle)
	case KindFork:
		body = c.decodeFork()
	case KindRead:
		body = c.decodeRead(cfg.ReadFormat)
	case KindAux:
		body = c.decodeAux()
	case KindItraceStart:
		body = c.decodeItraceStart()
	case KindLostSamples:
		body = c.decodeLostSamples()
	case KindSwitch, KindSwitchCPUWide:
		body = c.decodeSwitch(hdr)
	default:
		body = &Unknown{RawKind: hdr.Kind, Data: append([]byte(nil), c.buf...)}
		c.buf = nil
	}

	if len(c.buf) != 0 {
		return nil, &DecodeError{hdr.Kind, fmt.Sprintf("%d trailing bytes after parsing", len(c.buf))}
	}

	if cfg.SampleIDAll {
		setCommon(body, decodeTail(cfg.SampleFormat, tail))
	}
	return body, nil
}

// cursor is a forward-only reader over a record's payload bytes. Its
// methods panic on short reads; Decode recovers that panic and turns it
// into a DecodeError, so a malformed record never crashes the driver.
type cursor struct {
	buf []byte
}

func (c *cursor) skip(n int) {
	c.buf = c.buf[n:]
}

func (c *cursor) bytesN(n int) []byte {
	x := c.buf[:n]
	c.buf = c.buf[n:]
	return x
}

func (c *cursor) u32() uint32 {
	x := binary.LittleEndian.Uint32(c.buf)
	c.buf = c.buf[4:]
	return x
}

func (c *cursor) i32() int32 {
	return int32(c.u32())
}

func (c *cursor) u64() uint64 {
	x := binary.LittleEndian.Uint64(c.buf)
	c.buf = c.buf[8:]
	return x
}

func (c *cursor) u64s(x []uint64) {
	for i := range x {
		x[i] = binary.LittleEndian.Uint64(c.buf[i*8:])
	}
	c.buf = c.buf[len(x)*8:]
}

func (c *cursor) cstring() string {
	for i, b := range c.buf {
		if b == 0 {
			s := string(c.buf[:i])
			c.buf = c.buf[len(c.buf):]
			return s
		}
	}
	s := string(c.buf)
	c.buf = c.buf[len(c.buf):]
	return s
}

func decodeTail(t SampleFormat, tail []byte) Common {
	c := &cursor{buf: tail}
	var out Common
	out.Format = t
	for _, f := range sampleIDFields(t) {
		switch f {
		case fieldPIDTID:
			out.PID, out.TID = int(c.i32()), int(c.i32())
		case fieldTime:
			out.Time = c.u64()
		case fieldID:
			out.ID = c.u64()
		case fieldStreamID:
			out.StreamID = c.u64()
		case fieldCPURes:
			out.CPU, out.Res = c.u32(), c.u32()
		case fieldIdentifier:
			out.ID = c.u64()
		}
	}
	return out
}

// setCommon installs the sample_id tail onto a decoded non-Sample
// record. A type switch is the idiomatic stand-in here for the generic
// "every Record embeds Common" relationship Go doesn't let us express
// through the Record interface directly.
func setCommon(r Record, common Common) {
	switch v := r.(type) {
	case *Unknown:
		v.Common = common
	case *Mmap:
		v.Common = common
	case *Lost:
		v.Common = common
	case *Comm:
		v.Common = common
	case *Exit:
		v.Common = common
	case *Throttle:
		v.Common = common
	case *Fork:
		v.Common = common
	case *Read:
		v.Common = common
	case *Aux:
		v.Common = common
	case *ItraceStart:
		v.Common = common
	case *LostSamples:
		v.Common = common
	case *Switch:
		v.Common = common
	}
}

func (c *cursor) decodeMmap(hdr Header) *Mmap {
	o := &Mmap{IsMmap2: hdr.Kind == KindMmap2}
	o.DataFlag = hdr.Misc&miscMmapData != 0
	o.PID, o.TID = int(c.i32()), int(c.i32())
	o.Addr, o.Len, o.PgOffset = c.u64(), c.u64(), c.u64()
	if o.IsMmap2 {
		o.Major, o.Minor = c.u32(), c.u32()
		o.Ino, o.InoGeneration = c.u64(), c.u64()
		o.Prot, o.Flags = c.u32(), c.u32()
	}
	o.Filename = c.cstring()
	return o
}

func (c *cursor) decodeLost() *Lost {
	return &Lost{ID: c.u64(), NumLost: c.u64()}
}

func (c *cursor) decodeComm(hdr Header) *Comm {
	o := &Comm{Exec: hdr.Misc&miscCommExec != 0}
	o.PID, o.TID = int(c.i32()), int(c.i32())
	o.Name = c.cstring()
	return o
}

func (c *cursor) decodeExit() *Exit {
	o := &Exit{}
	o.PID, o.PPID = int(c.i32()), int(c.i32())
	o.TID, o.PTID = int(c.i32()), int(c.i32())
	o.Time = c.u64()
	return o
}

func (c *cursor) decodeThrottle(enable bool) *Throttle {
	o := &Throttle{Enable: enable}
	o.Time = c.u64()
	o.ID = c.u64()
	o.StreamID = c.u64()
	return o
}

func (c *cursor) decodeFork() *Fork {
	o := &Fork{}
	o.PID, o.PPID = int(c.i32()), int(c.i32())
	o.TID, o.PTID = int(c.i32()), int(c.i32())
	o.Time = c.u64()
	return o
}

func (c *cursor) decodeRead(rf ReadFormat) *Read {
	o := &Read{}
	o.PID, o.TID = int(c.i32()), int(c.i32())
	o.Values = c.readFormat(rf)
	return o
}

func (c *cursor) decodeAux() *Aux {
	o := &Aux{}
	o.Offset, o.Size = c.u64(), c.u64()
	flags := c.u64()
	o.Truncated = flags&(1<<0) != 0
	o.Overwrite = flags&(1<<1) != 0
	o.Partial = flags&(1<<2) != 0
	o.Collision = flags&(1<<3) != 0
	return o
}

func (c *cursor) decodeItraceStart() *ItraceStart {
	return &ItraceStart{PID: int(c.i32()), TID: int(c.i32())}
}

func (c *cursor) decodeLostSamples() *LostSamples {
	return &LostSamples{Lost: c.u64()}
}

func (c *cursor) decodeSwitch(hdr Header) *Switch {
	o := &Switch{CPUWide: hdr.Kind == KindSwitchCPUWide}
	o.Out = hdr.Misc&miscSwitchOut != 0
	o.Preempt = o.Out && hdr.Misc&miscSwitchOutPreempt != 0
	if o.CPUWide {
		o.SwitchPID, o.SwitchTID = int(c.i32()), int(c.i32())
	}
	return o
}

func (c *cursor) readFormat(rf ReadFormat) []CounterValue {
	n := 1
	if rf&ReadFormatGroup != 0 {
		n = int(c.u64())
	}
	out := make([]CounterValue, n)
	if rf&ReadFormatGroup == 0 {
		out[0].Value = c.u64()
		if rf&ReadFormatTotalTimeEnabled != 0 {
			out[0].TimeEnabled = c.u64()
		}
		if rf&ReadFormatTotalTimeRunning != 0 {
			out[0].TimeRunning = c.u64()
		}
		if rf&ReadFormatID != 0 {
			out[0].ID = c.u64()
		}
		return out
	}
	for i := range out {
		if rf&ReadFormatTotalTimeEnabled != 0 {
			out[i].TimeEnabled = c.u64()
		}
		if rf&ReadFormatTotalTimeRunning != 0 {
			out[i].TimeRunning = c.u64()
		}
		out[i].Value = c.u64()
		if rf&ReadFormatID != 0 {
			out[i].ID = c.u64()
		}
	}
	return out
}

func (c *cursor) decodeSample(hdr Header, cfg DecodeConfig) *Sample {
	t := cfg.SampleFormat
	o := &Sample{}
	o.Format = t
	o.CPUMode = CPUMode(hdr.Misc & miscCPUModeMask)
	o.ExactIP = hdr.Misc&miscExactIP != 0

	if t&SampleFormatIdentifier != 0 {
		o.ID = c.u64()
	}
	if t&SampleFormatIP != 0 {
		o.IP = c.u64()
	}
	if t&SampleFormatTID != 0 {
		o.PID, o.TID = int(c.i32()), int(c.i32())
	}
	if t&SampleFormatTime != 0 {
		o.Time = c.u64()
	}
	if t&SampleFormatAddr != 0 {
		o.Addr = c.u64()
	}
	if t&SampleFormatID != 0 {
		o.ID = c.u64()
	}
	if t&SampleFormatStreamID != 0 {
		o.StreamID = c.u64()
	}
	if t&SampleFormatCPU != 0 {
		o.CPU, o.Res = c.u32(), c.u32()
	}
	if t&SampleFormatPeriod != 0 {
		o.Period = c.u64()
	}
	if t&SampleFormatRead != 0 {
		o.Values = c.readFormat(cfg.ReadFormat)
	}
	if t&SampleFormatCallchain != 0 {
		n := int(c.u64())
		o.Callchain = make([]uint64, n)
		c.u64s(o.Callchain)
	}
	if t&SampleFormatRaw != 0 {
		size := int(c.u32())
		data := c.bytesN(size)
		o.Raw = append([]byte(nil), data...)
		// The u32 length prefix plus its data are padded as a unit to
		// an 8-byte boundary.
		padded := (4 + size + 7) &^ 7
		c.skip(padded - 4 - size)
	}
	if t&SampleFormatBranchStack != 0 {
		n := int(c.u64())
		o.BranchStack = make([]BranchEntry, n)
		for i := range o.BranchStack {
			o.BranchStack[i] = BranchEntry{From: c.u64(), To: c.u64(), Flags: c.u64()}
		}
	}
	if t&SampleFormatRegsUser != 0 {
		o.RegsUserABI = RegsABI(c.u64())
		o.RegsUser = make([]uint64, popcount(cfg.RegsUserMask))
		c.u64s(o.RegsUser)
	}
	if t&SampleFormatStackUser != 0 {
		size := int(c.u64())
		if size != 0 {
			o.StackUser = append([]byte(nil), c.bytesN(size)...)
			o.StackUserDynSize = c.u64()
		}
	}
	if t&SampleFormatWeight != 0 {
		o.Weight = c.u64()
	}
	if t&SampleFormatDataSrc != 0 {
		o.DataSrc = decodeDataSrc(c.u64())
	}
	if t&SampleFormatTransaction != 0 {
		txn := c.u64()
		o.Transaction = Transaction(txn & 0xffffffff)
		o.AbortCode = uint32(txn >> 32)
	}
	if t&SampleFormatRegsIntr != 0 {
		o.RegsIntrABI = RegsABI(c.u64())
		o.RegsIntr = make([]uint64, popcount(cfg.RegsIntrMask))
		c.u64s(o.RegsIntr)
	}

	return o
}

// decodeDataSrc decodes the PERF_SAMPLE_DATA_SRC bitfield as documented
// by perf_mem_data_src in include/uapi/linux/perf_event.h.
func decodeDataSrc(d uint64) DataSrc {
	var out DataSrc
	op := (d >> 0) & 0x1f
	lvl := (d >> 5) & 0x3fff
	snoop := (d >> 19) & 0x1f
	lock := (d >> 24) & 0x3
	dtlb := (d >> 26) & 0x7f

	if op&0x1 != 0 {
		out.Op = DataSrcOpNA
	} else {
		out.Op = DataSrcOp(op >> 1)
	}
	if lvl&0x1 != 0 {
		out.Miss, out.Level = false, DataSrcLevelNA
	} else {
		out.Miss = lvl&0x4 != 0
		out.Level = DataSrcLevel(lvl >> 3)
	}
	if snoop&0x1 != 0 {
		out.Snoop = DataSrcSnoopNA
	} else {
		out.Snoop = DataSrcSnoop(snoop >> 1)
	}
	switch {
	case lock&0x1 != 0:
		out.Locked = DataSrcLockNA
	case lock&0x2 != 0:
		out.Locked = DataSrcLockLocked
	default:
		out.Locked = DataSrcLockUnlocked
	}
	if dtlb&0x1 != 0 {
		out.TLB = DataSrcTLBNA
	} else {
		out.TLB = DataSrcTLB(dtlb >> 1)
	}
	return out
}
