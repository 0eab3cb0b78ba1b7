// Package perfrecord decodes the variable-length binary records written by
// the kernel into a perf_event ring buffer.
//
// The wire format is documented in perf_event_open(2) and in
// include/uapi/linux/perf_event.h. Record layout depends on two bitmasks
// carried in the originating event's attribute: SampleType selects which
// fields appear in PERF_RECORD_SAMPLE records, and, when SampleIDAll is
// set, the same bitmask selects which identity fields are appended to
// every other record kind.
package perfrecord

// SampleFormat is the PERF_SAMPLE_* bitmask: it selects which fields are
// present in a Sample record and, when SampleIDAll is configured, which
// identity fields trail every other record kind.
//
// This corresponds to the perf_event_sample_format enum from
// include/uapi/linux/perf_event.h.
type SampleFormat uint64

const (
	SampleFormatIP SampleFormat = 1 << iota
	SampleFormatTID
	SampleFormatTime
	SampleFormatAddr
	SampleFormatRead
	SampleFormatCallchain
	SampleFormatID
	SampleFormatCPU
	SampleFormatPeriod
	SampleFormatStreamID
	SampleFormatRaw
	SampleFormatBranchStack
	SampleFormatRegsUser
	SampleFormatStackUser
	SampleFormatWeight
	SampleFormatDataSrc
	SampleFormatIdentifier
	SampleFormatTransaction
	SampleFormatRegsIntr
)

// ReadFormat is the PERF_FORMAT_* bitmask describing the layout of a
// read-format value block (SampleFormatRead / the counting collaborator's
// read()).
type ReadFormat uint64

const (
	ReadFormatTotalTimeEnabled ReadFormat = 1 << iota
	ReadFormatTotalTimeRunning
	ReadFormatID
	ReadFormatGroup
)

// Kind identifies the variant of a Record, mirroring PERF_RECORD_* from
// include/uapi/linux/perf_event.h.
type Kind uint32

const (
	KindMmap Kind = 1 + iota
	KindLost
	KindComm
	KindExit
	KindThrottle
	KindUnthrottle
	KindFork
	KindRead
	KindSample
	KindMmap2
	KindAux
	KindItraceStart
	KindLostSamples
	KindSwitch
	KindSwitchCPUWide
)

func (k Kind) String() string {
	switch k {
	case KindMmap:
		return "Mmap"
	case KindLost:
		return "Lost"
	case KindComm:
		return "Comm"
	case KindExit:
		return "Exit"
	case KindThrottle:
		return "Throttle"
	case KindUnthrottle:
		return "Unthrottle"
	case KindFork:
		return "Fork"
	case KindRead:
		return "Read"
	case KindSample:
		return "Sample"
	case KindMmap2:
		return "Mmap2"
	case KindAux:
		return "Aux"
	case KindItraceStart:
		return "ItraceStart"
	case KindLostSamples:
		return "LostSamples"
	case KindSwitch:
		return "Switch"
	case KindSwitchCPUWide:
		return "SwitchCpuWide"
	default:
		return "Unknown"
	}
}

// Misc bits from perf_event_header.misc. The low 3 bits are the CPU mode;
// bit 13's meaning depends on the record kind.
const (
	miscCPUModeMask   uint16 = 7
	miscMmapData      uint16 = 1 << 13
	miscCommExec      uint16 = 1 << 13
	miscSwitchOut     uint16 = 1 << 13
	miscExactIP       uint16 = 1 << 14
	miscSwitchOutPreempt uint16 = 1 << 14
)

// CPUMode is the privilege level the CPU was in when a record's event
// occurred, decoded from the low 3 bits of Header.Misc.
type CPUMode uint16

const (
	CPUModeUnknown CPUMode = iota
	CPUModeKernel
	CPUModeUser
	CPUModeHypervisor
	CPUModeGuestKernel
	CPUModeGuestUser
)

// Header is the 8-byte record header present at the start of every
// record in the ring buffer.
type Header struct {
	Kind Kind
	Misc uint16
	Size uint16 // includes the 8-byte header itself
}

// sampleIDField names one field of the sample_id tail, in on-the-wire
// order. Every field is 8 bytes on the wire (the pid/tid and cpu/res
// pairs are two u32s each).
type sampleIDField int

const (
	fieldPIDTID sampleIDField = iota // u32 pid, u32 tid
	fieldTime                        // u64 time
	fieldID                          // u64 id
	fieldStreamID                    // u64 stream_id
	fieldCPURes                      // u32 cpu, u32 res
	fieldIdentifier                  // u64 id (again, when Identifier requested)
)

// sampleIDFields returns, in wire order, the fields present in the
// sample_id tail appended to non-Sample records when SampleIDAll is set.
// It is driven by exactly the same SampleFormat bitmask that selects
// fields within a Sample record itself (spec requirement: the tail
// reader must be generated from that bitmask, not hand-duplicated).
func sampleIDFields(t SampleFormat) []sampleIDField {
	var fs []sampleIDField
	if t&SampleFormatTID != 0 {
		fs = append(fs, fieldPIDTID)
	}
	if t&SampleFormatTime != 0 {
		fs = append(fs, fieldTime)
	}
	if t&SampleFormatID != 0 {
		fs = append(fs, fieldID)
	}
	if t&SampleFormatStreamID != 0 {
		fs = append(fs, fieldStreamID)
	}
	if t&SampleFormatCPU != 0 {
		fs = append(fs, fieldCPURes)
	}
	if t&SampleFormatIdentifier != 0 {
		fs = append(fs, fieldIdentifier)
	}
	return fs
}

// TrailerBytes returns the length in bytes of the sample_id tail for a
// given SampleFormat, i.e. the number of bytes a non-Sample record grows
// by when SampleIDAll is set.
func (t SampleFormat) TrailerBytes() int {
	n := 0
	for _, f := range sampleIDFields(t) {
		switch f {
		case fieldPIDTID, fieldCPURes:
			n += 8
		default:
			n += 8
		}
	}
	return n
}

// popcount returns the number of set bits in x, used to size register
// dumps (the number of registers present equals the number of set bits
// in the corresponding sample_regs_user/sample_regs_intr mask).
func popcount(x uint64) int {
	x -= (x >> 1) & 0x5555555555555555
	x = (x & 0x3333333333333333) + ((x >> 2) & 0x3333333333333333)
	x = (x + (x >> 4)) & 0x0f0f0f0f0f0f0f0f
	return int((x * 0x0101010101010101) >> 56)
}
