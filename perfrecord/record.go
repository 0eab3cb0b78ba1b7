package perfrecord

// Common holds the fields shared by every record kind: the sample_id
// tail appended when the originating config set SampleIDAll, present on
// every kind except Sample (whose own fields play the equivalent role).
type Common struct {
	// Format records which of the fields below are valid, mirroring
	// the SampleFormat bits that selected them.
	Format SampleFormat

	PID, TID int    // if Format&SampleFormatTID
	Time     uint64 // if Format&SampleFormatTime
	ID       uint64 // if Format&(SampleFormatID|SampleFormatIdentifier)
	StreamID uint64 // if Format&SampleFormatStreamID
	CPU, Res uint32 // if Format&SampleFormatCPU
}

// Record is implemented by every decoded record kind.
type Record interface {
	Kind() Kind
	CommonFields() Common
}

// Unknown is produced for a record kind this decoder does not
// recognize; Data holds its undecoded payload. When SampleIDAll is set
// the sample_id tail is not part of Data: it is decoded into Common.
type Unknown struct {
	Common
	RawKind Kind
	Data    []byte
}

func (r *Unknown) Kind() Kind           { return r.RawKind }
func (r *Unknown) CommonFields() Common { return r.Common }

// Mmap records a memory mapping, either one that existed when sampling
// started or one created afterward by calling mmap. Mmap2 records carry
// the same fields plus device/inode (or build ID) information.
type Mmap struct {
	Common

	IsMmap2  bool
	DataFlag bool // PERF_RECORD_MISC_MMAP_DATA: mapping is not executable

	PID, TID           int
	Addr, Len, PgOffset uint64

	// Populated only when IsMmap2.
	Major, Minor       uint32
	Ino, InoGeneration uint64
	Prot, Flags        uint32

	Filename string
}

func (r *Mmap) Kind() Kind {
	if r.IsMmap2 {
		return KindMmap2
	}
	return KindMmap
}
func (r *Mmap) CommonFields() Common { return r.Common }

// Lost records that the kernel dropped records because the ring buffer
// filled up faster than the consumer could drain it.
type Lost struct {
	Common

	ID      uint64
	NumLost uint64
}

func (r *Lost) Kind() Kind           { return KindLost }
func (r *Lost) CommonFields() Common { return r.Common }

// Comm records a process's command name, either its initial name or a
// new one adopted via exec.
type Comm struct {
	Common

	PID, TID int
	Exec     bool // PERF_RECORD_MISC_COMM_EXEC

	Name string
}

func (r *Comm) Kind() Kind           { return KindComm }
func (r *Comm) CommonFields() Common { return r.Common }

// Exit records a thread or process exiting.
type Exit struct {
	Common

	PID, PPID int
	TID, PTID int
	Time      uint64
}

func (r *Exit) Kind() Kind           { return KindExit }
func (r *Exit) CommonFields() Common { return r.Common }

// Throttle records that interrupt throttling toggled on (Throttle) or
// off (Unthrottle) for the event's counter.
type Throttle struct {
	Common

	Enable   bool
	Time     uint64
	ID       uint64
	StreamID uint64
}

func (r *Throttle) Kind() Kind {
	if r.Enable {
		return KindThrottle
	}
	return KindUnthrottle
}
func (r *Throttle) CommonFields() Common { return r.Common }

// Fork records a process calling clone, either to fork a new process or
// spawn a new thread.
type Fork struct {
	Common

	PID, PPID int
	TID, PTID int
	Time      uint64
}

func (r *Fork) Kind() Kind           { return KindFork }
func (r *Fork) CommonFields() Common { return r.Common }

// Read carries a counter read, as produced when PERF_SAMPLE_READ is
// configured on a record type other than Sample (rare in practice, since
// this core never configures grouped reads).
type Read struct {
	Common

	PID, TID int
	Values   []CounterValue
}

func (r *Read) Kind() Kind           { return KindRead }
func (r *Read) CommonFields() Common { return r.Common }

// CounterValue is one element of a read-format value block.
type CounterValue struct {
	Value       uint64
	TimeEnabled uint64 // if ReadFormatTotalTimeEnabled
	TimeRunning uint64 // if ReadFormatTotalTimeRunning
	ID          uint64 // if ReadFormatID
}

// Aux records that data was appended to the AUX ring (acknowledged by
// spec but the AUX region itself is out of scope: this core decodes the
// notification, not the AUX bytes).
type Aux struct {
	Common

	Offset, Size uint64
	Truncated    bool
	Overwrite    bool
	Partial      bool
	Collision    bool
}

func (r *Aux) Kind() Kind           { return KindAux }
func (r *Aux) CommonFields() Common { return r.Common }

// ItraceStart records that an instruction trace started for a PID/TID.
type ItraceStart struct {
	Common

	PID, TID int
}

func (r *ItraceStart) Kind() Kind           { return KindItraceStart }
func (r *ItraceStart) CommonFields() Common { return r.Common }

// LostSamples records the number of samples the kernel could not write
// (distinct from Lost, which counts dropped non-sample records).
type LostSamples struct {
	Common

	Lost uint64
}

func (r *LostSamples) Kind() Kind           { return KindLostSamples }
func (r *LostSamples) CommonFields() Common { return r.Common }

// Switch records a context switch into or out of the monitored task.
// SwitchCPUWide is the CPU-wide variant, which additionally names the
// task switched to or from.
type Switch struct {
	Common

	CPUWide bool
	Out     bool
	Preempt bool // only meaningful when Out

	// Populated only when CPUWide.
	SwitchPID, SwitchTID int
}

func (r *Switch) Kind() Kind {
	if r.CPUWide {
		return KindSwitchCPUWide
	}
	return KindSwitch
}
func (r *Switch) CommonFields() Common { return r.Common }

// Sample records a profiling sample. Only the fields selected by
// Common.Format (the originating event's SampleType) are populated;
// others are left zero.
type Sample struct {
	Common // Format here describes the Sample's own optional fields

	ID uint64 // if Format&(SampleFormatID|SampleFormatIdentifier)

	CPUMode CPUMode
	ExactIP bool

	IP   uint64 // if Format&SampleFormatIP
	Addr uint64 // if Format&SampleFormatAddr

	Period uint64 // if Format&SampleFormatPeriod

	Values []CounterValue // if Format&SampleFormatRead

	Callchain []uint64 // if Format&SampleFormatCallchain

	Raw []byte // if Format&SampleFormatRaw

	BranchStack []BranchEntry // if Format&SampleFormatBranchStack

	RegsUserABI RegsABI
	RegsUser    []uint64 // if Format&SampleFormatRegsUser

	StackUser        []byte
	StackUserDynSize uint64 // if Format&SampleFormatStackUser

	Weight uint64 // if Format&SampleFormatWeight

	DataSrc DataSrc // if Format&SampleFormatDataSrc

	Transaction Transaction // if Format&SampleFormatTransaction
	AbortCode   uint32

	RegsIntrABI RegsABI
	RegsIntr    []uint64 // if Format&SampleFormatRegsIntr
}

func (r *Sample) Kind() Kind           { return KindSample }
func (r *Sample) CommonFields() Common { return r.Common }

// BranchEntry is one entry of a branch-stack (LBR) sample.
type BranchEntry struct {
	From, To uint64
	Flags    uint64
}

// RegsABI identifies the width of a register dump in a Sample.
type RegsABI uint64

const (
	RegsABINone RegsABI = iota
	RegsABI32
	RegsABI64
)

// Transaction is the PERF_TXN_* bitmask describing the transactional
// memory state of an aborted transaction at sample time.
type Transaction uint32

// DataSrc decodes the PERF_SAMPLE_DATA_SRC bitfield describing the
// memory hierarchy location a sampled load/store accessed.
type DataSrc struct {
	Op     DataSrcOp
	Miss   bool
	Level  DataSrcLevel
	Snoop  DataSrcSnoop
	Locked DataSrcLock
	TLB    DataSrcTLB
}

// DataSrcOp, DataSrcLevel, DataSrcSnoop and DataSrcTLB are bitmasks, not
// sequential enums: the kernel's perf_mem_data_src packs each as a
// shifted bitmask with bit 0 reserved as a "not available" flag, and
// decodeDataSrc reinterprets the remaining bits directly as these
// masks, so the constants must keep the kernel's power-of-two values.
type DataSrcOp int

const (
	DataSrcOpLoad DataSrcOp = 1 << iota
	DataSrcOpStore
	DataSrcOpPrefetch
	DataSrcOpExec

	DataSrcOpNA DataSrcOp = 0
)

type DataSrcLevel int

const (
	DataSrcLevelL1 DataSrcLevel = 1 << iota
	DataSrcLevelLFB
	DataSrcLevelL2
	DataSrcLevelL3
	DataSrcLevelLocalRAM
	DataSrcLevelRemoteRAM1
	DataSrcLevelRemoteRAM2
	DataSrcLevelRemoteCache1
	DataSrcLevelRemoteCache2
	DataSrcLevelIO
	DataSrcLevelUncached

	DataSrcLevelNA DataSrcLevel = 0
)

type DataSrcSnoop int

const (
	DataSrcSnoopNone DataSrcSnoop = 1 << iota
	DataSrcSnoopHit
	DataSrcSnoopMiss
	DataSrcSnoopHitM
	DataSrcSnoopFwd

	DataSrcSnoopNA DataSrcSnoop = 0
)

type DataSrcLock int

const (
	DataSrcLockNA DataSrcLock = iota
	DataSrcLockUnlocked
	DataSrcLockLocked
)

type DataSrcTLB int

const (
	DataSrcTLBHit DataSrcTLB = 1 << iota
	DataSrcTLBMiss
	DataSrcTLBL1
	DataSrcTLBL2
	DataSrcTLBHardwareWalker
	DataSrcTLBOSFaultHandler

	DataSrcTLBNA DataSrcTLB = 0
)
