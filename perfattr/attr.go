// Package perfattr builds the kernel's perf_event_attr struct from a
// SamplingConfig, matching the byte layout perf_event_open(2) expects.
package perfattr

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aclements-labs/goperf/perfrecord"
)

// perfTypeSoftware and swDummy are the event type/config pair this core
// always uses: a sampling session anchors its metadata on a
// never-firing software counter, per the sampling-only scope of this
// library. Grounded on original_source/src/events.rs's SwEvent::Dummy
// and perf_sw_ids.PERF_COUNT_SW_DUMMY.
const (
	perfTypeSoftware uint32 = 1
	swDummy          uint64 = 9
)

// Rate selects either a fixed sampling period or a target frequency.
// The kernel exposes these as a union (sample_period | sample_freq);
// Rate keeps the two variants distinct so callers can never see or set
// both at once.
type Rate interface {
	applyRate(a *RawAttr) error
}

// Period requests a sample every n occurrences of the underlying event.
type Period uint64

func (p Period) applyRate(a *RawAttr) error {
	a.Sample = uint64(p)
	return nil
}

// Frequency requests the kernel dynamically adjust the sampling period
// to target roughly hz samples per second.
type Frequency uint64

func (f Frequency) applyRate(a *RawAttr) error {
	if f == 0 {
		return &InvalidConfigError{"Frequency rate must be non-zero"}
	}
	a.Sample = uint64(f)
	a.Bits |= flagFreq
	return nil
}

// Wakeup selects the threshold at which the kernel marks the event fd
// readable. Like Rate, this models a kernel union
// (wakeup_events | wakeup_watermark).
type Wakeup interface {
	applyWakeup(a *RawAttr) error
}

// NumSamples wakes the reader after n samples have been written.
type NumSamples uint32

func (n NumSamples) applyWakeup(a *RawAttr) error {
	a.Wakeup = uint32(n)
	return nil
}

// WatermarkBytes wakes the reader once at least n bytes are pending in
// the ring buffer's data region.
type WatermarkBytes uint32

func (w WatermarkBytes) applyWakeup(a *RawAttr) error {
	if w == 0 {
		return &InvalidConfigError{"WatermarkBytes must be non-zero"}
	}
	a.Wakeup = uint32(w)
	a.Bits |= flagWatermark
	return nil
}

// BranchStackConfig selects which branches to capture when
// SampleFormatBranchStack is requested.
type BranchStackConfig struct {
	Priv BranchSamplePriv
	Type BranchSampleType
}

// BranchSamplePriv selects which privilege levels' branches to record.
type BranchSamplePriv uint64

const (
	BranchSampleUser BranchSamplePriv = 1 << iota
	BranchSampleKernel
	BranchSampleHV
)

// BranchSampleType selects which kinds of branches to record. Its bits
// start above BranchSamplePriv's three, since Build ORs both into the
// one kernel branch_sample_type mask.
type BranchSampleType uint64

const (
	BranchSampleAny BranchSampleType = 1 << (iota + 3)
	BranchSampleAnyCall
	BranchSampleAnyReturn
	BranchSampleIndCall
	BranchSampleAbortTx
	BranchSampleInTx
	BranchSampleNoTx
	BranchSampleCond
)

// Exclusions selects which execution contexts an event counts or
// samples in.
type Exclusions struct {
	User, Kernel, Hypervisor, Idle bool
	Host, Guest                    bool
	CallchainKernel, CallchainUser bool
}

// SamplingConfig describes what the kernel should sample, independent
// of any particular fd, pid, or cpu. It is translated to a RawAttr by
// Build.
type SamplingConfig struct {
	Rate     Rate
	Requests []SampleRequest

	Wakeup Wakeup

	// SampleIDAll attaches the configured identity tuple to every
	// non-Sample record in addition to Sample records.
	SampleIDAll bool

	BranchStack *BranchStackConfig

	// ClockID selects the clock used for sample timestamps (see
	// clock_gettime(2)). Nil means the kernel default.
	ClockID *int32

	AuxWatermark uint32

	Exclude Exclusions

	Inherit     bool
	InheritStat bool

	// RegsUserMask/RegsIntrMask select which registers RequestRegsUser/
	// RequestRegsIntr capture; the number of registers in each dump is
	// popcount(mask), so the decoder must see the same mask the
	// builder wrote.
	RegsUserMask uint64
	RegsIntrMask uint64
}

// SampleRequest selects one optional field of a Sample record; the bit
// it sets in RawAttr.Sample_type is shared verbatim with the record
// decoder's SampleFormat, so builder and decoder can never disagree
// about field layout.
type SampleRequest perfrecord.SampleFormat

const (
	RequestIP          = SampleRequest(perfrecord.SampleFormatIP)
	RequestTID         = SampleRequest(perfrecord.SampleFormatTID)
	RequestTime        = SampleRequest(perfrecord.SampleFormatTime)
	RequestAddr        = SampleRequest(perfrecord.SampleFormatAddr)
	RequestRead        = SampleRequest(perfrecord.SampleFormatRead)
	RequestCallchain   = SampleRequest(perfrecord.SampleFormatCallchain)
	RequestID          = SampleRequest(perfrecord.SampleFormatID)
	RequestCPU         = SampleRequest(perfrecord.SampleFormatCPU)
	RequestPeriod      = SampleRequest(perfrecord.SampleFormatPeriod)
	RequestStreamID    = SampleRequest(perfrecord.SampleFormatStreamID)
	RequestRaw         = SampleRequest(perfrecord.SampleFormatRaw)
	RequestBranchStack = SampleRequest(perfrecord.SampleFormatBranchStack)
	RequestRegsUser    = SampleRequest(perfrecord.SampleFormatRegsUser)
	RequestStackUser   = SampleRequest(perfrecord.SampleFormatStackUser)
	RequestWeight      = SampleRequest(perfrecord.SampleFormatWeight)
	RequestDataSrc     = SampleRequest(perfrecord.SampleFormatDataSrc)
	RequestTransaction = SampleRequest(perfrecord.SampleFormatTransaction)
	RequestRegsIntr    = SampleRequest(perfrecord.SampleFormatRegsIntr)
	RequestIdentifier  = SampleRequest(perfrecord.SampleFormatIdentifier)
)

// InvalidConfigError reports a SamplingConfig the builder can reject
// statically, without needing the kernel to tell it no.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("perfattr: invalid config: %s", e.Reason)
}

// Attribute flag bits (the kernel's perf_event_attr bit-field, exposed
// by unix.PerfEventAttr as the opaque Bits uint64). Only the subset
// this core sets are named here; unix doesn't export these as
// constants, so they're named the same way nathanjsweet-ebpf/syscalls.go
// names its equivalent bit-field.
const (
	flagDisabled      uint64 = 1 << 0
	flagInherit       uint64 = 1 << 1
	flagFreq          uint64 = 1 << 10
	flagInheritStat   uint64 = 1 << 11
	flagWatermark     uint64 = 1 << 14
	flagSampleIDAll   uint64 = 1 << 18
	flagExcludeHost   uint64 = 1 << 19
	flagExcludeGuest  uint64 = 1 << 20
	flagExclCCKernel  uint64 = 1 << 21
	flagExclCCUser    uint64 = 1 << 22
	flagUseClockID    uint64 = 1 << 25
	flagExcludeUser   uint64 = 1 << 4
	flagExcludeKernel uint64 = 1 << 5
	flagExcludeHV     uint64 = 1 << 6
	flagExcludeIdle   uint64 = 1 << 7
)

// RawAttr is the kernel's perf_event_attr, as consumed by
// perf_event_open(2). golang.org/x/sys/unix already defines this struct
// with the exact field layout the running kernel expects (arch padding
// included), demonstrated directly by joeycold-ebpf/perf/ring.go
// (var attr linux.PerfEventAttr); hand-rolling a second copy of a
// struct the pack's own dependency already gets right is how the
// branch_sample_type field went missing in an earlier revision of this
// package. RawAttr is an alias rather than a wrapper so every field,
// including ones this core doesn't set (Aux_sample_size, Sig_data),
// stays in sync with whatever unix.PerfEventAttr ships for the build's
// target kernel.
type RawAttr = unix.PerfEventAttr

// Build translates cfg into a zero-initialized, fully populated
// RawAttr. The disabled bit is always set: the caller must arm the
// counter explicitly (via perffd.EventFile.Enable) once mapping and
// readiness registration are in place.
func Build(cfg SamplingConfig) (*RawAttr, error) {
	a := &RawAttr{}
	a.Size = uint32(unsafe.Sizeof(*a))
	a.Type = perfTypeSoftware
	a.Config = swDummy
	a.Bits = flagDisabled

	var sampleType uint64
	for _, r := range cfg.Requests {
		sampleType |= uint64(r)
	}
	a.Sample_type = sampleType

	if cfg.Rate != nil {
		if err := cfg.Rate.applyRate(a); err != nil {
			return nil, err
		}
	}
	if cfg.Wakeup != nil {
		if err := cfg.Wakeup.applyWakeup(a); err != nil {
			return nil, err
		}
	}

	if cfg.SampleIDAll {
		a.Bits |= flagSampleIDAll
	}
	if cfg.Inherit {
		a.Bits |= flagInherit
	}
	if cfg.InheritStat {
		a.Bits |= flagInheritStat
	}
	if cfg.Exclude.User {
		a.Bits |= flagExcludeUser
	}
	if cfg.Exclude.Kernel {
		a.Bits |= flagExcludeKernel
	}
	if cfg.Exclude.Hypervisor {
		a.Bits |= flagExcludeHV
	}
	if cfg.Exclude.Idle {
		a.Bits |= flagExcludeIdle
	}
	if cfg.Exclude.Host {
		a.Bits |= flagExcludeHost
	}
	if cfg.Exclude.Guest {
		a.Bits |= flagExcludeGuest
	}
	if cfg.Exclude.CallchainKernel {
		a.Bits |= flagExclCCKernel
	}
	if cfg.Exclude.CallchainUser {
		a.Bits |= flagExclCCUser
	}
	if cfg.ClockID != nil {
		a.Bits |= flagUseClockID
		a.Clockid = *cfg.ClockID
	}
	if cfg.BranchStack != nil {
		a.Sample_type |= uint64(perfrecord.SampleFormatBranchStack)
		if cfg.BranchStack.Type == 0 {
			return nil, &InvalidConfigError{"BranchStackConfig.Type must select at least one branch type"}
		}
		a.Branch_sample_type = uint64(cfg.BranchStack.Priv) | uint64(cfg.BranchStack.Type)
	}
	a.Aux_watermark = cfg.AuxWatermark
	a.Sample_regs_user = cfg.RegsUserMask
	a.Sample_regs_intr = cfg.RegsIntrMask

	return a, nil
}
