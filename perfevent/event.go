// Package perfevent enumerates the kernel's performance event kinds
// and their numeric encoding, for use by the counting collaborator
// (perfcount). It is a straightforward translation of the kernel's
// constants, out of scope for the sampling engine itself.
package perfevent

// Event describes a specific performance monitoring event: a hardware
// event such as cycles or cache misses, a kernel software event such
// as page faults, a tracepoint, or a handful of other kinds.
type Event interface {
	Generic() EventGeneric
}

// EventType is a general class of performance event, matching
// perf_type_id from include/uapi/linux/perf_event.h.
type EventType uint32

const (
	EventTypeHardware EventType = iota
	EventTypeSoftware
	EventTypeTracepoint
	EventTypeHWCache
	EventTypeRaw
	EventTypeBreakpoint
)

// EventGeneric is a generic representation of a performance event; any
// specific Event can be translated to and from it.
type EventGeneric struct {
	Type   EventType
	ID     uint64
	Config []uint64
}

// Decode translates a generic event into its specific type.
func (g EventGeneric) Decode() Event {
	switch g.Type {
	case EventTypeHardware:
		return EventHardware(g.ID)
	case EventTypeSoftware:
		return EventSoftware(g.ID)
	case EventTypeTracepoint:
		return EventTracepoint(g.ID)
	case EventTypeHWCache:
		return EventHWCache{
			Level:  HWCache(g.ID),
			Op:     HWCacheOp(g.ID >> 8),
			Result: HWCacheResult(g.ID >> 16),
		}
	case EventTypeRaw:
		return EventRaw(g.ID)
	case EventTypeBreakpoint:
		return EventBreakpoint{
			Op:   BreakpointOp(g.ID),
			Addr: g.Config[0],
			Len:  g.Config[1],
		}
	}
	return eventUnknown{g}
}

type eventUnknown struct{ g EventGeneric }

func (e eventUnknown) Generic() EventGeneric { return e.g }

// EventHardware represents a hardware event, matching perf_hw_id.
type EventHardware uint64

const (
	EventHardwareCPUCycles EventHardware = iota
	EventHardwareInstructions
	EventHardwareCacheReferences
	EventHardwareCacheMisses
	EventHardwareBranchInstructions
	EventHardwareBranchMisses
	EventHardwareBusCycles
	EventHardwareStalledCyclesFrontend
	EventHardwareStalledCyclesBackend
	EventHardwareRefCPUCycles
)

func (e EventHardware) Generic() EventGeneric {
	return EventGeneric{Type: EventTypeHardware, ID: uint64(e)}
}

// EventSoftware represents a software event, matching perf_sw_ids.
// EventSoftwareDummy is the never-firing counter perfattr anchors
// every sampling session on.
type EventSoftware uint64

const (
	EventSoftwareCPUClock EventSoftware = iota
	EventSoftwareTaskClock
	EventSoftwarePageFaults
	EventSoftwareContextSwitches
	EventSoftwareCPUMigrations
	EventSoftwarePageFaultsMin
	EventSoftwarePageFaultsMaj
	EventSoftwareAlignmentFaults
	EventSoftwareEmulationFaults
	EventSoftwareDummy
	EventSoftwareBpfOutput
)

func (e EventSoftware) Generic() EventGeneric {
	return EventGeneric{Type: EventTypeSoftware, ID: uint64(e)}
}

// EventTracepoint represents a kernel tracepoint event; its ID is
// given by the tracing/events/*/*/id files under debugfs.
type EventTracepoint uint64

func (e EventTracepoint) Generic() EventGeneric {
	return EventGeneric{Type: EventTypeTracepoint, ID: uint64(e)}
}

// EventHWCache represents a hardware cache event.
type EventHWCache struct {
	Level  HWCache
	Op     HWCacheOp
	Result HWCacheResult
}

func (e EventHWCache) Generic() EventGeneric {
	id := uint64(e.Level) | uint64(e.Op)<<8 | uint64(e.Result)<<16
	return EventGeneric{Type: EventTypeHWCache, ID: id}
}

// HWCache is a level in the hardware cache hierarchy, matching
// perf_hw_cache_id.
type HWCache uint8

const (
	HWCacheL1D HWCache = iota
	HWCacheL1I
	HWCacheLL
	HWCacheDTLB
	HWCacheITLB
	HWCacheBPU
	HWCacheNode
)

// HWCacheOp is a type of access to a hardware cache, matching
// perf_hw_cache_op_id.
type HWCacheOp uint8

const (
	HWCacheOpRead HWCacheOp = iota
	HWCacheOpWrite
	HWCacheOpPrefetch
)

// HWCacheResult is the result of accessing a hardware cache, matching
// perf_hw_cache_op_result_id.
type HWCacheResult uint8

const (
	HWCacheResultAccess HWCacheResult = iota
	HWCacheResultMiss
)

// EventRaw represents a "raw" hardware PMU event in a CPU-specific
// format.
type EventRaw uint64

func (e EventRaw) Generic() EventGeneric {
	return EventGeneric{Type: EventTypeRaw, ID: uint64(e)}
}

// EventBreakpoint represents a breakpoint event triggered by a
// specific type of access to an address in memory.
type EventBreakpoint struct {
	Op   BreakpointOp
	Addr uint64
	Len  uint64
}

func (e EventBreakpoint) Generic() EventGeneric {
	return EventGeneric{Type: EventTypeBreakpoint, ID: uint64(e.Op), Config: []uint64{e.Addr, e.Len}}
}

// BreakpointOp is a type of memory access that can trigger a
// breakpoint event, matching the HW_BREAKPOINT_* constants.
type BreakpointOp uint32

const (
	BreakpointOpR  BreakpointOp = 1
	BreakpointOpW  BreakpointOp = 2
	BreakpointOpRW              = BreakpointOpR | BreakpointOpW
	BreakpointOpX  BreakpointOp = 4
)
