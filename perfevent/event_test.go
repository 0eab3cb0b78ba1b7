package perfevent

import "testing"

func TestEventHardwareRoundTrip(t *testing.T) {
	e := EventHardwareCacheMisses
	g := e.Generic()
	if g.Type != EventTypeHardware || g.ID != uint64(e) {
		t.Fatalf("got %+v", g)
	}
	back, ok := g.Decode().(EventHardware)
	if !ok || back != e {
		t.Fatalf("Decode() = %#v, want %v", g.Decode(), e)
	}
}

func TestEventHWCacheRoundTrip(t *testing.T) {
	e := EventHWCache{Level: HWCacheL1D, Op: HWCacheOpWrite, Result: HWCacheResultMiss}
	g := e.Generic()
	back, ok := g.Decode().(EventHWCache)
	if !ok || back != e {
		t.Fatalf("got %+v, want %+v", back, e)
	}
}

func TestEventBreakpointRoundTrip(t *testing.T) {
	e := EventBreakpoint{Op: BreakpointOpRW, Addr: 0x1000, Len: 8}
	g := e.Generic()
	back, ok := g.Decode().(EventBreakpoint)
	if !ok || back != e {
		t.Fatalf("got %+v, want %+v", back, e)
	}
}

func TestEventUnknownType(t *testing.T) {
	g := EventGeneric{Type: EventType(99), ID: 1}
	if _, ok := g.Decode().(eventUnknown); !ok {
		t.Fatalf("got %T, want eventUnknown", g.Decode())
	}
}
