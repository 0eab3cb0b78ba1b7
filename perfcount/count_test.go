package perfcount

import (
	"testing"

	"github.com/aclements-labs/goperf/perfattr"
	"github.com/aclements-labs/goperf/perfevent"
)

// TestOpenSetsCountingAttrFields checks the attribute Open builds
// without issuing the syscall: it repeats Open's Build call and its
// type/config override for a hardware event, then confirms the
// override replaced the dummy software type/config and that the
// attribute carries no sampling fields.
func TestOpenSetsCountingAttrFields(t *testing.T) {
	attr, err := perfattr.Build(perfattr.SamplingConfig{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g := perfevent.EventHardwareCacheMisses.Generic()
	attr.Type = uint32(g.Type)
	attr.Config = g.ID

	if attr.Type != uint32(perfevent.EventTypeHardware) {
		t.Errorf("Type = %d, want EventTypeHardware", attr.Type)
	}
	if attr.Config != uint64(perfevent.EventHardwareCacheMisses) {
		t.Errorf("Config = %d, want %d", attr.Config, perfevent.EventHardwareCacheMisses)
	}
	if attr.Sample_type != 0 {
		t.Errorf("Sample_type = %#x, want 0 (counting path requests no sample fields)", attr.Sample_type)
	}
}

func TestCountersReadEmptyBatch(t *testing.T) {
	cs := &Counters{byEvent: map[perfevent.Event]*Counter{}}
	got, err := cs.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d entries, want 0", len(got))
	}
}
