package perfattr

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aclements-labs/goperf/perfrecord"
)

// TestBuildRoundTrip exercises testable property 5: every field set on
// a SamplingConfig must be recoverable from the built RawAttr.
func TestBuildRoundTrip(t *testing.T) {
	cfg := SamplingConfig{
		Rate:        Frequency(99),
		Requests:    []SampleRequest{RequestIP, RequestTID, RequestTime},
		Wakeup:      WatermarkBytes(4096),
		SampleIDAll: true,
		Exclude:     Exclusions{Kernel: true},
	}
	a, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Bits&flagDisabled == 0 {
		t.Error("expected disabled bit always set")
	}
	if a.Bits&flagFreq == 0 {
		t.Error("expected freq bit set for Frequency rate")
	}
	if a.Sample != 99 {
		t.Errorf("Sample = %d, want 99", a.Sample)
	}
	if a.Bits&flagWatermark == 0 {
		t.Error("expected watermark bit set for WatermarkBytes wakeup")
	}
	if a.Wakeup != 4096 {
		t.Errorf("Wakeup = %d, want 4096", a.Wakeup)
	}
	want := uint64(perfrecord.SampleFormatIP | perfrecord.SampleFormatTID | perfrecord.SampleFormatTime)
	if a.Sample_type != want {
		t.Errorf("Sample_type = %#x, want %#x", a.Sample_type, want)
	}
	if a.Bits&flagSampleIDAll == 0 {
		t.Error("expected sample_id_all bit set")
	}
	if a.Bits&flagExcludeKernel == 0 {
		t.Error("expected exclude_kernel bit set")
	}
	if a.Size != uint32(unsafe.Sizeof(unix.PerfEventAttr{})) {
		t.Errorf("Size = %d, want %d", a.Size, unsafe.Sizeof(unix.PerfEventAttr{}))
	}
}

// TestBuildZeroFrequencyRejected exercises the first static validation
// check named by spec: a zero Frequency is rejected before any syscall.
func TestBuildZeroFrequencyRejected(t *testing.T) {
	_, err := Build(SamplingConfig{Rate: Frequency(0)})
	if _, ok := err.(*InvalidConfigError); !ok {
		t.Fatalf("got %v, want *InvalidConfigError", err)
	}
}

// TestBuildZeroWatermarkRejected exercises the second static validation
// check: a zero WatermarkBytes is rejected before any syscall.
func TestBuildZeroWatermarkRejected(t *testing.T) {
	_, err := Build(SamplingConfig{Wakeup: WatermarkBytes(0)})
	if _, ok := err.(*InvalidConfigError); !ok {
		t.Fatalf("got %v, want *InvalidConfigError", err)
	}
}

// TestBuildPeriodRate confirms a Period rate does not set the freq bit.
func TestBuildPeriodRate(t *testing.T) {
	a, err := Build(SamplingConfig{Rate: Period(1000)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Bits&flagFreq != 0 {
		t.Error("did not expect freq bit set for Period rate")
	}
	if a.Sample != 1000 {
		t.Errorf("Sample = %d, want 1000", a.Sample)
	}
}

// TestBuildBranchStack exercises testable property 5 for
// BranchStackConfig: Priv and Type must both land in Branch_sample_type,
// the kernel field between Bp_len (Ext2) and Sample_regs_user.
func TestBuildBranchStack(t *testing.T) {
	a, err := Build(SamplingConfig{
		BranchStack: &BranchStackConfig{
			Priv: BranchSampleUser,
			Type: BranchSampleAny | BranchSampleCond,
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := uint64(BranchSampleUser) | uint64(BranchSampleAny) | uint64(BranchSampleCond)
	if a.Branch_sample_type != want {
		t.Errorf("Branch_sample_type = %#x, want %#x", a.Branch_sample_type, want)
	}
	if a.Sample_type&uint64(perfrecord.SampleFormatBranchStack) == 0 {
		t.Error("expected SampleFormatBranchStack bit set in Sample_type")
	}
}

// TestBuildDefaultsToSoftwareDummy exercises scenario S1's event
// identity: every SamplingConfig anchors on the same software dummy
// event regardless of sample requests.
func TestBuildDefaultsToSoftwareDummy(t *testing.T) {
	a, err := Build(SamplingConfig{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Type != perfTypeSoftware || a.Config != swDummy {
		t.Errorf("Type/Config = %d/%d, want %d/%d", a.Type, a.Config, perfTypeSoftware, swDummy)
	}
}
