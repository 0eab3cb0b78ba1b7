package perfsample

import (
	"errors"
	"testing"

	"github.com/aclements-labs/goperf/perfrecord"
)

// fakeSession drives a Handle the way worker.run would, without
// needing a real perf_event fd, so the channel/drain semantics that
// don't depend on the kernel can be exercised directly.
func fakeSession(recs []perfrecord.Record, reportedErr error) *Handle {
	h := &Handle{
		stop:    make(chan struct{}),
		records: make(chan perfrecord.Record, recordsBuffer),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer close(h.records)
		for _, r := range recs {
			select {
			case h.records <- r:
			case <-h.stop:
				return
			}
		}
		if reportedErr != nil {
			h.errors <- reportedErr
		}
		<-h.stop
	}()
	return h
}

// TestJoinReturnsDeliveredRecords exercises testable property 9's
// complement: records delivered before Stop are all returned in order.
func TestJoinReturnsDeliveredRecords(t *testing.T) {
	want := []perfrecord.Record{
		&perfrecord.Comm{Name: "a"},
		&perfrecord.Comm{Name: "b"},
	}
	h := fakeSession(want, nil)
	got, err := h.Join()
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].(*perfrecord.Comm).Name != "a" || got[1].(*perfrecord.Comm).Name != "b" {
		t.Errorf("got %+v", got)
	}
}

// TestJoinEmptySession exercises testable property 9: stopping before
// any record arrives yields an empty slice and no error.
func TestJoinEmptySession(t *testing.T) {
	h := fakeSession(nil, nil)
	got, err := h.Join()
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v, want empty/nil", got, err)
	}
}

// TestJoinSurfacesLastError exercises scenario S5: a decode error
// aborts the session and Join returns it.
func TestJoinSurfacesLastError(t *testing.T) {
	wantErr := errors.New("corrupt ring")
	h := fakeSession(nil, wantErr)
	_, err := h.Join()
	if err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

// TestStopIsIdempotent confirms calling Stop multiple times never
// panics (close-once semantics).
func TestStopIsIdempotent(t *testing.T) {
	h := fakeSession(nil, nil)
	h.Stop()
	h.Stop()
	h.Join()
}

func TestWorkerPanicErrorMessage(t *testing.T) {
	e := &WorkerPanicError{Value: "boom"}
	if e.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
