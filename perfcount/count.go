// Package perfcount implements the counting collaborator named in
// §6: given an event selector, open an fd via the same attribute
// builder the sampling engine uses (with a hardware/software/cache
// type instead of the sampling engine's dummy type, and no sampling
// fields), enable it, and read an 8-byte accumulator value from it on
// demand.
package perfcount

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/aclements-labs/goperf/perfattr"
	"github.com/aclements-labs/goperf/perffd"
	"github.com/aclements-labs/goperf/perfevent"
)

// Counter is a single open counting fd.
type Counter struct {
	event perfevent.Event
	f     *perffd.EventFile
}

// Open builds a counting (non-sampling) attribute for event, opens and
// enables it against target.
func Open(event perfevent.Event, target perffd.Target) (*Counter, error) {
	attr, err := perfattr.Build(perfattr.SamplingConfig{})
	if err != nil {
		return nil, err
	}
	g := event.Generic()
	attr.Type = uint32(g.Type)
	attr.Config = g.ID
	if g.Type == perfevent.EventTypeBreakpoint {
		attr.Bp_type = uint32(g.ID)
		if len(g.Config) == 2 {
			attr.Ext1, attr.Ext2 = g.Config[0], g.Config[1]
		}
	}

	f, err := perffd.OpenRaw(attr, target)
	if err != nil {
		return nil, err
	}
	if err := f.Enable(); err != nil {
		f.Close()
		return nil, err
	}
	return &Counter{event: event, f: f}, nil
}

// Read returns the counter's current accumulated value.
func (c *Counter) Read() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(c.f.Fd(), buf[:])
	if err != nil {
		return 0, &ReadError{Errno: err}
	}
	if n != 8 {
		return 0, &ReadError{Errno: fmt.Errorf("short read: got %d bytes, want 8", n)}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Close releases the counter's fd.
func (c *Counter) Close() error {
	return c.f.Close()
}

// Counters is a batch of counters started together, keyed by the
// event each one counts.
type Counters struct {
	byEvent map[perfevent.Event]*Counter
}

// StartAll opens and enables one Counter per event in events, all
// against the same target. On any failure it closes whatever counters
// it already opened before returning the error.
func StartAll(events []perfevent.Event, target perffd.Target) (*Counters, error) {
	cs := &Counters{byEvent: make(map[perfevent.Event]*Counter, len(events))}
	for _, e := range events {
		c, err := Open(e, target)
		if err != nil {
			cs.Close()
			return nil, err
		}
		cs.byEvent[e] = c
	}
	return cs, nil
}

// Read returns the current value of every counter in the batch, keyed
// by event.
func (cs *Counters) Read() (map[perfevent.Event]uint64, error) {
	out := make(map[perfevent.Event]uint64, len(cs.byEvent))
	for e, c := range cs.byEvent {
		v, err := c.Read()
		if err != nil {
			return nil, err
		}
		out[e] = v
	}
	return out, nil
}

// Close closes every counter in the batch.
func (cs *Counters) Close() error {
	var first error
	for _, c := range cs.byEvent {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadError reports a failed read(2) on a counter fd.
type ReadError struct {
	Errno error
}

func (e *ReadError) Error() string { return fmt.Sprintf("perfcount: read: %v", e.Errno) }
func (e *ReadError) Unwrap() error  { return e.Errno }
