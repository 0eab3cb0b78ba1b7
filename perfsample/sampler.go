// Package perfsample drives a perf_event sampling session: it opens
// the fd, maps the ring, registers readiness, and runs a worker
// goroutine that decodes records until told to stop.
//
// Grounded on original_source/src/sample/mod.rs's Sampler/SamplerHandle
// split. The original spawns a std::thread running a tokio
// current-thread executor with a futures oneshot for shutdown; this
// core uses the direct Go analogue — a goroutine, a close-once stop
// channel in place of the oneshot, and buffered channels in place of
// the futures mpsc/bounded channels.
package perfsample

import (
	"fmt"
	"sync"

	"github.com/aclements-labs/goperf/perfattr"
	"github.com/aclements-labs/goperf/perffd"
	"github.com/aclements-labs/goperf/perfpoll"
	"github.com/aclements-labs/goperf/perfrecord"
	"github.com/aclements-labs/goperf/perfring"
)

// recordsBuffer is the records channel's capacity. Spec describes this
// channel as conceptually unbounded; a large fixed buffer is the
// practical Go rendition the driver goroutine can write to without
// blocking on an idle or slow consumer for the common case, while
// Join still drains whatever the consumer left unread.
const recordsBuffer = 4096

// pollTimeoutMillis bounds how long Await blocks between checks of the
// stop channel, since perfpoll.Source only watches one fd.
const pollTimeoutMillis = 200

// Sampler describes a sampling session not yet started.
type Sampler struct {
	cfg    perfattr.SamplingConfig
	target perffd.Target
	pages  int
}

// New creates a Sampler for cfg, targeting target, with the given
// ring data-region page count (must be a power of two;
// perfring.DefaultPages if zero).
func New(cfg perfattr.SamplingConfig, target perffd.Target, pages int) *Sampler {
	if pages == 0 {
		pages = perfring.DefaultPages
	}
	return &Sampler{cfg: cfg, target: target, pages: pages}
}

// Start opens the fd, maps the ring, registers readiness, enables the
// counter, and spawns the worker goroutine. Any failure in this
// sequence is returned synchronously; no goroutine is left running.
func (s *Sampler) Start() (*Handle, error) {
	f, err := perffd.Open(s.cfg, s.target)
	if err != nil {
		return nil, err
	}
	rb, err := perfring.Map(f, s.pages)
	if err != nil {
		f.Close()
		return nil, err
	}
	src, err := perfpoll.Open(f.Fd())
	if err != nil {
		rb.Close()
		f.Close()
		return nil, err
	}
	if err := f.Enable(); err != nil {
		src.Close()
		rb.Close()
		f.Close()
		return nil, err
	}

	h := &Handle{
		stop:    make(chan struct{}),
		records: make(chan perfrecord.Record, recordsBuffer),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	w := &worker{
		f:      f,
		rb:     rb,
		src:    src,
		decCfg: decodeConfig(s.cfg),
		handle: h,
	}
	go w.run()

	return h, nil
}

// decodeConfig derives the decoder's field-presence configuration from
// the sampling config's requests, reusing the bit-for-bit identical
// SampleRequest/SampleFormat values so the builder and the decoder can
// never disagree about which fields are present.
func decodeConfig(cfg perfattr.SamplingConfig) perfrecord.DecodeConfig {
	var format perfrecord.SampleFormat
	for _, r := range cfg.Requests {
		format |= perfrecord.SampleFormat(r)
	}
	if cfg.BranchStack != nil {
		// perfattr.Build sets this bit whenever BranchStack is given.
		format |= perfrecord.SampleFormatBranchStack
	}
	return perfrecord.DecodeConfig{
		SampleFormat: format,
		SampleIDAll:  cfg.SampleIDAll,
		RegsUserMask: cfg.RegsUserMask,
		RegsIntrMask: cfg.RegsIntrMask,
	}
}

// worker owns the fd, ring, and readiness source for the lifetime of
// one sampling session; it runs entirely on its own goroutine.
type worker struct {
	f      *perffd.EventFile
	rb     *perfring.RingBuffer
	src    *perfpoll.Source
	decCfg perfrecord.DecodeConfig
	handle *Handle
}

func (w *worker) run() {
	defer close(w.handle.done)
	defer w.cleanup()
	defer w.recoverPanic()

	for {
		select {
		case <-w.handle.stop:
			w.drainRemaining()
			return
		default:
		}

		ok, err := w.src.Await(pollTimeoutMillis)
		if err != nil {
			w.reportError(err)
			return
		}
		if !ok {
			continue
		}

		w.src.BeginDrain()
		if abort := w.drainRemaining(); abort {
			return
		}
		w.src.EndDrain()
	}
}

// drainRemaining reads the ring to empty, decoding and delivering each
// record. It returns true if a corrupt-ring error forced the session
// to abort (spec's "driver aborts the session" response to scenario
// S5).
func (w *worker) drainRemaining() (abort bool) {
	for {
		hdr, payload, ok, err := w.rb.Next()
		if err != nil {
			w.reportError(err)
			return true
		}
		if !ok {
			return false
		}
		rec, err := perfrecord.Decode(hdr, payload, w.decCfg)
		if err != nil {
			w.reportError(err)
			continue
		}
		// Deliver without giving stop a chance while the buffer has room,
		// so a drain after Stop still empties the ring; only a full buffer
		// with stop closed ends the drain early.
		select {
		case w.handle.records <- rec:
			continue
		default:
		}
		select {
		case w.handle.records <- rec:
		case <-w.handle.stop:
			return false
		}
	}
}

// reportError delivers err on the errors channel with drop-oldest,
// capacity-1 semantics: the last error observed is always what Join
// sees.
func (w *worker) reportError(err error) {
	select {
	case w.handle.errors <- err:
	default:
		select {
		case <-w.handle.errors:
		default:
		}
		select {
		case w.handle.errors <- err:
		default:
		}
	}
}

func (w *worker) cleanup() {
	close(w.handle.records)
	w.src.Close()
	w.rb.Close()
	w.f.Close()
}

func (w *worker) recoverPanic() {
	if r := recover(); r != nil {
		w.reportError(&WorkerPanicError{Value: r})
	}
}

// Handle is the caller-facing join/stop object for a running sampling
// session.
type Handle struct {
	stop     chan struct{}
	stopOnce sync.Once
	records  chan perfrecord.Record
	errors   chan error
	done     chan struct{}
}

// Stop requests the worker exit. It never blocks and is safe to call
// more than once or concurrently with Join.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Records returns the channel the worker delivers decoded records on,
// for callers that want to consume them as they arrive rather than
// waiting for Join.
func (h *Handle) Records() <-chan perfrecord.Record {
	return h.records
}

// Join requests a stop, blocks until the worker exits, and returns
// whatever records remain unread on the records channel plus the last
// reported error, if any.
func (h *Handle) Join() ([]perfrecord.Record, error) {
	h.Stop()
	<-h.done

	var recs []perfrecord.Record
	for r := range h.records {
		recs = append(recs, r)
	}

	var err error
	select {
	case err = <-h.errors:
	default:
	}
	return recs, err
}

// WorkerPanicError reports a panic recovered from the worker
// goroutine; it is fatal to the session.
type WorkerPanicError struct {
	Value interface{}
}

func (e *WorkerPanicError) Error() string {
	return fmt.Sprintf("perfsample: worker panicked: %v", e.Value)
}
