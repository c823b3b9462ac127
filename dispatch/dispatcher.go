// Package dispatch runs packet blobs through split, reorder and decode on a bounded
// pool of workers and hands the results to a sink.
package dispatch

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/decoder"
	"github.com/greendrake/ntrview/frame"
	"github.com/greendrake/ntrview/packet"
	"github.com/greendrake/ntrview/util"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// Sink receives successfully decoded frames. framebuffer.Buffer is one.
type Sink interface {
	Replace(f *frame.Frame) bool
}

type Result struct {
	Frame    *frame.Frame
	Accepted bool // false when the sink already held a later submission
	Err      error
}

var ErrDropped = errors.New("Dropped for a later submission while waiting for a worker")

type Stats struct {
	Submitted uint64 `json:"submitted"`
	Decoded   uint64 `json:"decoded"`
	Accepted  uint64 `json:"accepted"`
	Malformed uint64 `json:"malformed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Backlog   int    `json:"backlog"`
	Workers   int    `json:"workers"`
}

type job struct {
	ctx    context.Context
	ticket uint64
	blob   []byte
	result chan Result
}

type Dispatcher struct {
	decoder decoder.Decoder
	sink    Sink
	seq     *frame.Sequencer
	sem     *semaphore.Weighted
	workers int

	// Submissions waiting for a worker. At most depth of them; the oldest goes first.
	mu       sync.Mutex
	backlog  []*job
	depth    int
	drainers int

	submitted atomic.Uint64
	decoded   atomic.Uint64
	accepted  atomic.Uint64
	malformed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a dispatcher. workers <= 0 means one per CPU.
// seq may be shared with other producers feeding the same sink; nil gets a private one.
func New(dec decoder.Decoder, sink Sink, workers int, seq *frame.Sequencer) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if seq == nil {
		seq = &frame.Sequencer{}
	}
	return &Dispatcher{
		decoder: dec,
		sink:    sink,
		seq:     seq,
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		depth:   workers,
	}
}

// SetQueueDepth bounds how many submissions may wait for a worker. Defaults to the worker count.
func (d *Dispatcher) SetQueueDepth(depth int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depth = max(depth, 1)
}

// Dispatch decodes one blob and blocks until done. ctx bounds only the wait for a free
// worker; a decode that has started always runs to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, blob []byte) (*frame.Frame, error) {
	d.submitted.Add(1)
	r := d.run(ctx, d.seq.Next(), blob)
	return r.Frame, r.Err
}

// Submit is the asynchronous Dispatch. The ticket is taken at submission time, so a
// frame submitted later wins even if its decode finishes first.
//
// Submissions queue up for at most workers goroutines. When the backlog is full the
// oldest waiting one is dropped with ErrDropped: it would lose to the newer one anyway.
func (d *Dispatcher) Submit(ctx context.Context, blob []byte) <-chan Result {
	d.submitted.Add(1)
	j := &job{ctx: ctx, ticket: d.seq.Next(), blob: blob, result: make(chan Result, 1)}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.backlog) >= d.depth {
		old := d.backlog[0]
		d.backlog = d.backlog[1:]
		d.dropped.Add(1)
		glog.V(2).Infof("Dispatch %d: dropped for %d", old.ticket, j.ticket)
		old.result <- Result{Err: ErrDropped}
	}
	d.backlog = append(d.backlog, j)
	if d.drainers < d.workers {
		d.drainers++
		go d.drain()
	}
	return j.result
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.backlog) == 0 {
			d.drainers--
			d.mu.Unlock()
			return
		}
		j := d.backlog[0]
		d.backlog = d.backlog[1:]
		d.mu.Unlock()
		j.result <- d.run(j.ctx, j.ticket, j.blob)
	}
}

func (d *Dispatcher) run(ctx context.Context, ticket uint64, blob []byte) Result {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Result{Err: err}
	}
	defer d.sem.Release(1)

	batch, err := packet.Split(blob)
	if err != nil {
		d.malformed.Add(1)
		return Result{Err: err}
	}
	f, err := d.decoder.Decode(packet.Reorder(batch))
	if err == nil && f.IsEmpty() {
		err = &util.DecodeError{Msg: "Decoder returned no image"}
	}
	if err != nil {
		d.failed.Add(1)
		var decodeErr *util.DecodeError
		if !errors.As(err, &decodeErr) {
			err = &util.DecodeError{Msg: "Failed to process packets", Err: err}
		}
		glog.V(2).Infof("Dispatch %d: %v", ticket, err)
		return Result{Err: pkgerrors.Wrapf(err, "dispatch %d (%d packets)", ticket, len(batch))}
	}
	d.decoded.Add(1)
	f.Seq = ticket
	accepted := d.sink.Replace(f)
	if accepted {
		d.accepted.Add(1)
	}
	return Result{Frame: f, Accepted: accepted}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	backlog := len(d.backlog)
	d.mu.Unlock()
	return Stats{
		Submitted: d.submitted.Load(),
		Decoded:   d.decoded.Load(),
		Accepted:  d.accepted.Load(),
		Malformed: d.malformed.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Backlog:   backlog,
		Workers:   d.workers,
	}
}
