// Package render keeps a display surface painted with the latest frame of a buffer.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/frame"
	"github.com/greendrake/ntrview/util"
	"golang.org/x/image/draw"
)

const (
	DefaultInterval    = 8 * time.Millisecond
	DefaultStopTimeout = 500 * time.Millisecond

	progressEvery = 60
)

// Surface is a drawable target. Lock hands out exclusive drawing access and may fail
// transiently; UnlockAndPost releases it and publishes what was drawn.
type Surface interface {
	Lock() (draw.Image, error)
	UnlockAndPost(canvas draw.Image) error
}

// Source is what the loop paints from. framebuffer.Buffer is one.
type Source interface {
	View(fn func(f *frame.Frame)) bool
}

type State int32

const (
	Stopped State = iota
	Running
	StopRequested
)

var stateNames = map[State]string{
	Stopped:       "Stopped",
	Running:       "Running",
	StopRequested: "StopRequested",
}

func (s State) String() string {
	return stateNames[s]
}

type Options struct {
	Name         string
	Interval     time.Duration
	StopTimeout  time.Duration
	Orientation  Orientation
	ClearColor   color.Color
	Interpolator draw.Interpolator
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.Orientation == nil {
		o.Orientation = Rotate270{}
	}
	if o.ClearColor == nil {
		o.ClearColor = color.Black
	}
	if o.Interpolator == nil {
		o.Interpolator = draw.ApproxBiLinear
	}
}

// Session owns the paint loop for one surface lifetime.
type Session struct {
	opts    Options
	surface Surface
	source  Source

	state      atomic.Int32
	iterations atomic.Uint64
	skipped    atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(surface Surface, source Source, opts Options) *Session {
	opts.setDefaults()
	return &Session{
		opts:    opts,
		surface: surface,
		source:  source,
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

type Stats struct {
	Iterations uint64 `json:"iterations"`
	Skipped    uint64 `json:"skipped"`
}

func (s *Session) Iterations() uint64 {
	return s.iterations.Load()
}

func (s *Session) Skipped() uint64 {
	return s.skipped.Load()
}

func (s *Session) Stats() Stats {
	return Stats{Iterations: s.Iterations(), Skipped: s.Skipped()}
}

// Start launches the loop. Starting a session that is not Stopped is an error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return fmt.Errorf("%v: render session is %v", s.opts.Name, s.State())
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop asks the loop to finish its current cycle and waits up to StopTimeout.
// On timeout the wait is abandoned and a *util.ShutdownTimeoutWarning is returned
// after being logged; the loop will still exit on its own eventually.
func (s *Session) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	s.state.CompareAndSwap(int32(Running), int32(StopRequested))
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(s.opts.StopTimeout):
		warn := &util.ShutdownTimeoutWarning{Timeout: s.opts.StopTimeout}
		glog.Warningf("%v: %v", s.opts.Name, warn)
		return warn
	}
}

func (s *Session) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.state.Store(int32(Stopped))
		glog.Infof("%v: draw loop exiting after %d iterations", s.opts.Name, s.iterations.Load())
		close(done)
	}()
	glog.Infof("%v: draw loop started", s.opts.Name)
	for s.State() == Running {
		if err := s.iterate(); err != nil {
			s.skipped.Add(1)
			glog.Errorf("%v: %v", s.opts.Name, err)
		}
		n := s.iterations.Add(1)
		if n%progressEvery == 0 {
			glog.V(2).Infof("%v: drawn %d frames so far", s.opts.Name, n)
		}
		if !util.SleepCtx(ctx, s.opts.Interval) {
			return
		}
	}
}

// One cycle: lock, paint, post. Any failure, panics included, becomes a
// *util.TransientPaintError for the caller to log.
func (s *Session) iterate() (err error) {
	iteration := s.iterations.Load()
	defer func() {
		if r := recover(); r != nil {
			err = &util.TransientPaintError{Iteration: iteration, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	canvas, err := s.surface.Lock()
	if err != nil {
		return &util.TransientPaintError{Iteration: iteration, Err: err}
	}
	if canvas == nil {
		return &util.TransientPaintError{Iteration: iteration, Err: fmt.Errorf("surface returned no canvas")}
	}
	defer func() {
		if postErr := s.surface.UnlockAndPost(canvas); postErr != nil && err == nil {
			err = &util.TransientPaintError{Iteration: iteration, Err: fmt.Errorf("unlock: %w", postErr)}
		}
	}()
	s.source.View(func(f *frame.Frame) {
		if f.IsEmpty() {
			draw.Draw(canvas, canvas.Bounds(), image.NewUniform(s.opts.ClearColor), image.Point{}, draw.Src)
			return
		}
		Paint(canvas, f.Image, s.opts.Orientation, s.opts.Interpolator)
	})
	return nil
}

// Paint stretches src over the whole canvas through the orientation.
func Paint(canvas draw.Image, src image.Image, o Orientation, interp draw.Transformer) {
	sr := src.Bounds()
	interp.Transform(canvas, sourceToSurface(o, canvas.Bounds(), sr), src, sr, draw.Src, nil)
}
