// Package view binds one screen's frame buffer to whatever surface currently displays it.
package view

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/decoder"
	"github.com/greendrake/ntrview/frame"
	"github.com/greendrake/ntrview/framebuffer"
	"github.com/greendrake/ntrview/render"
	"github.com/greendrake/ntrview/util"
)

const DataURIPrefix = "data:image/jpeg;base64,"

type View struct {
	Name    string
	Primary bool

	buffer *framebuffer.Buffer
	seq    *frame.Sequencer
	opts   render.Options
	fps    *FPSMeter

	mu      sync.Mutex
	session *render.Session
}

// New creates a view. seq must be the sequencer the dispatcher uses, so directly set
// frames and dispatched ones are ordered against each other.
func New(name string, primary bool, seq *frame.Sequencer, opts render.Options) *View {
	if opts.Name == "" {
		opts.Name = name
	}
	return &View{
		Name:    name,
		Primary: primary,
		buffer:  framebuffer.New(),
		seq:     seq,
		opts:    opts,
		fps:     NewFPSMeter(),
	}
}

func (v *View) Buffer() *framebuffer.Buffer {
	return v.buffer
}

// Replace makes the view a dispatch sink.
func (v *View) Replace(f *frame.Frame) bool {
	if !v.buffer.Replace(f) {
		return false
	}
	v.fps.Tick()
	return true
}

// FPS is the rate of frames the buffer took over the last second.
func (v *View) FPS() float64 {
	return v.fps.FPS()
}

// RenderStats covers the current surface only; zero while there is none.
func (v *View) RenderStats() render.Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return render.Stats{}
	}
	return v.session.Stats()
}

// OnSurfaceCreated starts painting onto s. A session left over from an earlier
// surface is stopped first.
func (v *View) OnSurfaceCreated(ctx context.Context, s render.Surface) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		v.stopLocked()
	}
	glog.Infof("%v: surface created", v.Name)
	v.session = render.NewSession(s, v.buffer, v.opts)
	return v.session.Start(ctx)
}

func (v *View) OnSurfaceChanged(width, height int) {
	glog.Infof("%v: surface changed to %dx%d", v.Name, width, height)
}

// OnSurfaceDestroyed stops the render session. A *util.ShutdownTimeoutWarning is
// passed through for information only.
func (v *View) OnSurfaceDestroyed() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	glog.Infof("%v: surface destroyed", v.Name)
	return v.stopLocked()
}

func (v *View) stopLocked() error {
	if v.session == nil {
		return nil
	}
	err := v.session.Stop()
	v.session = nil
	return err
}

// Close stops painting and drops the held frame.
func (v *View) Close() error {
	err := v.OnSurfaceDestroyed()
	v.buffer.Reset()
	return err
}

func (v *View) State() render.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return render.Stopped
	}
	return v.session.State()
}

// UpdateFrame decodes a complete JPEG and shows it. Empty input is ignored.
func (v *View) UpdateFrame(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	img, err := decoder.DecodeJPEG(data)
	if err != nil {
		glog.Errorf("%v: %v", v.Name, err)
		return err
	}
	v.Replace(&frame.Frame{
		Image:     img,
		IsPrimary: v.Primary,
		Seq:       v.seq.Next(),
		Payload:   data,
	})
	return nil
}

// SetFrame takes a base64 JPEG, with or without the data URI prefix.
func (v *View) SetFrame(encoded string) error {
	encoded = strings.TrimPrefix(encoded, DataURIPrefix)
	if encoded == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return &util.MalformedInputError{Msg: "Frame is not valid base64: " + err.Error()}
	}
	return v.UpdateFrame(data)
}
