// Package framebuffer holds the latest decoded frame for one screen.
//
// Decode workers call Replace, the render loop calls View once per paint.
// Both go through the same mutex, so a paint never observes a frame mid-replace
// and two replaces never race on the backing raster.
package framebuffer

import (
	"image"
	"slices"
	"sync"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/frame"
	"golang.org/x/image/draw"
)

type Stats struct {
	Accepted    uint64 `json:"accepted"`
	Stale       uint64 `json:"stale"`
	Rejected    uint64 `json:"rejected"`
	Allocations uint64 `json:"allocations"`
	Reuses      uint64 `json:"reuses"`
	Releases    uint64 `json:"releases"`
	Seq         uint64 `json:"seq"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type Buffer struct {
	mu      sync.Mutex
	current *frame.Frame
	// Owned raster behind current.Image. Reused while the dimensions hold.
	backing *image.RGBA
	stats   Stats
}

func New() *Buffer {
	return &Buffer{}
}

// Replace adopts f unless a frame submitted later is already held.
// The image is copied into the buffer's own raster; f is not retained.
func (b *Buffer) Replace(f *frame.Frame) bool {
	if f.IsEmpty() {
		b.mu.Lock()
		b.stats.Rejected++
		b.mu.Unlock()
		glog.Warningf("Frame buffer: refusing empty frame")
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil && f.Seq <= b.current.Seq {
		b.stats.Stale++
		glog.V(2).Infof("Frame buffer: discarding stale frame %d, holding %d", f.Seq, b.current.Seq)
		return false
	}
	src := f.Image.Bounds()
	size := src.Size()
	if b.backing == nil || b.backing.Rect.Size() != size {
		if b.backing != nil {
			b.stats.Releases++
		}
		b.backing = image.NewRGBA(image.Rectangle{Max: size})
		b.stats.Allocations++
	} else {
		b.stats.Reuses++
	}
	draw.Draw(b.backing, b.backing.Rect, f.Image, src.Min, draw.Src)
	b.current = &frame.Frame{
		Image:     b.backing,
		IsPrimary: f.IsPrimary,
		Seq:       f.Seq,
		Payload:   f.Payload,
	}
	b.stats.Accepted++
	b.stats.Seq = f.Seq
	b.stats.Width, b.stats.Height = size.X, size.Y
	return true
}

// View calls fn with the held frame (nil when empty) while holding the lock.
// fn must not keep the frame or its image past the call.
func (b *Buffer) View(fn func(f *frame.Frame)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.current)
	return b.current != nil
}

// Snapshot returns a private copy of the held frame, or nil.
func (b *Buffer) Snapshot() *frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	img := &image.RGBA{
		Pix:    slices.Clone(b.backing.Pix),
		Stride: b.backing.Stride,
		Rect:   b.backing.Rect,
	}
	return &frame.Frame{
		Image:     img,
		IsPrimary: b.current.IsPrimary,
		Seq:       b.current.Seq,
		Payload:   slices.Clone(b.current.Payload),
	}
}

// Reset drops the held frame and its raster.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.backing != nil {
		b.stats.Releases++
	}
	b.current = nil
	b.backing = nil
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
