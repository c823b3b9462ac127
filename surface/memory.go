// Package surface provides an in-memory double-buffered display surface.
// Posted images are handed to listeners, which is how the webcast sees the screen.
package surface

import (
	"errors"
	"image"
	"slices"
	"sync"

	"golang.org/x/image/draw"
)

var (
	ErrReleased = errors.New("surface released")
	ErrBusy     = errors.New("surface already locked")
	ErrNotOwner = errors.New("canvas does not belong to this surface")
)

type PostHandler func(img *image.RGBA)

type Memory struct {
	mu       sync.Mutex
	back     *image.RGBA
	front    *image.RGBA
	locked   bool
	released bool
	posts    uint64
	onPost   []PostHandler
}

func NewMemory(width, height int) *Memory {
	return &Memory{
		back:  image.NewRGBA(image.Rect(0, 0, width, height)),
		front: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

// OnPost registers a handler called with a private copy of every posted image.
func (m *Memory) OnPost(h PostHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPost = append(m.onPost, h)
}

func (m *Memory) Lock() (draw.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil, ErrReleased
	}
	if m.locked {
		return nil, ErrBusy
	}
	m.locked = true
	return m.back, nil
}

func (m *Memory) UnlockAndPost(canvas draw.Image) error {
	m.mu.Lock()
	if !m.locked {
		m.mu.Unlock()
		return ErrBusy
	}
	if canvas != draw.Image(m.back) {
		m.mu.Unlock()
		return ErrNotOwner
	}
	m.locked = false
	m.back, m.front = m.front, m.back
	m.posts++
	handlers := m.onPost
	var posted *image.RGBA
	if len(handlers) > 0 {
		posted = clone(m.front)
	}
	// Keep the back buffer current so partial paints build on the last frame
	copy(m.back.Pix, m.front.Pix)
	m.mu.Unlock()
	for _, h := range handlers {
		h(posted)
	}
	return nil
}

// Resize swaps in buffers of the new size. It fails while a canvas is out.
func (m *Memory) Resize(width, height int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return ErrBusy
	}
	m.back = image.NewRGBA(image.Rect(0, 0, width, height))
	m.front = image.NewRGBA(image.Rect(0, 0, width, height))
	return nil
}

// Release makes every further Lock fail.
func (m *Memory) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
}

// Front returns a copy of the last posted image.
func (m *Memory) Front() *image.RGBA {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.front)
}

func (m *Memory) Size() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.front.Rect.Dx(), m.front.Rect.Dy()
}

func (m *Memory) Posts() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts
}

func clone(img *image.RGBA) *image.RGBA {
	return &image.RGBA{
		Pix:    slices.Clone(img.Pix),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
}
