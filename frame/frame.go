package frame

import (
	"image"
	"sync/atomic"
)

// One decoded screen image.
type Frame struct {
	Image image.Image
	// Top screen (primary feed) vs bottom screen
	IsPrimary bool
	// Submission ticket. Later submissions win over earlier ones.
	Seq uint64
	// Encoded bytes the image was decoded from, if known
	Payload []byte
}

func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

func (f *Frame) IsEmpty() bool {
	return f == nil || f.Image == nil || f.Image.Bounds().Empty()
}

// Sequencer hands out monotonically increasing submission tickets.
// One instance is shared by everything that feeds the same buffers.
type Sequencer struct {
	n atomic.Uint64
}

func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

func (s *Sequencer) Last() uint64 {
	return s.n.Load()
}
