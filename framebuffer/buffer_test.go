package framebuffer

import (
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/greendrake/ntrview/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func colorFor(seq uint64) color.RGBA {
	return color.RGBA{R: uint8(seq), G: uint8(seq >> 8), B: 0x5A, A: 0xFF}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func frameOf(seq uint64, w, h int) *frame.Frame {
	return &frame.Frame{Image: solid(w, h, colorFor(seq)), Seq: seq, IsPrimary: seq%2 == 0}
}

// Every pixel must carry the color of the frame's own Seq.
func assertWhole(t *testing.T, f *frame.Frame) {
	t.Helper()
	img := f.Image.(*image.RGBA)
	want := colorFor(f.Seq)
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != want.R || img.Pix[i+1] != want.G {
			t.Errorf("torn frame %d at byte %d", f.Seq, i)
			return
		}
	}
}

func TestEmptyBuffer(t *testing.T) {
	b := New()
	assert.Nil(t, b.Snapshot())
	present := b.View(func(f *frame.Frame) {
		assert.Nil(t, f)
	})
	assert.False(t, present)
}

func TestReplaceThenSnapshot(t *testing.T) {
	b := New()
	for seq := uint64(1); seq <= 5; seq++ {
		require.True(t, b.Replace(frameOf(seq, 40, 24)))
		snap := b.Snapshot()
		require.NotNil(t, snap)
		assert.Equal(t, seq, snap.Seq)
		assert.Equal(t, seq%2 == 0, snap.IsPrimary)
		assertWhole(t, snap)
	}
	st := b.Stats()
	assert.Equal(t, uint64(5), st.Accepted)
	assert.Equal(t, uint64(1), st.Allocations)
	assert.Equal(t, uint64(4), st.Reuses)
	assert.Zero(t, st.Releases)
}

func TestSnapshotIsPrivate(t *testing.T) {
	b := New()
	require.True(t, b.Replace(frameOf(1, 4, 4)))
	snap := b.Snapshot()
	snap.Image.(*image.RGBA).Pix[0] = 0xEE
	assertWhole(t, b.Snapshot())
}

func TestReplaceDoesNotRetainSource(t *testing.T) {
	b := New()
	f := frameOf(1, 4, 4)
	require.True(t, b.Replace(f))
	f.Image.(*image.RGBA).Pix[0] = 0xEE
	assertWhole(t, b.Snapshot())
}

func TestResizeReleasesBacking(t *testing.T) {
	b := New()
	require.True(t, b.Replace(frameOf(1, 400, 240)))
	require.True(t, b.Replace(frameOf(2, 320, 240)))
	require.True(t, b.Replace(frameOf(3, 320, 240)))
	st := b.Stats()
	assert.Equal(t, uint64(2), st.Allocations)
	assert.Equal(t, uint64(1), st.Releases)
	assert.Equal(t, uint64(1), st.Reuses)
	assert.Equal(t, 320, st.Width)

	b.Reset()
	assert.Nil(t, b.Snapshot())
	assert.Equal(t, uint64(2), b.Stats().Releases)
}

func TestStaleFrameDiscarded(t *testing.T) {
	b := New()
	require.True(t, b.Replace(frameOf(7, 8, 8)))
	assert.False(t, b.Replace(frameOf(3, 8, 8)))
	assert.False(t, b.Replace(frameOf(7, 8, 8)))
	assert.Equal(t, uint64(7), b.Snapshot().Seq)
	assert.Equal(t, uint64(2), b.Stats().Stale)
}

func TestEmptyFrameRejected(t *testing.T) {
	b := New()
	assert.False(t, b.Replace(&frame.Frame{Seq: 1}))
	assert.False(t, b.Replace(&frame.Frame{Seq: 2, Image: image.NewRGBA(image.Rectangle{})}))
	assert.Nil(t, b.Snapshot())
	assert.Equal(t, uint64(2), b.Stats().Rejected)
}

func TestConcurrentReplaceNoTornReads(t *testing.T) {
	b := New()
	var seq frame.Sequencer
	var wg sync.WaitGroup
	done := make(chan struct{})

	// Readers, both through View and Snapshot
	var readers sync.WaitGroup
	for r := 0; r < 2; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if snap := b.Snapshot(); snap != nil {
					assertWhole(t, snap)
				}
				b.View(func(f *frame.Frame) {
					if f != nil {
						assertWhole(t, f)
					}
				})
			}
		}()
	}

	const writers = 8
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				// Alternate sizes so both the reuse and the reallocation paths race
				size := 16 + 8*(w%2)
				b.Replace(frameOf(seq.Next(), size, size))
			}
		}(w)
	}
	wg.Wait()
	close(done)
	readers.Wait()

	last := seq.Last()
	snap := b.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, last, snap.Seq)
	assertWhole(t, snap)
	st := b.Stats()
	assert.Equal(t, uint64(writers*50), st.Accepted+st.Stale)
}
