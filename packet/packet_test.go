package packet

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/greendrake/ntrview/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

// Builds a packet of the given size whose sequence byte is seq and whose
// first byte tags it, so packets can be told apart after sorting.
func tagged(tag byte, seq uint8, size int) Packet {
	p := make(Packet, size)
	p[0] = tag
	p[SequenceOffset] = seq
	return p
}

func seqs(b Batch) []uint8 {
	out := make([]uint8, len(b))
	for i, p := range b {
		out[i] = p.Seq()
	}
	return out
}

func TestSplitCounts(t *testing.T) {
	for _, n := range []int{1, 3, 4, 1447, 1448, 1449, 2896, 2897, 10 * MaxSize, 10*MaxSize + 17} {
		blob := blobOf(n)
		batch, err := Split(blob)
		require.NoError(t, err, "length %d", n)
		assert.Len(t, batch, (n+MaxSize-1)/MaxSize, "length %d", n)
		for i, p := range batch {
			assert.LessOrEqual(t, len(p), MaxSize)
			if i < len(batch)-1 {
				assert.Len(t, p, MaxSize)
			}
		}
		assert.True(t, bytes.Equal(blob, batch.Bytes()), "length %d does not concatenate back", n)
		assert.Equal(t, n, batch.Len())
	}
}

func TestSplitEmpty(t *testing.T) {
	_, err := Split(nil)
	var malformed *util.MalformedInputError
	require.ErrorAs(t, err, &malformed)

	_, err = Split([]byte{})
	require.ErrorAs(t, err, &malformed)
}

func TestSplitDoesNotLeakCapacity(t *testing.T) {
	blob := blobOf(2 * MaxSize)
	batch, err := Split(blob)
	require.NoError(t, err)
	_ = append(batch[0], 0xAA)
	assert.Equal(t, blobOf(2*MaxSize), blob)
}

func TestReorderStable(t *testing.T) {
	in := Batch{tagged('a', 2, 10), tagged('b', 1, 10), tagged('c', 2, 10), tagged('d', 0, 10)}
	out := Reorder(in)
	assert.Equal(t, []uint8{0, 1, 2, 2}, seqs(out))
	assert.Equal(t, byte('d'), out[0][0])
	assert.Equal(t, byte('b'), out[1][0])
	assert.Equal(t, byte('a'), out[2][0])
	assert.Equal(t, byte('c'), out[3][0])
	// input left alone
	assert.Equal(t, []uint8{2, 1, 2, 0}, seqs(in))
}

func TestReorderIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	in := make(Batch, 64)
	for i := range in {
		in[i] = tagged(byte(i), uint8(r.Intn(16)), 8)
	}
	once := Reorder(in)
	twice := Reorder(once)
	assert.Equal(t, once, twice)
}

func TestReorderPreservesMultiset(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	in := make(Batch, 100)
	for i := range in {
		in[i] = tagged(byte(i), uint8(r.Intn(256)), 6)
	}
	out := Reorder(in)
	require.Len(t, out, len(in))
	count := map[byte]int{}
	for _, p := range in {
		count[p[0]]++
	}
	for _, p := range out {
		count[p[0]]--
	}
	for tag, c := range count {
		assert.Zero(t, c, "packet %d lost or duplicated", tag)
	}
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].Seq(), out[i].Seq())
	}
}

func TestReorderShortPackets(t *testing.T) {
	in := Batch{tagged('a', 5, 8), Packet{'b', 1}, tagged('c', 0, 8)}
	out := Reorder(in)
	require.Len(t, out, 3)
	// no sequence byte ranks as 0 and keeps its place ahead of 'c'
	assert.Equal(t, byte('b'), out[0][0])
	assert.Equal(t, byte('c'), out[1][0])
	assert.Equal(t, byte('a'), out[2][0])
}

func TestHeader(t *testing.T) {
	h := NewHeader(9, ScreenTop, 3, true)
	p := Packet(append(h.Bytes(), 0xFF, 0xD8))
	got, err := p.Header()
	require.NoError(t, err)
	assert.Equal(t, uint8(9), got.FrameID)
	assert.Equal(t, uint8(3), got.Number)
	assert.True(t, got.IsTop())
	assert.True(t, got.IsEnd())
	assert.Equal(t, uint8(3), p.Seq())
	assert.Equal(t, []byte{0xFF, 0xD8}, p.Payload())

	bottom := NewHeader(1, ScreenBottom, 0, false)
	assert.False(t, bottom.IsTop())
	assert.False(t, bottom.IsEnd())

	_, err = Packet{1, 2}.Header()
	assert.Error(t, err)
}
