package packet

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/greendrake/ntrview/util"
)

// MTU-sized transport unit
const MaxSize = 1448

// Packet is a read-only view into the blob it was split from.
type Packet []byte

// Batch holds the packets of one decode attempt.
type Batch []Packet

// Seq returns the in-band sequence byte. Packets too short to carry one sort as 0.
func (p Packet) Seq() uint8 {
	if len(p) <= SequenceOffset {
		return 0
	}
	return p[SequenceOffset]
}

func (p Packet) Header() (Header, error) {
	var h Header
	if len(p) < HeaderSize {
		return h, fmt.Errorf("Packet too short for a header: %d bytes", len(p))
	}
	err := binary.Read(bytes.NewReader(p[:HeaderSize]), binary.LittleEndian, &h)
	return h, err
}

func (p Packet) Payload() []byte {
	if len(p) < HeaderSize {
		return nil
	}
	return p[HeaderSize:]
}

// Split cuts the blob into MaxSize chunks in arrival order, the last one possibly shorter.
func Split(blob []byte) (Batch, error) {
	if len(blob) == 0 {
		return nil, &util.MalformedInputError{Msg: "no packets to process: empty blob"}
	}
	batch := make(Batch, 0, (len(blob)+MaxSize-1)/MaxSize)
	for offset := 0; offset < len(blob); offset += MaxSize {
		end := min(offset+MaxSize, len(blob))
		// Cap the capacity so nobody can append into the next packet
		batch = append(batch, Packet(blob[offset:end:end]))
	}
	return batch, nil
}

// Reorder returns a copy of the batch stable-sorted by sequence byte.
// Packets sharing a sequence value keep their arrival order.
func Reorder(b Batch) Batch {
	sorted := slices.Clone(b)
	slices.SortStableFunc(sorted, func(x, y Packet) int {
		return cmp.Compare(x.Seq(), y.Seq())
	})
	return sorted
}

func (b Batch) Len() int {
	var n int
	for _, p := range b {
		n += len(p)
	}
	return n
}

// Bytes concatenates the packets back into one blob.
func (b Batch) Bytes() []byte {
	out := make([]byte, 0, b.Len())
	for _, p := range b {
		out = append(out, p...)
	}
	return out
}
