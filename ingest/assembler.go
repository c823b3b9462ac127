// Package ingest receives remote-play datagrams and turns each complete burst into a blob
// for the decode dispatcher.
package ingest

import (
	"slices"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/packet"
)

type Stats struct {
	Datagrams uint64 `json:"datagrams"`
	Frames    uint64 `json:"frames"`
	Dropped   uint64 `json:"dropped"`
	Ignored   uint64 `json:"ignored"`
}

// Assembler collects the datagrams of one frame at a time. Packet number 0 opens a frame,
// the packet carrying the end flag closes it. Datagrams of any other frame id are ignored
// while a frame is open.
//
// The blob keeps arrival order; ordering by packet number is the dispatcher's job. For
// the blob to split back into the same packets, every datagram but the last one must be
// exactly packet.MaxSize long.
type Assembler struct {
	open    bool
	frameID uint8
	seen    []bool
	count   int
	blob    []byte
	stats   Stats
}

func NewAssembler() *Assembler {
	return &Assembler{seen: make([]bool, 256)}
}

// Add feeds one datagram. When it completes a frame, the frame's blob is returned.
func (a *Assembler) Add(datagram []byte) ([]byte, bool) {
	a.stats.Datagrams++
	h, err := packet.Packet(datagram).Header()
	if err != nil {
		a.stats.Ignored++
		glog.V(2).Infof("Ingest: ignoring datagram: %v", err)
		return nil, false
	}
	if h.Number == 0 {
		if a.open {
			a.drop("superseded by frame %d", h.FrameID)
		}
		a.open = true
		a.frameID = h.FrameID
		a.blob = a.blob[:0]
	} else if !a.open || h.FrameID != a.frameID {
		a.stats.Ignored++
		glog.V(2).Infof("Ingest: ignoring packet of frame %d", h.FrameID)
		return nil, false
	}
	if a.seen[h.Number] {
		a.drop("packet %d repeated", h.Number)
		return nil, false
	}
	if len(datagram) > packet.MaxSize || !h.IsEnd() && len(datagram) != packet.MaxSize {
		a.drop("packet %d is %d bytes", h.Number, len(datagram))
		return nil, false
	}
	a.seen[h.Number] = true
	a.count++
	a.blob = append(a.blob, datagram...)
	if !h.IsEnd() {
		return nil, false
	}
	// Packets 0..Number must all be there
	for i := 0; i <= int(h.Number); i++ {
		if !a.seen[i] {
			a.drop("missing packet %d", i)
			return nil, false
		}
	}
	if a.count != int(h.Number)+1 {
		a.drop("stray packets beyond %d", h.Number)
		return nil, false
	}
	blob := slices.Clone(a.blob)
	a.reset()
	a.stats.Frames++
	return blob, true
}

func (a *Assembler) drop(format string, args ...any) {
	a.stats.Dropped++
	glog.Warningf("Ingest: dropping frame %d: "+format, append([]any{a.frameID}, args...)...)
	a.reset()
}

func (a *Assembler) reset() {
	a.open = false
	a.count = 0
	a.blob = a.blob[:0]
	clear(a.seen)
}

func (a *Assembler) Stats() Stats {
	return a.stats
}
