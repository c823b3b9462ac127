package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Every remote-play packet starts with a 4 byte header:
//
//	byte 0: frame id, shared by all packets of one frame
//	byte 1: low nibble is the screen id (1 = top), high nibble 0x1 marks the last packet
//	byte 2: reserved
//	byte 3: packet number within the frame
type Header struct {
	FrameID uint8
	Flags   uint8
	_       uint8 // Reserved
	Number  uint8
}

const (
	HeaderSize = 4
	// Offset of the in-band sequence byte
	SequenceOffset = 3

	ScreenTop    uint8 = 1
	ScreenBottom uint8 = 0

	endFlag uint8 = 0x10
)

func (h Header) Screen() uint8 {
	return h.Flags & 0x0F
}

func (h Header) IsTop() bool {
	return h.Screen() == ScreenTop
}

func (h Header) IsEnd() bool {
	return h.Flags&0xF0 == endFlag
}

func (h Header) String() string {
	return fmt.Sprintf("FrameID: %d; Screen: %d; Number: %d; End: %v", h.FrameID, h.Screen(), h.Number, h.IsEnd())
}

// Bytes encodes the header, e.g. for building test streams.
func (h Header) Bytes() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, h) // all fields are 1 byte long, cannot fail
	return buf.Bytes()
}

func NewHeader(frameID uint8, screen uint8, number uint8, last bool) Header {
	flags := screen & 0x0F
	if last {
		flags |= endFlag
	}
	return Header{FrameID: frameID, Flags: flags, Number: number}
}
