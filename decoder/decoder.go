// Package decoder turns an ordered packet batch into a classified frame.
package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/greendrake/ntrview/frame"
	"github.com/greendrake/ntrview/packet"
	"github.com/greendrake/ntrview/util"
)

// Decoder must be safe for concurrent use: the dispatcher calls it from many workers.
type Decoder interface {
	Decode(packets packet.Batch) (*frame.Frame, error)
}

type Func func(packets packet.Batch) (*frame.Frame, error)

func (f Func) Decode(packets packet.Batch) (*frame.Frame, error) {
	return f(packets)
}

// JPEG decodes remote-play frames: each packet is a 4 byte header followed by a slice
// of one JPEG image. The first packet's screen id tells top from bottom.
type JPEG struct{}

func (JPEG) Decode(packets packet.Batch) (*frame.Frame, error) {
	payload, isTop, err := Assemble(packets)
	if err != nil {
		return nil, err
	}
	img, err := DecodeJPEG(payload)
	if err != nil {
		return nil, err
	}
	return &frame.Frame{
		Image:     img,
		IsPrimary: isTop,
		Payload:   payload,
	}, nil
}

// DecodeJPEG decodes one complete JPEG image.
func DecodeJPEG(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &util.DecodeError{Msg: "No JPEG data"}
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &util.DecodeError{Msg: "Failed to decode JPEG data", Err: err}
	}
	return img, nil
}

// Assemble strips the headers and concatenates the payloads in batch order.
func Assemble(packets packet.Batch) ([]byte, bool, error) {
	if len(packets) == 0 {
		return nil, false, &util.DecodeError{Msg: "No packets to decode"}
	}
	var isTop bool
	data := make([]byte, 0, packets.Len())
	for i, p := range packets {
		if len(p) <= packet.HeaderSize {
			return nil, false, &util.DecodeError{Msg: fmt.Sprintf("Packet %d is too short: %d bytes", i, len(p))}
		}
		if i == 0 {
			h, err := p.Header()
			if err != nil {
				return nil, false, &util.DecodeError{Msg: "Bad first packet header", Err: err}
			}
			isTop = h.IsTop()
		}
		data = append(data, p.Payload()...)
	}
	return data, isTop, nil
}
