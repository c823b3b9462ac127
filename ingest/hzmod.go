package ingest

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/greendrake/server_client_hierarchy"
)

// HzMod is the other streaming server a handheld may run. It speaks TCP and sends whole
// frames, each as one packet: a type byte, a 24-bit little-endian length, the payload.
const (
	HzModPort        = "6464"
	HzModHeaderSize  = 4
	HzModReconnect   = 3 * time.Second
	HzModDialTimeout = 5 * time.Second

	// JPEG payloads carry 8 bytes of their own before the image
	hzJPEGOffset = 8
)

const (
	HzError    byte = 0x01
	HzModeSet  byte = 0x02
	HzTGA      byte = 0x03
	HzJPEG     byte = 0x04
	HzConfig   byte = 0x7E
	HzDebugMsg byte = 0xFF
)

const (
	hzCfgQuality  byte = 0x03
	hzCfgCPULimit byte = 0xFF
)

type HzPacket struct {
	Type byte
	Data []byte
}

// ReadHzPacket reads one packet off r.
func ReadHzPacket(r io.Reader) (*HzPacket, error) {
	var h [HzModHeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return nil, err
	}
	size := uint32(h[1]) | uint32(h[2])<<8 | uint32(h[3])<<16
	p := &HzPacket{Type: h[0], Data: make([]byte, size)}
	if _, err := io.ReadFull(r, p.Data); err != nil {
		return nil, fmt.Errorf("Truncated HzMod packet 0x%02x of %d bytes: %w", p.Type, size, err)
	}
	return p, nil
}

// Config packets carry a 32-bit little-endian setting id and one value byte.
func hzConfigPacket(setting, value byte) []byte {
	p := make([]byte, HzModHeaderSize+5)
	p[0] = HzConfig
	p[1] = 5
	p[HzModHeaderSize] = setting
	p[HzModHeaderSize+4] = value
	return p
}

// HzModInit is what goes out right after connecting: the optional CPU cap, the JPEG
// quality, then the command that starts the stream.
func HzModInit(quality, cpuLimit int) []byte {
	var out []byte
	if cpuLimit > 0 {
		out = append(out, hzConfigPacket(hzCfgCPULimit, byte(min(cpuLimit, 255)))...)
	}
	out = append(out, hzConfigPacket(hzCfgQuality, byte(max(1, min(quality, 100))))...)
	start := hzConfigPacket(0, 1)
	return append(out, start...)
}

type HzStats struct {
	Frames      uint64 `json:"frames"`
	Unsupported uint64 `json:"unsupported"`
	Connects    uint64 `json:"connects"`
}

// FrameHandler gets each complete JPEG.
type FrameHandler func(jpeg []byte)

// HzModSource is a principally client Node holding a connection to HzMod, reconnecting
// until stopped. Only JPEG frames are passed on; TGA frames are counted and skipped.
type HzModSource struct {
	server_client_hierarchy.Node
	Address  string
	Quality  int
	CPULimit int
	handler  FrameHandler

	mu    sync.Mutex
	stats HzStats
}

func NewHzModSource(address string, quality, cpuLimit int, handler FrameHandler) *HzModSource {
	if !strings.Contains(address, ":") {
		address = address + ":" + HzModPort
	}
	h := &HzModSource{
		Address:  address,
		Quality:  quality,
		CPULimit: cpuLimit,
		handler:  handler,
	}
	h.GetNode().ID = "HzMod [" + address + "]"
	h.SetContext(context.Background())
	h.SetPrincipallyClient(true)
	h.SetTask(func(ch chan bool) {
		for {
			err := h.connect(ch)
			if err == nil {
				// Told to stop
				return
			}
			glog.Warningf("%v: %v, reconnecting in %v", h.GetNode().ID, err, HzModReconnect)
			select {
			case <-ch:
				return
			case <-h.Node.Ctx.Done():
				<-ch
				return
			case <-time.After(HzModReconnect):
			}
		}
	})
	return h
}

// connect runs one connection. It returns nil once the stop command has been consumed.
func (h *HzModSource) connect(ch chan bool) error {
	var dialer net.Dialer
	dialCtx, cancel := context.WithTimeout(h.Node.Ctx, HzModDialTimeout)
	conn, err := dialer.DialContext(dialCtx, "tcp", h.Address)
	cancel()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.stats.Connects++
	h.mu.Unlock()
	glog.Infof("%v: connected", h.GetNode().ID)
	if _, err = conn.Write(HzModInit(h.Quality, h.CPULimit)); err != nil {
		conn.Close()
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- h.Read(bufio.NewReader(conn))
	}()
	select {
	case <-ch:
		conn.Close()
		<-done
		return nil
	case <-h.Node.Ctx.Done():
		conn.Close()
		<-done
		<-ch
		return nil
	case err = <-done:
		conn.Close()
		return err
	}
}

// Read handles packets off r until it fails. An error packet from the handheld ends it too.
func (h *HzModSource) Read(r io.Reader) error {
	for {
		p, err := ReadHzPacket(r)
		if err != nil {
			return err
		}
		switch p.Type {
		case HzJPEG:
			if len(p.Data) <= hzJPEGOffset {
				glog.Warningf("%v: JPEG packet of %d bytes", h.GetNode().ID, len(p.Data))
				continue
			}
			h.mu.Lock()
			h.stats.Frames++
			h.mu.Unlock()
			h.handler(p.Data[hzJPEGOffset:])
		case HzTGA:
			h.mu.Lock()
			h.stats.Unsupported++
			h.mu.Unlock()
			glog.V(2).Infof("%v: skipping TGA frame", h.GetNode().ID)
		case HzError:
			if len(p.Data) == 0 {
				return fmt.Errorf("HzMod error")
			}
			return fmt.Errorf("HzMod error %d: %s", p.Data[0], p.Data[1:])
		case HzModeSet:
			if len(p.Data) >= 16 {
				glog.Infof("%v: top mode %x, bottom mode %x", h.GetNode().ID,
					binary.LittleEndian.Uint32(p.Data), binary.LittleEndian.Uint32(p.Data[8:]))
			}
		case HzDebugMsg, HzConfig:
			glog.V(2).Infof("%v: packet 0x%02x of %d bytes", h.GetNode().ID, p.Type, len(p.Data))
		default:
			glog.V(2).Infof("%v: unknown packet 0x%02x", h.GetNode().ID, p.Type)
		}
	}
}

func (h *HzModSource) Stats() HzStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
