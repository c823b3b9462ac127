package ingest

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/packet"
	"github.com/greendrake/server_client_hierarchy"
)

const (
	DefaultAddr = ":8001"
	// How long a read may block before the task checks whether it should stop
	ReadTimeout = 200 * time.Millisecond
)

// Handler gets each complete frame blob. It runs on the receive goroutine.
type Handler func(blob []byte)

// Receiver is a principally client Node listening for remote-play datagrams.
type Receiver struct {
	server_client_hierarchy.Node
	Addr      string
	handler   Handler
	assembler *Assembler

	mu sync.Mutex
}

func NewReceiver(addr string, handler Handler) *Receiver {
	if addr == "" {
		addr = DefaultAddr
	}
	r := &Receiver{
		Addr:      addr,
		handler:   handler,
		assembler: NewAssembler(),
	}
	r.GetNode().ID = "Receiver [" + addr + "]"
	r.SetPrincipallyClient(true)
	r.SetTask(func(ch chan bool) {
		conn, err := net.ListenPacket("udp", r.Addr)
		if err != nil {
			glog.Errorf("%v: %v", r.GetNode().ID, err)
			go r.Stop()
			<-ch
			return
		}
		defer conn.Close()
		glog.Infof("%v: listening on %v", r.GetNode().ID, conn.LocalAddr())
		buf := make([]byte, 2*packet.MaxSize)
		for {
			select {
			case <-ch:
				return
			case <-r.Node.Ctx.Done():
				<-ch
				return
			default:
				conn.SetReadDeadline(time.Now().Add(ReadTimeout))
				n, _, err := conn.ReadFrom(buf)
				if err != nil {
					if errors.Is(err, os.ErrDeadlineExceeded) {
						continue
					}
					glog.Errorf("%v: %v", r.GetNode().ID, err)
					go r.Stop()
					<-ch
					return
				}
				r.Handle(buf[:n])
			}
		}
	})
	return r
}

// Handle feeds one datagram through the assembler. The datagram is not retained.
func (r *Receiver) Handle(datagram []byte) {
	r.mu.Lock()
	blob, ok := r.assembler.Add(datagram)
	r.mu.Unlock()
	if ok {
		r.handler(blob)
	}
}

func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assembler.Stats()
}
