// Package ntr talks to the NTR debugger on the handheld over its TCP control channel.
// The only thing this viewer really needs from it is the RemotePlay command, which
// makes the handheld start sending screen frames over UDP.
package ntr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/util"
)

const Magic uint32 = 0x12345678

const (
	HeaderSize = 84
	portTCP    = "8000"

	DialTimeout       = 5 * time.Second
	ReadTimeout       = 500 * time.Millisecond
	WriteTimeout      = 5 * time.Second
	HeartbeatInterval = time.Second

	seqStep = 1000

	// Replies are small; anything bigger means the stream is out of sync
	MaxReplyData = 1 << 20

	typeNormal uint32 = 0
	typeData   uint32 = 1
)

// Every control packet is 21 little-endian uint32 words, optionally followed by DataLength bytes.
type Header struct {
	Magic      uint32
	Sequence   uint32
	Type       uint32
	Cmd        Command
	Args       [16]uint32
	DataLength uint32
}

type Reply struct {
	Header Header
	Data   []byte
}

var (
	ErrBadMagic              = errors.New("Bad magic number")
	ErrReplyTooLarge         = errors.New("Reply data too large")
	ErrRemotePlayAlreadySent = errors.New("RemotePlay has already been sent on this connection")
)

// RemotePlaySettings tune the stream the handheld sends back.
type RemotePlaySettings struct {
	PriorityTop    bool   `yaml:"PriorityTop"`    // Which screen gets the bigger share of the bandwidth
	PriorityFactor uint8  `yaml:"PriorityFactor"` // Frames of the priority screen per frame of the other one
	Quality        uint8  `yaml:"Quality"`        // JPEG quality, 10 to 100
	QoS            uint32 `yaml:"QoS"`            // Bandwidth limit in the handheld's own units
}

var DefaultRemotePlay = RemotePlaySettings{
	PriorityTop:    true,
	PriorityFactor: 5,
	Quality:        80,
	QoS:            105,
}

func (s RemotePlaySettings) Args() []uint32 {
	var mode uint32
	if s.PriorityTop {
		mode = 1
	}
	return []uint32{mode<<8 | uint32(s.PriorityFactor), uint32(s.Quality), s.QoS << 17, 0}
}

type Client struct {
	c                 net.Conn
	sequence          uint32
	lastHeartbeat     time.Time
	remotePlaySent    bool
	heartbeatInterval time.Duration
}

// Dial connects to address, which may omit the port.
func Dial(ctx context.Context, address string) (*Client, error) {
	if !strings.Contains(address, ":") {
		address = address + ":" + portTCP
	}
	var dialer net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			// The dialer gives up immediately on refusal, so pace the retries here
			util.SleepCtx(ctx, DialTimeout)
		}
		return nil, err
	}
	glog.Infof("NTR connection established with %v", address)
	return &Client{
		c:                 conn,
		heartbeatInterval: HeartbeatInterval,
	}, nil
}

func (c *Client) Send(typ uint32, cmd Command, args []uint32, data []byte) error {
	if len(args) > 16 {
		return fmt.Errorf("Too many arguments for %v: %d", cmd, len(args))
	}
	c.sequence += seqStep
	h := Header{
		Magic:      Magic,
		Sequence:   c.sequence,
		Type:       typ,
		Cmd:        cmd,
		DataLength: uint32(len(data)),
	}
	copy(h.Args[:], args)
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return err
	}
	buf.Write(data)
	c.c.SetWriteDeadline(time.Now().Add(WriteTimeout))
	_, err := c.c.Write(buf.Bytes())
	return err
}

// ReadReply reads one header and its trailing data. An idle connection gives
// os.ErrDeadlineExceeded after ReadTimeout.
func (c *Client) ReadReply() (*Reply, error) {
	var header Header
	b := make([]byte, HeaderSize)
	c.c.SetReadDeadline(time.Now().Add(ReadTimeout))
	if n, err := io.ReadFull(c.c, b); err != nil {
		if n > 0 {
			// Not wrapped: a half-read header is not an idle connection
			return nil, fmt.Errorf("Truncated reply header after %d bytes: %v", n, err)
		}
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.Magic != Magic {
		return nil, fmt.Errorf("%w: %x", ErrBadMagic, header.Magic)
	}
	if header.DataLength > MaxReplyData {
		return nil, fmt.Errorf("%w: %d bytes for %v", ErrReplyTooLarge, header.DataLength, header.Cmd)
	}
	data := make([]byte, header.DataLength)
	c.c.SetReadDeadline(time.Now().Add(WriteTimeout))
	if _, err := io.ReadFull(c.c, data); err != nil {
		return nil, fmt.Errorf("Truncated reply data for %v: %v", header.Cmd, err)
	}
	glog.V(2).Infof("NTR received cmd %v with %d bytes", header.Cmd, len(data))
	return &Reply{Header: header, Data: data}, nil
}

func (c *Client) Heartbeat() error {
	err := c.Send(typeNormal, CmdEmpty, nil, nil)
	if err == nil {
		c.lastHeartbeat = time.Now()
	}
	return err
}

func (c *Client) MaybeHeartbeat() error {
	if time.Since(c.lastHeartbeat) < c.heartbeatInterval {
		return nil
	}
	return c.Heartbeat()
}

// RemotePlay may be sent once per connection. The handheld drops the control
// connection shortly after and starts streaming.
func (c *Client) RemotePlay(s RemotePlaySettings) error {
	if c.remotePlaySent {
		return ErrRemotePlayAlreadySent
	}
	if err := c.Send(typeNormal, CmdRemotePlay, s.Args(), nil); err != nil {
		return err
	}
	c.remotePlaySent = true
	return nil
}

func (c *Client) Disconnect() error {
	return c.c.Close()
}

// KeepAlive heartbeats the connection and drains whatever the handheld sends back until
// ctx is done or the connection fails. Every reply goes to onReply, if set.
func (c *Client) KeepAlive(ctx context.Context, onReply func(*Reply)) error {
	for ctx.Err() == nil {
		if err := c.MaybeHeartbeat(); err != nil {
			return err
		}
		r, err := c.ReadReply()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return err
		}
		if onReply != nil {
			onReply(r)
		}
	}
	return nil
}
