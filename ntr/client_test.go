package ntr

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen accepts one connection and hands every header (plus data) it reads to got.
func listen(t *testing.T, got chan<- Reply) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var h Header
			if err := binary.Read(conn, binary.LittleEndian, &h); err != nil {
				close(got)
				return
			}
			data := make([]byte, h.DataLength)
			if _, err := io.ReadFull(conn, data); err != nil {
				close(got)
				return
			}
			got <- Reply{Header: h, Data: data}
		}
	}()
	return l.Addr().String()
}

type received struct {
	conn  int
	reply Reply
}

// serveAll accepts any number of connections. Every connection but the first one is greeted with greeting.
func serveAll(t *testing.T, greeting []byte) (string, <-chan received) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	got := make(chan received, 64)
	go func() {
		for i := 0; ; i++ {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(i int, conn net.Conn) {
				defer conn.Close()
				if i > 0 {
					conn.Write(greeting)
				}
				for {
					var h Header
					if err := binary.Read(conn, binary.LittleEndian, &h); err != nil {
						return
					}
					got <- received{conn: i, reply: Reply{Header: h}}
				}
			}(i, conn)
		}
	}()
	return l.Addr().String(), got
}

func TestController(t *testing.T) {
	var greeting bytes.Buffer
	binary.Write(&greeting, binary.LittleEndian, Header{Magic: Magic, Cmd: CmdHello, DataLength: 2})
	greeting.WriteString("hi")
	addr, got := serveAll(t, greeting.Bytes())

	ctl := NewController(addr, DefaultRemotePlay)
	ctl.Reconnect = 20 * time.Millisecond
	ctl.Heartbeat = 50 * time.Millisecond
	replies := make(chan *Reply, 4)
	ctl.OnReply = func(r *Reply) { replies <- r }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctl.Run(ctx)
		close(done)
	}()

	byConn := map[int][]Header{}
	for len(byConn[1]) < 3 {
		select {
		case r := <-got:
			byConn[r.conn] = append(byConn[r.conn], r.reply.Header)
		case <-time.After(2 * time.Second):
			t.Fatalf("Only got %v", byConn)
		}
	}
	assert.True(t, ctl.Requested())

	first := byConn[0]
	require.Len(t, first, 2)
	assert.Equal(t, Magic, first[0].Magic)
	assert.Equal(t, uint32(1000), first[0].Sequence)
	assert.Equal(t, CmdEmpty, first[0].Cmd)
	assert.Equal(t, uint32(2000), first[1].Sequence)
	assert.Equal(t, CmdRemotePlay, first[1].Cmd)
	assert.Equal(t, uint32(1<<8|5), first[1].Args[0])
	assert.Equal(t, uint32(80), first[1].Args[1])
	assert.Equal(t, uint32(105<<17), first[1].Args[2])
	assert.Equal(t, uint32(0), first[1].Args[3])
	assert.Equal(t, uint32(0), first[1].DataLength)

	// the second connection only heartbeats
	for i, h := range byConn[1] {
		assert.Equal(t, CmdEmpty, h.Cmd)
		assert.Equal(t, uint32(1000*(i+1)), h.Sequence)
	}

	select {
	case r := <-replies:
		assert.Equal(t, CmdHello, r.Header.Cmd)
		assert.Equal(t, []byte("hi"), r.Data)
	case <-time.After(time.Second):
		t.Fatal("No reply drained")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRemotePlayOnce(t *testing.T) {
	got := make(chan Reply, 8)
	c, err := Dial(context.Background(), listen(t, got))
	require.NoError(t, err)
	defer c.Disconnect()
	require.NoError(t, c.RemotePlay(RemotePlaySettings{Quality: 50}))
	assert.ErrorIs(t, c.RemotePlay(RemotePlaySettings{Quality: 50}), ErrRemotePlayAlreadySent)

	rp := <-got
	assert.Equal(t, uint32(0), rp.Header.Args[0])
	assert.Equal(t, uint32(50), rp.Header.Args[1])
}

func TestSendWithData(t *testing.T) {
	got := make(chan Reply, 8)
	c, err := Dial(context.Background(), listen(t, got))
	require.NoError(t, err)
	defer c.Disconnect()

	require.NoError(t, c.Send(typeData, CmdWriteSave, []uint32{7}, []byte("save")))
	r := <-got
	assert.Equal(t, typeData, r.Header.Type)
	assert.Equal(t, CmdWriteSave, r.Header.Cmd)
	assert.Equal(t, uint32(7), r.Header.Args[0])
	assert.Equal(t, []byte("save"), r.Data)

	assert.Error(t, c.Send(typeNormal, CmdHello, make([]uint32, 17), nil))
}

func TestMaybeHeartbeat(t *testing.T) {
	got := make(chan Reply, 8)
	c, err := Dial(context.Background(), listen(t, got))
	require.NoError(t, err)
	defer c.Disconnect()
	c.heartbeatInterval = time.Hour

	require.NoError(t, c.MaybeHeartbeat())
	require.NoError(t, c.MaybeHeartbeat())
	require.NoError(t, c.Send(typeNormal, CmdHello, nil, nil))

	assert.Equal(t, CmdEmpty, (<-got).Header.Cmd)
	assert.Equal(t, CmdHello, (<-got).Header.Cmd)
}

func TestReadReply(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var buf bytes.Buffer
		binary.Write(&buf, binary.LittleEndian, Header{Magic: Magic, Cmd: CmdPidList, DataLength: 3})
		buf.WriteString("abc")
		binary.Write(&buf, binary.LittleEndian, Header{Magic: 1})
		binary.Write(&buf, binary.LittleEndian, Header{Magic: Magic, DataLength: MaxReplyData + 1})
		conn.Write(buf.Bytes())
		time.Sleep(2 * ReadTimeout)
	}()

	c, err := Dial(context.Background(), l.Addr().String())
	require.NoError(t, err)
	defer c.Disconnect()

	r, err := c.ReadReply()
	require.NoError(t, err)
	assert.Equal(t, CmdPidList, r.Header.Cmd)
	assert.Equal(t, []byte("abc"), r.Data)

	_, err = c.ReadReply()
	assert.ErrorIs(t, err, ErrBadMagic)

	// the length is not trusted
	_, err = c.ReadReply()
	assert.ErrorIs(t, err, ErrReplyTooLarge)

	// nothing more: an idle connection times out
	_, err = c.ReadReply()
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "RemotePlay", CmdRemotePlay.String())
	assert.Equal(t, "Unknown", Command(500).String())
}
