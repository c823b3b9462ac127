package webcast

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/greendrake/server_client_hierarchy"
	"golang.org/x/net/websocket"
)

const WriteTimeout = 100 * time.Millisecond

// Client is a principally client Node.
// It runs standalone initially, and, upon establishing connection with the browser, it attaches as a client to the Caster.
// Every chunk it gets from the caster is one JPEG, sent as one binary websocket message.
type Client struct {
	server_client_hierarchy.Node
	caster             *Caster
	wsReadyChannel     chan bool
	wsGone             chan struct{}
	stopCommandChannel chan bool
	served             bool
	ws                 *websocket.Conn
	wsReady            bool
	wsWriteMutex       sync.Mutex
	sent               uint64
}

func NewClient(c *gin.Context, caster *Caster) *Client {
	client := &Client{
		caster:         caster,
		wsReadyChannel: make(chan bool),
		wsGone:         make(chan struct{}),
	}
	client.GetNode().ID = "Client " + uuid.New().String() + ", caster " + caster.GetNode().ID
	client.SetPrincipallyClient(true)
	client.SetTask(func(ch chan bool) {
		client.stopCommandChannel = ch
		handler := websocket.Handler(client.wsHandler)
		handler.ServeHTTP(c.Writer, c.Request)
		close(client.wsGone)
		if !client.served {
			// Handshake failed, nobody has consumed the stop command yet
			go client.Stop()
			<-ch
		}
	})
	client.SetIChunkHandler(client.jpegChunkHandler)
	caster.viewers.Add(1)
	client.On("stop", func(args ...any) {
		caster.viewers.Add(-1)
	})
	caster.AddClient(client) // client will start receiving frames from the caster now. They will build up in the queue until the websocket is ready
	glog.V(2).Infof("Creating client %v", client.GetNode().ID)
	return client
}

func (c *Client) jpegChunkHandler(chunk any) {
	if !c.wsReady {
		select {
		case <-c.wsReadyChannel:
			c.wsReady = true
		case <-c.wsGone:
			return
		}
	}
	data, ok := chunk.([]byte)
	if !ok {
		return
	}
	c.wsWriteMutex.Lock()
	c.writeToWS(data)
}

func (c *Client) writeToWS(data []byte) {
	defer c.wsWriteMutex.Unlock()
	if c.ws != nil {
		err := c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err != nil {
			// This will loop back to jpegChunkHandler() in order to flush the input queue,
			// so send it to its own goroutine to avoid deadlock:
			go c.stopAndClose()
			return
		}
		err = websocket.Message.Send(c.ws, data)
		if err != nil {
			glog.V(2).Infof("Message send error, stopping %v", c.GetNode().ID)
			go c.stopAndClose()
			return
		}
		c.sent++
	}
}

func (c *Client) wsHandler(ws *websocket.Conn) {
	defer c.stopAndClose()
	c.served = true
	c.wsWriteMutex.Lock()
	c.ws = ws
	c.wsWriteMutex.Unlock()
	// This is needed to detect WS disconnection by the browser
	go func() {
		var message string
		for {
			if err := websocket.Message.Receive(ws, &message); err != nil {
				c.stopAndClose()
				return
			}
		}
	}()
	select {
	case c.wsReadyChannel <- true: // Wait for the chunk handler to receive from this channel. Note that it may never do so if there are no chunks!
	case <-c.stopCommandChannel:
		return
	case <-c.Node.Ctx.Done():
		go c.Stop()
		<-c.stopCommandChannel
		return
	}
	select {
	case <-c.stopCommandChannel:
	case <-c.Node.Ctx.Done():
		go c.Stop()
		<-c.stopCommandChannel
	}
}

func (c *Client) stopAndClose() {
	c.wsWriteMutex.Lock()
	_ws := c.ws
	c.ws = nil
	c.wsWriteMutex.Unlock()
	if _ws != nil {
		_ws.Close()
		glog.V(2).Infof("Closed %v after %d frames", c.GetNode().ID, c.sent)
	}
	// Stop flushes the input queue, whose handler takes wsWriteMutex, so it must not be held here
	c.Stop()
}
