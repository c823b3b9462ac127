package ntr

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/util"
)

const DefaultReconnect = 3 * time.Second

// Controller owns the control channel for the life of the viewer. The first connection
// that gets through sends RemotePlay, after which the handheld hangs up and starts
// streaming. Every connection after that is only kept alive with heartbeats.
type Controller struct {
	Address   string
	Settings  RemotePlaySettings
	Reconnect time.Duration
	Heartbeat time.Duration
	OnReply   func(*Reply)

	requested atomic.Bool
}

func NewController(address string, s RemotePlaySettings) *Controller {
	return &Controller{
		Address:   address,
		Settings:  s,
		Reconnect: DefaultReconnect,
		Heartbeat: HeartbeatInterval,
	}
}

// Run blocks until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	for {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			glog.Warningf("NTR %v: %v, reconnecting in %v", c.Address, err, c.Reconnect)
		}
		if !util.SleepCtx(ctx, c.Reconnect) {
			return
		}
	}
}

// Requested tells whether RemotePlay has gone out.
func (c *Controller) Requested() bool {
	return c.requested.Load()
}

func (c *Controller) session(ctx context.Context) error {
	client, err := Dial(ctx, c.Address)
	if err != nil {
		return err
	}
	defer client.Disconnect()
	client.heartbeatInterval = c.Heartbeat
	if err = client.Heartbeat(); err != nil {
		return err
	}
	if !c.requested.Load() {
		if err = client.RemotePlay(c.Settings); err != nil {
			return err
		}
		c.requested.Store(true)
		glog.Infof("RemotePlay requested from %v (quality %d, QoS %d)", c.Address, c.Settings.Quality, c.Settings.QoS)
		return nil
	}
	return client.KeepAlive(ctx, c.OnReply)
}
