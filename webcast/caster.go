package webcast

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/util"
	"github.com/greendrake/server_client_hierarchy"
)

const (
	DefaultFPS     uint8 = 30
	DefaultQuality       = 75
)

// Caster takes the images a surface posts and broadcasts them, JPEG encoded, to its
// Clients. Only the newest image is kept between ticks, so a slow caster skips frames
// instead of queueing them.
//
// It is a server Node: it runs while at least one viewer is attached and stops with the last one.
type Caster struct {
	server_client_hierarchy.Node
	Name    string
	Quality int

	mu      sync.Mutex
	latest  *image.RGBA
	fresh   bool
	pts     *PTS
	encoded uint64
	viewers atomic.Int32
}

func NewCaster(name string, fps uint8) (*Caster, error) {
	if fps == 0 {
		fps = DefaultFPS
	}
	pts, err := NewPTS(fps)
	if err != nil {
		return nil, err
	}
	caster := &Caster{
		Name:    name,
		Quality: DefaultQuality,
		pts:     pts,
	}
	caster.GetNode().ID = "Caster [" + name + "]"
	caster.SetContext(context.Background())
	caster.SetTask(func(ch chan bool) {
		for {
			select {
			case <-ch:
				return
			case <-caster.Node.Ctx.Done():
				<-ch
				return
			default:
				caster.tick()
				util.SleepCtx(caster.Node.Ctx, time.Duration(caster.pts.Next())*time.Millisecond)
			}
		}
	})
	return caster, nil
}

// Post is a surface.PostHandler.
func (c *Caster) Post(img *image.RGBA) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = img
	c.fresh = true
}

// Encode returns the newest image as JPEG, or nil when nothing new was posted since the last call.
func (c *Caster) Encode() ([]byte, error) {
	c.mu.Lock()
	img, fresh := c.latest, c.fresh
	c.fresh = false
	c.mu.Unlock()
	if !fresh || img == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.Quality}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.encoded++
	c.mu.Unlock()
	return buf.Bytes(), nil
}

func (c *Caster) Encoded() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoded
}

// Viewers is the number of websocket clients currently attached.
func (c *Caster) Viewers() int {
	return int(c.viewers.Load())
}

func (c *Caster) tick() {
	data, err := c.Encode()
	if err != nil {
		glog.Errorf("%v: %v", c.GetNode().ID, err)
		return
	}
	if data != nil {
		c.Output(data)
	}
}
