// Package bridge is the HTTP face of the viewer: decode requests, direct frame updates,
// live stats, and the websocket stream of each screen.
package bridge

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/greendrake/ntrview/dispatch"
	"github.com/greendrake/ntrview/framebuffer"
	"github.com/greendrake/ntrview/render"
	"github.com/greendrake/ntrview/util"
	"github.com/greendrake/ntrview/view"
	"github.com/greendrake/ntrview/webcast"
)

type Server struct {
	Dispatcher *dispatch.Dispatcher
	Views      map[string]*view.View
	Casters    map[string]*webcast.Caster
	// Extra stats merged into GET /stats, e.g. the ingest counters
	Extra func() map[string]any
}

type decodeRequest struct {
	Packets []byte `json:"packets"` // base64 in JSON
}

type decodeResponse struct {
	JPEG   []byte `json:"jpeg"`
	IsTop  bool   `json:"isTop"`
	Seq    uint64 `json:"seq"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type frameRequest struct {
	Frame string `json:"frame"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type screenStats struct {
	Primary bool              `json:"primary"`
	State   string            `json:"state"`
	FPS     float64           `json:"fps"`
	Buffer  framebuffer.Stats `json:"buffer"`
	Render  render.Stats      `json:"render"`
	Cast    *castStats        `json:"cast,omitempty"`
}

type castStats struct {
	Viewers int    `json:"viewers"`
	Encoded uint64 `json:"encoded"`
}

// Register mounts all routes on router.
func (s *Server) Register(router gin.IRouter) {
	router.POST("/decode", s.decode)
	router.POST("/frame/:screen", s.setFrame)
	router.GET("/stats", s.stats)
	webcast.Register(router, func(screen string) *webcast.Caster {
		return s.Casters[screen]
	})
}

// Handler builds a bare engine with the middleware chain, for embedding and tests.
func (s *Server) Handler() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), CorrelationID(), webcast.CrossOrigin())
	s.Register(router)
	return router
}

func Run(ctx context.Context, addr string, s *Server) error {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard
	router, err := graceful.Default(graceful.WithAddr(addr))
	if err != nil {
		return err
	}
	router.Use(CorrelationID(), webcast.CrossOrigin())
	s.Register(router)
	glog.Infof("Bridge listening on %v", addr)
	return router.RunWithContext(ctx)
}

func statusOf(err error) int {
	switch util.Kind(err) {
	case util.KindMalformedInput:
		return http.StatusUnprocessableEntity
	case util.KindDecode:
		return http.StatusBadGateway
	}
	return http.StatusServiceUnavailable
}

func fail(c *gin.Context, err error) {
	glog.Warningf("%v %v [%v]: %v", c.Request.Method, c.Request.URL.Path, CIDFromContext(c.Request.Context()), err)
	c.AbortWithStatusJSON(statusOf(err), errorResponse{Kind: util.Kind(err), Message: err.Error()})
}

func (s *Server) decode(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, &util.MalformedInputError{Msg: "Bad decode request: " + err.Error()})
		return
	}
	f, err := s.Dispatcher.Dispatch(c.Request.Context(), req.Packets)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, decodeResponse{
		JPEG:   f.Payload,
		IsTop:  f.IsPrimary,
		Seq:    f.Seq,
		Width:  f.Width(),
		Height: f.Height(),
	})
}

func (s *Server) setFrame(c *gin.Context) {
	v, ok := s.Views[c.Param("screen")]
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, &util.MalformedInputError{Msg: "Bad frame request: " + err.Error()})
		return
	}
	if err := v.SetFrame(req.Frame); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) stats(c *gin.Context) {
	screens := make(map[string]screenStats, len(s.Views))
	for name, v := range s.Views {
		st := screenStats{
			Primary: v.Primary,
			State:   v.State().String(),
			FPS:     v.FPS(),
			Buffer:  v.Buffer().Stats(),
			Render:  v.RenderStats(),
		}
		if caster, ok := s.Casters[name]; ok {
			st.Cast = &castStats{Viewers: caster.Viewers(), Encoded: caster.Encoded()}
		}
		screens[name] = st
	}
	out := gin.H{"screens": screens}
	if s.Dispatcher != nil {
		out["dispatcher"] = s.Dispatcher.Stats()
	}
	if s.Extra != nil {
		for k, v := range s.Extra() {
			out[k] = v
		}
	}
	c.JSON(http.StatusOK, out)
}
