package webcast

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greendrake/server_client_hierarchy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type sink struct {
	server_client_hierarchy.Node
	mu  sync.Mutex
	got [][]byte
}

func newSink() *sink {
	s := &sink{}
	s.SetPrincipallyClient(true)
	s.SetIChunkHandler(func(chunk any) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.got = append(s.got, chunk.([]byte))
	})
	return s
}

func (s *sink) first() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		return nil
	}
	return s.got[0]
}

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 40, 24))
	for x := 0; x < 40; x++ {
		img.Set(x, 3, color.RGBA{G: 255, A: 255})
	}
	return img
}

func TestPTSRound(t *testing.T) {
	for fps, spf := range map[uint8]uint8{25: 40, 50: 20, 10: 100} {
		pts, err := NewPTS(fps)
		require.NoError(t, err)
		for range 5 {
			assert.Equal(t, spf, pts.Next())
		}
	}
}

func TestPTSFractional(t *testing.T) {
	pts, err := NewPTS(30)
	require.NoError(t, err)
	for range 30 {
		assert.Contains(t, []uint8{33, 34}, pts.Next())
	}
}

func TestPTSTooLow(t *testing.T) {
	_, err := NewPTS(2)
	assert.Error(t, err)
}

func TestCasterEncode(t *testing.T) {
	c, err := NewCaster("top", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultFPS, c.pts.FPS)

	data, err := c.Encode()
	require.NoError(t, err)
	assert.Nil(t, data)

	img := image.NewRGBA(image.Rect(0, 0, 40, 24))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	c.Post(img)
	data, err = c.Encode()
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
	assert.Equal(t, uint64(1), c.Encoded())

	// nothing new posted
	data, err = c.Encode()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestStreamUnknownScreen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CrossOrigin())
	Register(router, func(string) *Caster { return nil })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream/left", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/stream/left", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCasterDelivers(t *testing.T) {
	c, err := NewCaster("top", 25)
	require.NoError(t, err)
	assert.False(t, c.IsRunning())

	s := newSink()
	c.AddClient(s)
	assert.True(t, c.IsRunning())
	assert.True(t, s.IsRunning())

	img := testImage()
	assert.Eventually(t, func() bool {
		c.Post(img)
		return s.first() != nil
	}, 2*time.Second, 40*time.Millisecond)
	decoded, err := jpeg.Decode(bytes.NewReader(s.first()))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
	assert.NotZero(t, c.Encoded())

	// the caster lives only as long as somebody watches
	c.RemoveClient(s)
	assert.False(t, c.IsRunning())
	assert.False(t, s.IsRunning())
}

func TestStreamWebsocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, err := NewCaster("top", 25)
	require.NoError(t, err)
	router := gin.New()
	Register(router, func(screen string) *Caster {
		if screen == "top" {
			return c
		}
		return nil
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream/top", "", srv.URL)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return c.Viewers() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	defer close(done)
	go func() {
		img := testImage()
		for {
			select {
			case <-done:
				return
			case <-time.After(20 * time.Millisecond):
				c.Post(img)
			}
		}
	}()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var data []byte
	require.NoError(t, websocket.Message.Receive(ws, &data))
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 24), decoded.Bounds())

	ws.Close()
	assert.Eventually(t, func() bool {
		return c.Viewers() == 0 && !c.IsRunning()
	}, 2*time.Second, 10*time.Millisecond)
}
