package webcast

import (
	"github.com/gin-gonic/gin"
)

type CasterGetter func(screen string) *Caster

// Register mounts the viewer endpoint: GET /stream/:screen upgrades to a websocket
// carrying one binary JPEG message per cast frame.
func Register(router gin.IRouter, casterGetter CasterGetter) {
	router.GET("/stream/:screen", func(c *gin.Context) {
		caster := casterGetter(c.Param("screen"))
		if caster == nil || caster.IsStopping() {
			c.AbortWithStatus(404)
			return
		}
		client := NewClient(c, caster)
		client.Start()
		client.Wait()
	})
}

// CrossOrigin Access-Control-Allow-Origin any methods
func CrossOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
