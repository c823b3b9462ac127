package bridge

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
)

type cidKey struct{}

// CIDHeader carries the correlation id. An incoming value is kept, otherwise a new KSUID is made.
const CIDHeader = "X-NTR-CID"

func WithCID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, cidKey{}, cid)
}

func CIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(cidKey{}).(string); ok {
		return v
	}
	return ""
}

func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CIDHeader)
		if cid == "" {
			cid = ksuid.New().String()
		}
		c.Request = c.Request.WithContext(WithCID(c.Request.Context(), cid))
		c.Writer.Header().Set(CIDHeader, cid)
		c.Next()
	}
}
