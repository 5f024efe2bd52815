package middleware

import (
	"crypto/rand"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with a ULID unless the caller supplied one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			generated, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
			if err == nil {
				id = generated.String()
			}
		}
		if id != "" {
			c.Writer.Header().Set(RequestIDHeader, id)
			c.Set("request_id", id)
		}
		c.Next()
	}
}
