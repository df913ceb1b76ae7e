package httpmw

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Deadline attaches a timeout to the request context. Database work
// started under the request aborts when the deadline elapses, so no
// partial writes commit after it.
func Deadline(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
