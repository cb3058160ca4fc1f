package middleware

import (
	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TraceID returns Gin middleware to handle trace IDs for observability.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.Request.Header.Get(pkg.HeaderTraceId)
		if utils.IsEmpty(traceID) {
			traceID = uuid.New().String()
		}
		// Set in context for handlers/services (e.g., logging, event publish)
		c.Set(pkg.TraceId, traceID)
		// Propagate in the response header for clients/downstream tracing
		c.Writer.Header().Set(pkg.HeaderTraceId, traceID)
		c.Next()
	}
}
