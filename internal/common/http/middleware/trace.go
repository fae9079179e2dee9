package middleware

import (
	"context"
	"strings"

	"autograde/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
)

// TraceContextMiddleware carries the trace and request ids of an API call into
// the request context so grading logs triggered by it can be correlated. The
// caller's user id is set by the auth middleware from its token, never from a
// header.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		propagateID(c, traceIDHeader, "trace_id", contextkey.TraceID)
		propagateID(c, requestIDHeader, "request_id", contextkey.RequestID)
		c.Next()
	}
}

// propagateID reuses the incoming header value or mints a new one.
// The id is stored under ginKey as well for response envelopes.
func propagateID(c *gin.Context, header, ginKey string, key interface{}) {
	id := strings.TrimSpace(c.GetHeader(header))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(ginKey, id)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), key, id))
	c.Writer.Header().Set(header, id)
}
