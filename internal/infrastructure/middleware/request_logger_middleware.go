package middleware

import (
	"time"

	"medea/pkg/logger"
	"medea/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLoggerMiddleware tags the request context with a request id, the
// trace id and the addressed room, then logs one line per request.
// Mount it after TracingMiddleware so the span exists.
func RequestLoggerMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, id)

		ctx := logger.WithRequestID(c.Request.Context(), id)
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}
		if room := c.Param("room"); room != "" {
			ctx = logger.WithRoom(ctx, room, c.Param("member"))
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		log.LogRequest(ctx, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
