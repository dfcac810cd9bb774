package middleware

import (
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request using the global tracer provider
func Tracing(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// SpanActor copies the request id and actor onto the active span. Mount it
// after Actor.
func SpanActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span := trace.SpanFromContext(ctx)
		if span.IsRecording() {
			if id := logger.GetRequestID(ctx); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if a, ok := logger.ActorFrom(ctx); ok {
				span.SetAttributes(attribute.String("actor_role", a.Role))
				if ref := a.TenantRef(); ref != nil {
					span.SetAttributes(attribute.String("tenant_id", ref.String()))
				}
			}
		}
		c.Next()
	}
}
