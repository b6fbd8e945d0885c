package middleware

import (
	"context"
	"time"

	"telecare/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestLoggingMiddleware assigns each request an id and logs one line per
// request, annotated with the participant and room when the auth layer has
// identified them.
func RequestLoggingMiddleware(zl *zap.Logger) gin.HandlerFunc {
	cl := logger.NewContextLogger(zl)
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)

		ctx := context.WithValue(c.Request.Context(), logger.ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		ctx = c.Request.Context()
		if userID := c.GetString("user_id"); userID != "" {
			ctx = context.WithValue(ctx, logger.ContextKeyUserID, userID)
		}
		if roomID := c.GetString("room_id"); roomID != "" {
			ctx = context.WithValue(ctx, logger.ContextKeyRoomID, roomID)
		}

		cl.LogRequest(ctx, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
