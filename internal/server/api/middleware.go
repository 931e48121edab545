package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/errors"
	"github.com/taskforge/taskforge/internal/common/logger"
)

// Observe tags every request with a correlation id and writes one
// access line when it finishes. The id rides the request context
// under logger.CorrelationIDKey, so any handler log made through
// Logger.WithContext carries it automatically.
func Observe(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := uuid.NewString()
		ctx := context.WithValue(c.Request.Context(), logger.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", correlationID)

		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		log.WithContext(ctx).Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

// Recovery turns a handler panic into the API's uniform error
// envelope instead of tearing the connection down. The correlation id
// in the log line ties the panic to the access line.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithContext(c.Request.Context()).Error("handler panicked",
					zap.Any("panic", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					errors.Internal("request handler panicked", nil))
			}
		}()

		c.Next()
	}
}
