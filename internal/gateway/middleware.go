package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/canonica-labs/meshgate/internal/auth"
	"github.com/canonica-labs/meshgate/pkg/api"
	"github.com/canonica-labs/meshgate/pkg/models"
)

const queryIDKey = "meshgate.query_id"

// CORSMiddleware sets CORS headers for allowedOrigin and answers preflight
// requests.
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", api.HeaderQueryID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// CredentialMiddleware attaches the caller's Authorization header, if any,
// to the request context. It never rejects a request.
func CredentialMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cred, ok := auth.ParseAuthorization(c.GetHeader(api.HeaderAuthorization)); ok {
			c.Request = c.Request.WithContext(auth.ContextWithCredential(c.Request.Context(), cred))
		}
		c.Next()
	}
}

// QueryIDMiddleware assigns every request a query ID, reusing X-Request-ID
// when the caller sent one, and echoes it in X-Query-ID.
func QueryIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(api.HeaderRequestID)
		if id == "" {
			id = NewQueryID()
		}
		c.Set(queryIDKey, id)
		c.Header(api.HeaderQueryID, id)
		c.Next()
	}
}

// LoggingMiddleware logs every request once it has been served.
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"query_id", c.GetString(queryIDKey),
			"latency_ms", time.Since(started).Milliseconds(),
		)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with a detail body.
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error("panic while serving request", "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
			Detail: "internal server error",
		})
	})
}
