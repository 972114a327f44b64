package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"PromptChat/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	RequestIDHeader      = "X-Request-Id"
	ConversationIDHeader = "X-Conversation-Id"
)

type requestIDKey struct{}

// RequestIDMiddleware ensures every request has a stable request ID.
// - Reads X-Request-Id header if present, otherwise generates one
// - Stores it in both Gin context and standard context
// - Echoes it back in the response header
// - Logs method, path, status and latency
func RequestIDMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if strings.TrimSpace(rid) == "" {
			rid = uuid.NewString()
		}

		c.Set("request_id", rid)
		ctx := context.WithValue(c.Request.Context(), requestIDKey{}, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(RequestIDHeader, rid)

		start := time.Now()
		c.Next()

		logger.Info("request",
			"request_id", rid,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// GetRequestID extracts the request ID from a standard context
func GetRequestID(ctx context.Context) string {
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok {
		return rid
	}
	return ""
}

// ConversationMiddleware selects the memory a request reads and appends to.
// With client scope the X-Conversation-Id header picks the conversation, and a new one
// is minted when it is missing; otherwise every request shares the default conversation.
func ConversationMiddleware(scope string) gin.HandlerFunc {
	scoped := conversationScoped(scope)
	return func(c *gin.Context) {
		if !scoped {
			c.Next()
			return
		}

		id := strings.TrimSpace(c.GetHeader(ConversationIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set(ConversationIDHeader, id)
		c.Request = c.Request.WithContext(session.WithConversation(c.Request.Context(), id))
		c.Next()
	}
}

// RateLimitMiddleware rejects requests beyond rps (with the given burst) across all clients.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
