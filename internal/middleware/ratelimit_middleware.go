package middleware

import (
	"context"
	"net/http"
	"strconv"

	"squadlink/internal/redis"
	"squadlink/internal/services"
	"squadlink/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// UploadLimiter bounds how many uploads a viewer may start per window.
type UploadLimiter interface {
	AllowUpload(ctx context.Context, viewerID string) (*redis.RateLimitResult, error)
}

// UploadRateLimitMiddleware must run after AuthMiddleware.
func UploadRateLimitMiddleware(limiter UploadLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		viewerID, ok := services.ViewerIDFromContext(c.Request.Context())
		if !ok {
			// No viewer context, skip rate limiting (auth middleware will handle)
			c.Next()
			return
		}

		result, err := limiter.AllowUpload(c.Request.Context(), viewerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "INTERNAL_ERROR"))
			c.Abort()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("upload rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
