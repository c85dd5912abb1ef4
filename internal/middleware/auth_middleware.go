package middleware

import (
	"context"
	"net/http"
	"strings"

	"squadlink/internal/services"
	"squadlink/internal/transport/httpdto"
	"squadlink/pkg/logger"

	"github.com/gin-gonic/gin"
)

func AuthMiddleware(verifier *services.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		claims, err := verifier.ParseAccessToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		ctx := services.WithViewerContext(c.Request.Context(), claims.ViewerID)
		ctx = context.WithValue(ctx, logger.UserIdKey, claims.ViewerID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
