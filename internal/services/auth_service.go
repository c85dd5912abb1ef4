package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"squadlink/config"
	squadlink_errors "squadlink/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier checks access tokens issued by the platform's auth service.
// The viewer id is the token subject.
type TokenVerifier struct {
	jwtSecret []byte
	leeway    time.Duration
}

func NewTokenVerifier(cfg *config.Config) *TokenVerifier {
	return &TokenVerifier{
		jwtSecret: []byte(cfg.JWTSecret),
		leeway:    30 * time.Second,
	}
}

type AccessClaims struct {
	ViewerID string `json:"sub"`
	jwt.RegisteredClaims
}

// ParseAccessToken validates tokenString and returns its claims.
func (v *TokenVerifier) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, squadlink_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, squadlink_errors.ErrUnauthorized
		}
		return v.jwtSecret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %v", squadlink_errors.ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.ViewerID == "" {
		return AccessClaims{}, squadlink_errors.ErrUnauthorized
	}
	return *claims, nil
}

// HTTPStatus maps a service error to its response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, squadlink_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, squadlink_errors.ErrUnauthorized), errors.Is(err, squadlink_errors.ErrNotAuthenticated):
		return 401
	case errors.Is(err, squadlink_errors.ErrForbidden):
		return 403
	case errors.Is(err, squadlink_errors.ErrNotFound):
		return 404
	case errors.Is(err, squadlink_errors.ErrAlreadyExists):
		return 409
	case errors.Is(err, squadlink_errors.ErrRateLimited):
		return 429
	case errors.Is(err, squadlink_errors.ErrServiceUnavailable):
		return 503
	default:
		return 500
	}
}

type ctxKey string

var viewerIDKey ctxKey = "viewer_id"

func WithViewerContext(ctx context.Context, viewerID string) context.Context {
	return context.WithValue(ctx, viewerIDKey, viewerID)
}

func ViewerIDFromContext(ctx context.Context) (string, bool) {
	viewerID, ok := ctx.Value(viewerIDKey).(string)
	return viewerID, ok && viewerID != ""
}
