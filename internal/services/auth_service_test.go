package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"squadlink/config"
	squadlink_errors "squadlink/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func claimsFor(sub string, exp time.Time) AccessClaims {
	return AccessClaims{
		ViewerID:         sub,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}
}

func TestParseAccessToken(t *testing.T) {
	v := NewTokenVerifier(&config.Config{JWTSecret: "s3cret"})
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", sign(t, "s3cret", jwt.SigningMethodHS256, claimsFor("alice", future)), true},
		{"wrong secret", sign(t, "other", jwt.SigningMethodHS256, claimsFor("alice", future)), false},
		{"expired", sign(t, "s3cret", jwt.SigningMethodHS256, claimsFor("alice", time.Now().Add(-time.Hour))), false},
		{"no subject", sign(t, "s3cret", jwt.SigningMethodHS256, claimsFor("", future)), false},
		{"no expiry", sign(t, "s3cret", jwt.SigningMethodHS256, AccessClaims{ViewerID: "alice"}), false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := v.ParseAccessToken(tc.token)
			if tc.ok {
				if err != nil || claims.ViewerID != "alice" {
					t.Fatalf("expected alice, got %+v, %v", claims, err)
				}
				return
			}
			if !errors.Is(err, squadlink_errors.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestViewerContext(t *testing.T) {
	if _, ok := ViewerIDFromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry a viewer")
	}
	id, ok := ViewerIDFromContext(WithViewerContext(context.Background(), "alice"))
	if !ok || id != "alice" {
		t.Fatalf("got %q, %v", id, ok)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		squadlink_errors.ErrInvalidInput:       400,
		squadlink_errors.ErrNotAuthenticated:   401,
		squadlink_errors.ErrRateLimited:        429,
		squadlink_errors.ErrServiceUnavailable: 503,
		errors.New("boom"):                     500,
	}
	for err, want := range cases {
		if got := HTTPStatus(err); got != want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", err, got, want)
		}
	}
}
