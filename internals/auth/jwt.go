package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryFromJWT returns the exp claim of a JWT access token without
// verifying it. Opaque tokens yield the zero time.
func ExpiryFromJWT(accessToken string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
