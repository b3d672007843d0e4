package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrNoToken       = errors.New("no access token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrRefreshFailed = errors.New("token refresh failed")
)

// StandardClaims are the claims read from an access token. Only the expiry is
// load-bearing; the subject is used to tag logs.
type StandardClaims struct {
	Sub    string `json:"sub"`
	UserId string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenInfo is what the guard learns from decoding a token.
type TokenInfo struct {
	UserID string
	// ExpiresAt is zero when the token carries no exp claim.
	ExpiresAt time.Time
}

// DecodeToken parses a JWT without verifying its signature. The hub and the
// REST backend verify tokens; the client only needs the expiry.
func DecodeToken(tokenString string) (TokenInfo, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &StandardClaims{})
	if err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*StandardClaims)
	if !ok {
		return TokenInfo{}, ErrInvalidToken
	}

	info := TokenInfo{UserID: claims.Sub}
	if info.UserID == "" {
		info.UserID = claims.UserId
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}

	return info, nil
}
