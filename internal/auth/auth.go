package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT token claims
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenGenerator issues and verifies bearer tokens. Only tooling (seed, tests) issues
// tokens; the server only verifies them.
type TokenGenerator interface {
	GenerateAccessToken(userID, role string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type JWTTokenGenerator struct {
	Secret         []byte
	Issuer         string
	AccessTokenTTL time.Duration
	now            func() time.Time
}
