package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/golang-jwt/jwt/v5"
)

const defaultAccessTokenTTL = time.Hour

// NewJWTTokenGenerator creates a new HS256 token generator
func NewJWTTokenGenerator(secret, issuer string, ttl time.Duration) *JWTTokenGenerator {
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	return &JWTTokenGenerator{
		Secret:         []byte(secret),
		Issuer:         issuer,
		AccessTokenTTL: ttl,
		now:            time.Now,
	}
}

// GenerateAccessToken creates a new access token
func (j *JWTTokenGenerator) GenerateAccessToken(userID, role string) (string, error) {
	now := j.now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(j.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.Issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTTokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}

// WithClock replaces the time source used for issuing and expiry checks.
func (j *JWTTokenGenerator) WithClock(now func() time.Time) *JWTTokenGenerator {
	j.now = now
	return j
}
