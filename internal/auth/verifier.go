// Package auth verifies the bearer credentials presented by websocket
// clients. Tokens are HMAC-SHA256 signed JWTs carrying the user's
// identity; the hub never sees raw tokens beyond handing them to the
// Verifier.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taskforge/pipeline-api/internal/config"
	"github.com/taskforge/pipeline-api/internal/platform/logger"
)

// Common verification errors.
var (
	// ErrInvalidToken indicates the token is malformed, carries an
	// invalid signature, or was signed with an unexpected method.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token's expiry has passed.
	ErrExpiredToken = errors.New("token expired")
)

// Identity is the verified principal behind a token.
type Identity struct {
	UserID   int64
	Username string
	Role     string
}

// Verifier checks a bearer credential and returns the identity it
// represents.
// Version: 1.0
type Verifier interface {
	// Verify validates the token and returns the identity encoded in it.
	// Returns ErrExpiredToken or ErrInvalidToken on failure.
	Verify(ctx context.Context, token string) (*Identity, error)
}

// hmacVerifier implements Verifier using HMAC-SHA256 signing.
type hmacVerifier struct {
	signingKey []byte
	clockSkew  time.Duration

	// timeFunc is injectable for testing.
	timeFunc func() time.Time
}

// identityClaims defines the structure of JWT claims we use.
type identityClaims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var _ Verifier = (*hmacVerifier)(nil)

// NewVerifier creates a Verifier from the auth configuration.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &hmacVerifier{
		signingKey: []byte(cfg.JWTSecret),
		clockSkew:  2 * time.Minute,
		timeFunc:   time.Now,
	}, nil
}

// Verify implements Verifier.
func (v *hmacVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	log := logger.FromContext(ctx)
	now := v.timeFunc()

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&identityClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.signingKey, nil
		},
		parserOpts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			log.Debug("token validation failed: token expired", "error", err)
			return nil, ErrExpiredToken
		}
		log.Debug("token validation failed", "error", err)
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*identityClaims)
	if !ok || !token.Valid {
		log.Debug("token validation failed: invalid claims")
		return nil, ErrInvalidToken
	}

	log.Debug("token validated successfully",
		"user_id", claims.UserID,
		"token_id", claims.ID)

	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

// SignToken creates a signed token for the given identity. Used by
// operator tooling and tests; the pipeline itself never issues tokens.
func SignToken(secret string, identity Identity, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := identityClaims{
		UserID:   identity.UserID,
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", identity.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token with HMAC-SHA256: %w", err)
	}
	return signed, nil
}
