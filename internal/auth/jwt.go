// Package auth validates bearer tokens shared by the REST and WebSocket
// transports (spec.md §6 EXPANDED: Authorization header for REST, token
// query parameter for WebSocket, mirroring the teacher's handshake auth).
package auth

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"

	"github.com/AutoFlowLabs/ios-bridge/internal/config"
)

// Claims carries the registered claims plus the subject used as the
// caller's identity for logging and metrics.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator validates bearer tokens against the configured secret and an
// optional Redis-backed revocation list.
type Validator struct {
	cfg   config.AuthConfig
	redis *redis.Client
}

// NewValidator constructs a Validator. redisClient may be nil, in which
// case revocation checks are skipped (fail-open, matching the teacher).
func NewValidator(cfg config.AuthConfig, redisClient *redis.Client) *Validator {
	return &Validator{cfg: cfg, redis: redisClient}
}

// ValidateToken parses and validates tokenString, checking the signature,
// standard claims, and the revocation list.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse/validation error: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("could not cast claims")
	}

	revoked, err := v.isRevoked(ctx, claims.ID)
	if err != nil {
		// Redis outage must not block every caller; fail open and let the
		// call through unrevoked.
		return claims, nil
	}
	if revoked {
		return nil, fmt.Errorf("token has been revoked")
	}
	return claims, nil
}

func (v *Validator) isRevoked(ctx context.Context, jti string) (bool, error) {
	if v.redis == nil || jti == "" {
		return false, nil
	}
	key := fmt.Sprintf("%s:%s", v.cfg.RevocationListKey, jti)
	exists, err := v.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}
