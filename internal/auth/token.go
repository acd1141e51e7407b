// SPDX-License-Identifier: MIT

// Package auth provides token issuance/verification, role gates, user
// management, and the per-request actor context.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cruxlive/cruxd/internal/log"
)

// TokenCookie is the cookie checked when no Authorization header or query
// token is present. The name is part of the deployed client contract.
const TokenCookie = "escalada_token"

// SpectatorTTL is the lifetime of anonymous spectator tokens.
const SpectatorTTL = 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrExpiredToken = errors.New("token_expired")
)

// Claims is the verified token payload.
type Claims struct {
	Role  string `json:"role"`
	Boxes []int  `json:"boxes,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access tokens (HS256).
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService builds a token service. An empty secret yields an
// ephemeral random one, which invalidates all tokens on restart; fine for
// development, logged loudly for everything else.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate ephemeral secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		logger := log.WithComponent("auth")
		logger.Warn().
			Msg("JWT_SECRET not set, using ephemeral secret; tokens will not survive restarts")
	}
	if ttl <= 0 {
		ttl = 10 * time.Hour
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates a signed token for the given subject with the service TTL.
func (s *TokenService) Issue(sub, role string, boxes []int) (string, error) {
	return s.issue(sub, role, boxes, s.ttl)
}

// Spectator creates an anonymous 24h read-only token for the public plane.
func (s *TokenService) Spectator() (string, error) {
	return s.issue("spectator", RoleSpectator, nil, SpectatorTTL)
}

func (s *TokenService) issue(sub, role string, boxes []int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  role,
		Boxes: boxes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies signature and expiry and returns the claims.
func (s *TokenService) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractToken pulls the raw token from a request: Authorization bearer
// header first, then the token query parameter (WebSocket clients), then
// the session cookie.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[len("bearer "):])
		}
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return q
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}
