// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Actor identifies who issued a request; recorded on every audit event.
type Actor struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
}

type actorKey struct{}

type claimsKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored in ctx, zero value if absent.
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{}
}

// WithClaims stores verified claims in the context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored in ctx, nil if absent.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return c
	}
	return nil
}

// NewActor builds an actor record from claims and request metadata.
func NewActor(c *Claims, r *http.Request) Actor {
	a := Actor{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if c != nil {
		a.Username = c.Subject
		a.Role = c.Role
	}
	return a
}

// ClientIP extracts the originating client IP, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
