// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cruxlive/cruxd/internal/auth"
	"github.com/cruxlive/cruxd/internal/log"
)

// requestLogger attaches a request id and emits one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger := log.WithContext(ctx, s.logger)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("ip", auth.ClientIP(r)).
			Msg("request")
	})
}

// requireAuth verifies the token and stores claims plus the actor record
// in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := auth.ExtractToken(r)
		if raw == "" {
			writeUnauthorized(w, "token_required")
			return
		}
		claims, err := s.tokens.Decode(raw)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				writeUnauthorized(w, "token_expired")
				return
			}
			writeUnauthorized(w, "invalid_token")
			return
		}
		ctx := auth.WithClaims(r.Context(), claims)
		ctx = auth.WithActor(ctx, auth.NewActor(claims, r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates admin-only routes. Must run after requireAuth.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(auth.ClaimsFromContext(r.Context())) {
			writeForbidden(w, "forbidden_role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// publicClaims verifies the spectator-or-better token on public reads.
func (s *Server) publicClaims(w http.ResponseWriter, r *http.Request) *auth.Claims {
	raw := auth.ExtractToken(r)
	if raw == "" {
		writeUnauthorized(w, "token_required")
		return nil
	}
	claims, err := s.tokens.Decode(raw)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			writeUnauthorized(w, "token_expired")
			return nil
		}
		writeUnauthorized(w, "invalid_token")
		return nil
	}
	if !auth.CanPublic(claims) {
		writeForbidden(w, "forbidden_role")
		return nil
	}
	return claims
}
