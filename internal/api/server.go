// SPDX-License-Identifier: MIT

// Package api exposes the HTTP and WebSocket surface of the daemon.
package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cruxlive/cruxd/internal/auth"
	"github.com/cruxlive/cruxd/internal/backup"
	"github.com/cruxlive/cruxd/internal/config"
	"github.com/cruxlive/cruxd/internal/hub"
	"github.com/cruxlive/cruxd/internal/live"
	"github.com/cruxlive/cruxd/internal/log"
	"github.com/cruxlive/cruxd/internal/store"
)

// Server bundles the handler dependencies.
type Server struct {
	cfg     config.Config
	live    *live.Service
	hub     *hub.Hub
	tokens  *auth.TokenService
	users   *auth.UserService
	store   *store.Store
	backups *backup.Runner
	logger  zerolog.Logger

	originRegex *regexp.Regexp
}

// New builds the server. An invalid ALLOWED_ORIGIN_REGEX is rejected here
// rather than on the first request.
func New(cfg config.Config, svc *live.Service, h *hub.Hub, tokens *auth.TokenService, users *auth.UserService, st *store.Store, backups *backup.Runner) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		live:    svc,
		hub:     h,
		tokens:  tokens,
		users:   users,
		store:   st,
		backups: backups,
		logger:  log.WithComponent("api"),
	}
	if cfg.AllowedOriginRegex != "" {
		re, err := regexp.Compile(cfg.AllowedOriginRegex)
		if err != nil {
			return nil, err
		}
		s.originRegex = re
	}
	return s, nil
}

// originAllowed implements the CORS allowlist: exact origins first, then
// the optional regex. With nothing configured, every origin is allowed
// (development default).
func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 && s.originRegex == nil {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	if s.originRegex != nil && s.originRegex.MatchString(origin) {
		return true
	}
	return false
}

// Routes assembles the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return s.originAllowed(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/health/ready", s.handleHealthReady)
		r.Get("/health/live", s.handleHealthLive)

		r.Post("/auth/login", s.handleLogin)

		// public plane: spectator tokens are minted without credentials,
		// so the mint endpoint is IP rate limited
		r.Route("/public", func(r chi.Router) {
			r.With(httprate.Limit(
				10, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, "rate_limited")
				}),
			)).Post("/token", s.handlePublicToken)

			r.Get("/boxes", s.handlePublicBoxes)
			r.Get("/officials", s.handlePublicOfficials)
			r.Get("/ws", s.handlePublicWS)
			r.Get("/ws/{boxId}", s.handlePublicBoxWS)
		})

		r.Get("/ws/{boxId}", s.handleBoxWS)

		// authenticated REST surface
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/auth/me", s.handleMe)
			r.Post("/cmd", s.handleCommand)
			r.Get("/state/{boxId}", s.handleState)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAuth, s.requireAdmin)
			r.Post("/auth/boxes/{boxId}/password", s.handleBoxPassword)
			r.Post("/officials", s.handleSetOfficials)
			r.Get("/audit/events", s.handleAuditEvents)
			r.Get("/ops/status", s.handleOpsStatus)
			r.Post("/ops/backup/now", s.handleBackupNow)
			r.Get("/backup/full", s.handleBackupFull)
			r.Get("/backup/box/{boxId}", s.handleBackupBox)
			r.Get("/backup/last", s.handleBackupLast)
			r.Post("/restore", s.handleRestore)
		})
	})

	return r
}
