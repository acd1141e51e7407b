// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cruxlive/cruxd/internal/auth"
	"github.com/cruxlive/cruxd/internal/backup"
	"github.com/cruxlive/cruxd/internal/live"
	"github.com/cruxlive/cruxd/internal/store"
)

// handleLogin is POST /api/auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload")
		return
	}
	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		writeUnauthorized(w, "invalid_credentials")
		return
	}
	token, err := s.tokens.Issue(user.Username, user.Role, user.AssignedBoxes)
	if err != nil {
		s.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": token,
		"tokenType":   "bearer",
		"role":        user.Role,
		"boxes":       user.AssignedBoxes,
	})
}

// handleMe is GET /api/auth/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"username": claims.Subject,
		"role":     claims.Role,
		"boxes":    claims.Boxes,
	})
}

// handleBoxPassword is POST /api/admin/auth/boxes/{boxId}/password: upsert
// the judge account for one box.
func (s *Server) handleBoxPassword(w http.ResponseWriter, r *http.Request) {
	boxID, ok := boxIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_box_id")
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password_required")
		return
	}
	user, err := s.users.UpsertBoxJudge(boxID, req.Password)
	if err != nil {
		s.logger.Error().Err(err).Int("box_id", boxID).Msg("box judge upsert failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":      user.Username,
		"role":          user.Role,
		"assignedBoxes": user.AssignedBoxes,
	})
}

// handleSetOfficials is POST /api/admin/officials.
func (s *Server) handleSetOfficials(w http.ResponseWriter, r *http.Request) {
	var o store.Officials
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload")
		return
	}
	if err := s.live.SetOfficials(o); err != nil {
		s.logger.Error().Err(err).Msg("persist officials failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleAuditEvents is GET /api/admin/audit/events.
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 5000 {
			limit = n
		}
	}
	var boxID *int
	if raw := q.Get("boxId"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_box_id")
			return
		}
		boxID = &n
	}
	includePayload := q.Get("includePayload") == "true" || q.Get("includePayload") == "1"

	events, err := s.store.TailAudit(limit, boxID)
	if err != nil {
		s.logger.Error().Err(err).Msg("audit tail failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if !includePayload {
		for i := range events {
			events[i].Payload = nil
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleOpsStatus is GET /api/admin/ops/status.
func (s *Server) handleOpsStatus(w http.ResponseWriter, _ *http.Request) {
	boxes, initiated := s.live.Stats()
	boxPeers, publicPeers, publicBoxPeers := s.hub.Counts()

	var lastBackup any
	if name, ts, err := backup.LatestInfo(s.cfg.BackupDir); err == nil {
		lastBackup = map[string]any{
			"file":   name,
			"ageSec": int(time.Since(ts).Seconds()),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"boxes":     boxes,
		"initiated": initiated,
		"users":     s.users.Count(),
		"wsConnections": map[string]int{
			"box":       boxPeers,
			"public":    publicPeers,
			"publicBox": publicBoxPeers,
		},
		"auditFileMB": float64(s.store.AuditSizeBytes()) / (1024 * 1024),
		"storageMB":   float64(s.store.StorageSizeBytes()) / (1024 * 1024),
		"lastBackup":  lastBackup,
	})
}

// handleBackupNow is POST /api/admin/ops/backup/now.
func (s *Server) handleBackupNow(w http.ResponseWriter, _ *http.Request) {
	path, err := s.backups.Now()
	if err != nil {
		s.logger.Error().Err(err).Msg("forced backup failed")
		writeError(w, http.StatusInternalServerError, "backup_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

// handleBackupFull is GET /api/admin/backup/full: the live bundle.
func (s *Server) handleBackupFull(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, backup.Bundle{Snapshots: s.live.CollectBackup()})
}

// handleBackupBox is GET /api/admin/backup/box/{boxId}.
func (s *Server) handleBackupBox(w http.ResponseWriter, r *http.Request) {
	boxID, ok := boxIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_box_id")
		return
	}
	snap, err := s.live.BoxBackup(boxID)
	if err != nil {
		writeNotFound(w, "box_not_found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleBackupLast is GET /api/admin/backup/last: the newest bundle on
// disk.
func (s *Server) handleBackupLast(w http.ResponseWriter, _ *http.Request) {
	path, bundle, err := backup.Latest(s.cfg.BackupDir)
	if err != nil {
		writeNotFound(w, "no_backup")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file":      path,
		"snapshots": bundle.Snapshots,
	})
}

// handleRestore is POST /api/admin/restore. Any conflict without force
// yields 409 with the conflict list.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Snapshots []live.BoxSnapshot `json:"snapshots"`
		BoxIDs    []int              `json:"box_ids"`
		Force     bool               `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload")
		return
	}
	restored, conflicts := s.live.Restore(req.Snapshots, req.BoxIDs, req.Force)
	status := http.StatusOK
	if len(conflicts) > 0 {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{
		"restored":  restored,
		"conflicts": conflicts,
	})
}
