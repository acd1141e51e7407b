// SPDX-License-Identifier: MIT

package api

import "net/http"

// handleHealth is GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	boxes, initiated := s.live.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"boxes":       boxes,
		"initiated":   initiated,
		"auditFileMB": float64(s.store.AuditSizeBytes()) / (1024 * 1024),
		"storageMB":   float64(s.store.StorageSizeBytes()) / (1024 * 1024),
	})
}

// handleHealthReady is GET /api/health/ready.
func (s *Server) handleHealthReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleHealthLive is GET /api/health/live.
func (s *Server) handleHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
