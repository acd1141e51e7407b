// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
)

// handlePublicToken is POST /api/public/token: mint an anonymous 24h
// spectator token.
func (s *Server) handlePublicToken(w http.ResponseWriter, _ *http.Request) {
	token, err := s.tokens.Spectator()
	if err != nil {
		s.logger.Error().Err(err).Msg("spectator token mint failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken": token,
		"tokenType":   "bearer",
	})
}

// handlePublicBoxes is GET /api/public/boxes: the spectator index of
// initiated boxes.
func (s *Server) handlePublicBoxes(w http.ResponseWriter, r *http.Request) {
	if s.publicClaims(w, r) == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boxes": s.live.PublicBoxList()})
}

// handlePublicOfficials is GET /api/public/officials.
func (s *Server) handlePublicOfficials(w http.ResponseWriter, r *http.Request) {
	if s.publicClaims(w, r) == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.live.Officials())
}
