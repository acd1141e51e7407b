// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cruxlive/cruxd/internal/auth"
	"github.com/cruxlive/cruxd/internal/command"
	"github.com/cruxlive/cruxd/internal/live"
)

func boxIDParam(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "boxId"))
	if err != nil || id < 0 || id > command.MaxBoxID {
		return 0, false
	}
	return id, true
}

// handleCommand is POST /api/cmd.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd command.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload")
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	if !auth.CanCommand(claims, cmd.BoxID) {
		if claims != nil && (claims.Role == auth.RoleAdmin || claims.Role == auth.RoleJudge) {
			writeForbidden(w, "forbidden_box")
		} else {
			writeForbidden(w, "forbidden_role")
		}
		return
	}

	result, err := s.live.HandleCommand(r.Context(), &cmd)
	if err != nil {
		var ce *live.CommandError
		if errors.As(err, &ce) {
			writeError(w, ce.Status, ce.Kind)
			return
		}
		s.logger.Error().Err(err).Msg("command failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleState is GET /api/state/{boxId}.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	boxID, ok := boxIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_box_id")
		return
	}
	claims := auth.ClaimsFromContext(r.Context())
	if !auth.CanRead(claims, boxID) {
		if claims != nil && claims.Role == auth.RoleSpectator {
			writeForbidden(w, "forbidden_role")
		} else {
			writeForbidden(w, "forbidden_box")
		}
		return
	}
	snap, err := s.live.Snapshot(boxID)
	if err != nil {
		writeNotFound(w, "box_not_found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
