// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cruxlive/cruxd/internal/auth"
	"github.com/cruxlive/cruxd/internal/hub"
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return s.originAllowed(origin)
		},
	}
}

// closeWith rejects an already-upgraded connection with a close code.
// Auth failures must be reported in-band: the handshake has succeeded by
// the time the token can be checked.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}

// wsClaims authenticates an upgraded connection, closing it on failure.
func (s *Server) wsClaims(conn *websocket.Conn, r *http.Request) *auth.Claims {
	raw := auth.ExtractToken(r)
	if raw == "" {
		closeWith(conn, hub.CloseUnauthorized, "token_required")
		return nil
	}
	claims, err := s.tokens.Decode(raw)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			closeWith(conn, hub.CloseUnauthorized, "token_expired")
		} else {
			closeWith(conn, hub.CloseUnauthorized, "invalid_token")
		}
		return nil
	}
	return claims
}

// handleBoxWS is WS /api/ws/{boxId}: the authenticated per-box channel.
func (s *Server) handleBoxWS(w http.ResponseWriter, r *http.Request) {
	boxID, ok := boxIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_box_id")
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	claims := s.wsClaims(conn, r)
	if claims == nil {
		return
	}
	if !auth.CanRead(claims, boxID) {
		closeWith(conn, hub.CloseForbidden, "forbidden_box_or_role")
		return
	}

	peer := s.hub.AddBoxPeer(boxID, conn, func(p *hub.Peer) {
		// the requested box is re-authorized on every REQUEST_STATE
		if !auth.CanRead(claims, boxID) {
			return
		}
		p.SendJSON(s.live.EnsureSnapshot(boxID))
	})
	peer.SendJSON(s.live.EnsureSnapshot(boxID))
}

// handlePublicWS is WS /api/public/ws: the aggregate spectator plane.
func (s *Server) handlePublicWS(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	claims := s.wsClaims(conn, r)
	if claims == nil {
		return
	}
	if !auth.CanPublic(claims) {
		closeWith(conn, hub.CloseForbidden, "forbidden_box_or_role")
		return
	}

	peer := s.hub.AddPublicPeer(conn, func(p *hub.Peer) {
		p.SendJSON(s.live.PublicSnapshot())
	})
	peer.SendJSON(s.live.PublicSnapshot())
}

// handlePublicBoxWS is WS /api/public/ws/{boxId}: one box's public
// channel, fed full snapshots.
func (s *Server) handlePublicBoxWS(w http.ResponseWriter, r *http.Request) {
	boxID, ok := boxIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_box_id")
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	claims := s.wsClaims(conn, r)
	if claims == nil {
		return
	}
	if !auth.CanPublic(claims) {
		closeWith(conn, hub.CloseForbidden, "forbidden_box_or_role")
		return
	}

	peer := s.hub.AddPublicBoxPeer(boxID, conn, func(p *hub.Peer) {
		p.SendJSON(s.live.EnsureSnapshot(boxID))
	})
	peer.SendJSON(s.live.EnsureSnapshot(boxID))
}
