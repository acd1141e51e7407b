// SPDX-License-Identifier: MIT

// Package hub fans out payloads to two independent WebSocket planes: the
// authenticated per-box channels and the public spectator plane.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/cruxlive/cruxd/internal/log"
)

// Plane labels, used in logs and metrics.
const (
	PlaneBox       = "box"
	PlanePublic    = "public"
	PlanePublicBox = "public_box"
)

var (
	connectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cruxd_ws_connections",
		Help: "Active WebSocket subscriptions per plane.",
	}, []string{"plane"})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cruxd_ws_evictions_total",
		Help: "Subscriptions closed by the server, by reason.",
	}, []string{"reason"})
)

// Hub tracks subscribers and broadcasts payloads. Channel sets are only
// mutated under the hub lock; broadcasts iterate over a snapshot so no
// network I/O happens while the lock is held.
type Hub struct {
	mu             sync.Mutex
	boxPeers       map[int]map[*Peer]struct{}
	publicPeers    map[*Peer]struct{}
	publicBoxPeers map[int]map[*Peer]struct{}
	logger         zerolog.Logger
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{
		boxPeers:       map[int]map[*Peer]struct{}{},
		publicPeers:    map[*Peer]struct{}{},
		publicBoxPeers: map[int]map[*Peer]struct{}{},
		logger:         log.WithComponent("hub"),
	}
}

func (h *Hub) newPeer(plane string, boxID int, conn *websocket.Conn, onRequestState func(*Peer)) *Peer {
	p := &Peer{
		hub:            h,
		plane:          plane,
		boxID:          boxID,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
		onRequestState: onRequestState,
	}
	p.lastPong.Store(time.Now().UnixMilli())
	return p
}

// AddBoxPeer registers an authenticated subscriber for one box and starts
// its pumps. onRequestState runs on the peer's read loop when the client
// asks for a fresh snapshot.
func (h *Hub) AddBoxPeer(boxID int, conn *websocket.Conn, onRequestState func(*Peer)) *Peer {
	p := h.newPeer(PlaneBox, boxID, conn, onRequestState)
	h.mu.Lock()
	set, ok := h.boxPeers[boxID]
	if !ok {
		set = map[*Peer]struct{}{}
		h.boxPeers[boxID] = set
	}
	set[p] = struct{}{}
	h.mu.Unlock()
	connectionsGauge.WithLabelValues(PlaneBox).Inc()
	go p.writePump()
	go p.readPump()
	return p
}

// AddPublicPeer registers a spectator on the aggregate plane.
func (h *Hub) AddPublicPeer(conn *websocket.Conn, onRequestState func(*Peer)) *Peer {
	p := h.newPeer(PlanePublic, -1, conn, onRequestState)
	h.mu.Lock()
	h.publicPeers[p] = struct{}{}
	h.mu.Unlock()
	connectionsGauge.WithLabelValues(PlanePublic).Inc()
	go p.writePump()
	go p.readPump()
	return p
}

// AddPublicBoxPeer registers a spectator on one box's public channel.
func (h *Hub) AddPublicBoxPeer(boxID int, conn *websocket.Conn, onRequestState func(*Peer)) *Peer {
	p := h.newPeer(PlanePublicBox, boxID, conn, onRequestState)
	h.mu.Lock()
	set, ok := h.publicBoxPeers[boxID]
	if !ok {
		set = map[*Peer]struct{}{}
		h.publicBoxPeers[boxID] = set
	}
	set[p] = struct{}{}
	h.mu.Unlock()
	connectionsGauge.WithLabelValues(PlanePublicBox).Inc()
	go p.writePump()
	go p.readPump()
	return p
}

// evict closes a peer and removes it from its set.
func (h *Hub) evict(p *Peer, code int, reason string) {
	p.shutdown(code, reason)

	h.mu.Lock()
	removed := false
	switch p.plane {
	case PlaneBox:
		if set, ok := h.boxPeers[p.boxID]; ok {
			if _, in := set[p]; in {
				delete(set, p)
				removed = true
			}
		}
	case PlanePublic:
		if _, in := h.publicPeers[p]; in {
			delete(h.publicPeers, p)
			removed = true
		}
	case PlanePublicBox:
		if set, ok := h.publicBoxPeers[p.boxID]; ok {
			if _, in := set[p]; in {
				delete(set, p)
				removed = true
			}
		}
	}
	h.mu.Unlock()

	if removed {
		connectionsGauge.WithLabelValues(p.plane).Dec()
		if reason != "" {
			evictionsTotal.WithLabelValues(reason).Inc()
			h.logger.Debug().Str("plane", p.plane).Int("box_id", p.boxID).Str("reason", reason).Msg("peer evicted")
		}
	}
}

// Remove closes a peer gracefully (used when a handler unwinds).
func (h *Hub) Remove(p *Peer) {
	h.evict(p, CloseNormal, "")
}

func (h *Hub) snapshotBox(boxID int) []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.boxPeers[boxID]
	peers := make([]*Peer, 0, len(set))
	for p := range set {
		peers = append(peers, p)
	}
	return peers
}

func (h *Hub) snapshotPublic() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := make([]*Peer, 0, len(h.publicPeers))
	for p := range h.publicPeers {
		peers = append(peers, p)
	}
	return peers
}

func (h *Hub) snapshotPublicBox(boxID int) []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.publicBoxPeers[boxID]
	peers := make([]*Peer, 0, len(set))
	for p := range set {
		peers = append(peers, p)
	}
	return peers
}

func (h *Hub) broadcast(peers []*Peer, v any) {
	if len(peers) == 0 {
		return
	}
	msg, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("broadcast payload not serializable")
		return
	}
	for _, p := range peers {
		if !p.enqueue(msg) {
			h.evict(p, ClosePolicy, "send timeout")
		}
	}
}

// BroadcastBox delivers a payload to every subscriber of one box.
func (h *Hub) BroadcastBox(boxID int, v any) {
	h.broadcast(h.snapshotBox(boxID), v)
}

// BroadcastPublic delivers a payload to the aggregate public plane.
func (h *Hub) BroadcastPublic(v any) {
	h.broadcast(h.snapshotPublic(), v)
}

// BroadcastPublicBox delivers a payload to one box's public channel.
func (h *Hub) BroadcastPublicBox(boxID int, v any) {
	h.broadcast(h.snapshotPublicBox(boxID), v)
}

// Counts returns the number of active subscriptions per plane.
func (h *Hub) Counts() (box, public, publicBox int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.boxPeers {
		box += len(set)
	}
	public = len(h.publicPeers)
	for _, set := range h.publicBoxPeers {
		publicBox += len(set)
	}
	return box, public, publicBox
}

// CloseAll tears down every subscription (shutdown path).
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var peers []*Peer
	for _, set := range h.boxPeers {
		for p := range set {
			peers = append(peers, p)
		}
	}
	for p := range h.publicPeers {
		peers = append(peers, p)
	}
	for _, set := range h.publicBoxPeers {
		for p := range set {
			peers = append(peers, p)
		}
	}
	h.mu.Unlock()
	for _, p := range peers {
		h.evict(p, CloseNormal, "")
	}
}
