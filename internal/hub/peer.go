// SPDX-License-Identifier: MIT

package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds every outbound send, enqueue and wire alike.
	writeWait = 5 * time.Second
	// pingInterval is the heartbeat period.
	pingInterval = 30 * time.Second
	// pongWait is how long a peer may go without answering PING.
	pongWait = 60 * time.Second
	// readWait is how long a peer may go without sending any frame.
	readWait = 180 * time.Second

	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// WebSocket close codes used by the hub. 4401/4403 are sent by the API
// layer before a peer is ever registered.
const (
	CloseNormal       = websocket.CloseNormalClosure   // 1000
	ClosePolicy       = websocket.ClosePolicyViolation // 1008
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
)

// Peer is one registered WebSocket subscriber. All writes to the
// connection go through the write pump; other goroutines only enqueue.
type Peer struct {
	hub   *Hub
	plane string
	boxID int // -1 on the aggregate public plane

	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	lastPong atomic.Int64

	onRequestState func(*Peer)
}

type inboundFrame struct {
	Type string `json:"type"`
}

var pingFrame = []byte(`{"type":"PING"}`)

// SendJSON enqueues a payload for this peer. Returns false when the peer
// is gone or its queue stayed full past the send timeout; the caller is
// expected to evict it.
func (p *Peer) SendJSON(v any) bool {
	msg, err := json.Marshal(v)
	if err != nil {
		return true // malformed payloads are a producer bug, not a dead peer
	}
	return p.enqueue(msg)
}

func (p *Peer) enqueue(msg []byte) bool {
	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case p.send <- msg:
		return true
	case <-p.done:
		return false
	case <-timer.C:
		return false
	}
}

// shutdown sends a close frame and tears the connection down exactly once.
func (p *Peer) shutdown(code int, reason string) {
	p.once.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = p.conn.WriteMessage(websocket.CloseMessage, msg)
		_ = p.conn.Close()
		close(p.done)
	})
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.hub.evict(p, CloseNormal, "write failed")
				return
			}
		case <-ticker.C:
			if time.Since(time.UnixMilli(p.lastPong.Load())) > pongWait {
				p.hub.evict(p, CloseNormal, "heartbeat timeout")
				return
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
				p.hub.evict(p, CloseNormal, "ping failed")
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Peer) readPump() {
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(readWait))
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			p.hub.evict(p, CloseNormal, "")
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(readWait))

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue // unrecognized frames are silently ignored
		}
		switch frame.Type {
		case "PONG":
			p.lastPong.Store(time.Now().UnixMilli())
		case "REQUEST_STATE":
			if p.onRequestState != nil {
				p.onRequestState(p)
			}
		}
	}
}
