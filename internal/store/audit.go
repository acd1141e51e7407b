// SPDX-License-Identifier: MIT

package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cruxlive/cruxd/internal/auth"
)

const auditFile = "events.ndjson"

// AuditEvent is one line of the append-only audit log.
type AuditEvent struct {
	ID         string         `json:"id"`
	CreatedAt  string         `json:"createdAt"`
	BoxID      int            `json:"boxId"`
	Action     string         `json:"action"`
	ActionID   string         `json:"actionId,omitempty"`
	BoxVersion int            `json:"boxVersion"`
	SessionID  string         `json:"sessionId"`
	Actor      auth.Actor     `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func (s *Store) auditPath() string {
	return filepath.Join(s.root, auditFile)
}

// AppendAudit writes one event to the log, rotating the file first when it
// exceeds the configured size.
func (s *Store) AppendAudit(ev AuditEvent) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	path := s.auditPath()
	if info, err := os.Stat(path); err == nil && info.Size() >= s.maxAuditBytes {
		rotated := filepath.Join(s.root, fmt.Sprintf("events.%s.ndjson", time.Now().UTC().Format("20060102T150405Z")))
		if err := os.Rename(path, rotated); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
		s.logger.Info().Str("archive", filepath.Base(rotated)).Msg("audit log rotated")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// TailAudit returns up to limit events from the active log file, most
// recent first, optionally filtered by box. Unparseable lines are skipped.
func (s *Store) TailAudit(limit int, boxID *int) ([]AuditEvent, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	f, err := os.Open(s.auditPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []AuditEvent{}, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	// bounded window over the file: keep only the newest `limit` matches
	ring := make([]AuditEvent, 0, limit)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if boxID != nil && ev.BoxID != *boxID {
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	// newest first
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
	return ring, nil
}

// AuditSizeBytes returns the size of the active audit file.
func (s *Store) AuditSizeBytes() int64 {
	info, err := os.Stat(s.auditPath())
	if err != nil {
		return 0
	}
	return info.Size()
}
