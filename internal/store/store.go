// SPDX-License-Identifier: MIT

// Package store persists box states, the audit log, users, and officials
// under a single storage root.
package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/cruxlive/cruxd/internal/engine"
	"github.com/cruxlive/cruxd/internal/log"
)

const (
	boxesDir      = "boxes"
	usersFile     = "users.json"
	officialsFile = "competition_officials.json"
)

// Store is the durable shadow of the in-memory state. All writes are
// atomic (tmp file + rename). Box writes are serialized per box, audit
// appends under one global lock.
type Store struct {
	root          string
	maxAuditBytes int64
	logger        zerolog.Logger

	boxMu    sync.Mutex
	boxLocks map[int]*sync.Mutex

	auditMu sync.Mutex
	usersMu sync.Mutex
	offMu   sync.Mutex
}

// New creates the storage layout under root.
func New(root string, maxAuditMB int) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, boxesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if maxAuditMB <= 0 {
		maxAuditMB = 50
	}
	return &Store{
		root:          root,
		maxAuditBytes: int64(maxAuditMB) * 1024 * 1024,
		logger:        log.WithComponent("store"),
		boxLocks:      map[int]*sync.Mutex{},
	}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) boxLock(boxID int) *sync.Mutex {
	s.boxMu.Lock()
	defer s.boxMu.Unlock()
	lk, ok := s.boxLocks[boxID]
	if !ok {
		lk = &sync.Mutex{}
		s.boxLocks[boxID] = lk
	}
	return lk
}

func (s *Store) boxPath(boxID int) string {
	return filepath.Join(s.root, boxesDir, strconv.Itoa(boxID)+".json")
}

// SaveBox writes one box state atomically.
func (s *Store) SaveBox(boxID int, st *engine.State) error {
	lk := s.boxLock(boxID)
	lk.Lock()
	defer lk.Unlock()
	return writeJSONAtomic(s.boxPath(boxID), st)
}

// LoadBoxes scans the boxes directory and returns every parseable state.
// Corrupt or misshapen files are skipped with a warning.
func (s *Store) LoadBoxes() (map[int]*engine.State, error) {
	dir := filepath.Join(s.root, boxesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]*engine.State{}, nil
		}
		return nil, fmt.Errorf("scan boxes dir: %w", err)
	}

	out := map[int]*engine.State{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		boxID, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil || boxID < 0 {
			s.logger.Warn().Str("file", name).Msg("skipping box file with non-numeric name")
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable box file")
			continue
		}
		st := &engine.State{}
		if err := json.Unmarshal(raw, st); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("skipping corrupt box file")
			continue
		}
		st.ApplyDefaults()
		out[boxID] = st
	}
	return out, nil
}

// WipeBoxes removes all persisted box files (default behavior on start).
func (s *Store) WipeBoxes() error {
	dir := filepath.Join(s.root, boxesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan boxes dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// StorageSizeBytes sums the size of every regular file under the root.
func (s *Store) StorageSizeBytes() int64 {
	var total int64
	_ = filepath.WalkDir(s.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func writeJSONAtomic(path string, v any) error {
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("prepare %s: %w", path, err)
	}
	defer func() { _ = pf.Cleanup() }()

	enc := json.NewEncoder(pf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
