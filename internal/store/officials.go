// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Officials is the global competition officials record, embedded into
// authenticated snapshots.
type Officials struct {
	JudgeChief          string `json:"judgeChief"`
	CompetitionDirector string `json:"competitionDirector"`
	ChiefRoutesetter    string `json:"chiefRoutesetter"`
}

// LoadOfficials reads the officials record, zero value when missing.
func (s *Store) LoadOfficials() (Officials, error) {
	s.offMu.Lock()
	defer s.offMu.Unlock()

	var o Officials
	raw, err := os.ReadFile(filepath.Join(s.root, officialsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, fmt.Errorf("read officials file: %w", err)
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return Officials{}, fmt.Errorf("parse officials file: %w", err)
	}
	return o, nil
}

// SaveOfficials writes the officials record atomically.
func (s *Store) SaveOfficials(o Officials) error {
	s.offMu.Lock()
	defer s.offMu.Unlock()
	return writeJSONAtomic(filepath.Join(s.root, officialsFile), o)
}
