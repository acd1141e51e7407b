// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cruxlive/cruxd/internal/auth"
)

// LoadUsers reads the user table. A missing file yields an empty table.
func (s *Store) LoadUsers() (map[string]auth.User, error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.root, usersFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]auth.User{}, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}
	users := map[string]auth.User{}
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return users, nil
}

// SaveUsers writes the user table atomically.
func (s *Store) SaveUsers(users map[string]auth.User) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	return writeJSONAtomic(filepath.Join(s.root, usersFile), users)
}
