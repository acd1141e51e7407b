// SPDX-License-Identifier: MIT

package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cruxlive/cruxd/internal/log"
)

// DefaultAdminUsername is materialized on first boot when missing.
const DefaultAdminUsername = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrUserInactive       = errors.New("user_inactive")
	ErrUserNotFound       = errors.New("user_not_found")
)

// User is a stored account. PasswordHash is a bcrypt digest.
type User struct {
	Username      string    `json:"username"`
	PasswordHash  string    `json:"passwordHash"`
	Role          string    `json:"role"`
	AssignedBoxes []int     `json:"assignedBoxes"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// UserStore persists the user table keyed by canonical username.
type UserStore interface {
	LoadUsers() (map[string]User, error)
	SaveUsers(map[string]User) error
}

// UserService keeps users in memory and writes through to the store.
type UserService struct {
	mu    sync.Mutex
	store UserStore
	users map[string]User
}

// NewUserService loads the user table from the store.
func NewUserService(store UserStore) (*UserService, error) {
	users, err := store.LoadUsers()
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if users == nil {
		users = map[string]User{}
	}
	return &UserService{store: store, users: users}, nil
}

// Canonical normalizes a username for keying.
func Canonical(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// EnsureDefaultAdmin materializes the admin account if absent. With reset
// set, the admin password is overwritten unconditionally.
func (s *UserService) EnsureDefaultAdmin(password string, reset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Canonical(DefaultAdminUsername)
	existing, ok := s.users[key]
	if ok && !reset {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	now := time.Now().UTC()
	u := User{
		Username:      DefaultAdminUsername,
		PasswordHash:  string(hash),
		Role:          RoleAdmin,
		AssignedBoxes: []int{},
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ok {
		u.CreatedAt = existing.CreatedAt
		logger := log.WithComponent("auth")
		logger.Warn().Msg("admin password reset on boot")
	}
	s.users[key] = u
	return s.store.SaveUsers(s.users)
}

// Authenticate verifies a username/password pair.
func (s *UserService) Authenticate(username, password string) (*User, error) {
	s.mu.Lock()
	u, ok := s.users[Canonical(username)]
	s.mu.Unlock()
	if !ok {
		// burn a comparison so unknown users cost the same as bad passwords
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrUserInactive
	}
	cp := u
	return &cp, nil
}

// Get returns a user by username.
func (s *UserService) Get(username string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[Canonical(username)]
	if !ok {
		return nil, false
	}
	cp := u
	return &cp, true
}

// UpsertBoxJudge creates or updates the judge account for one box
// ("Box {id}") with the given password and that single box assignment.
func (s *UserService) UpsertBoxJudge(boxID int, password string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := fmt.Sprintf("Box %d", boxID)
	key := Canonical(username)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash judge password: %w", err)
	}

	now := time.Now().UTC()
	u, ok := s.users[key]
	if !ok {
		u = User{Username: username, CreatedAt: now}
	}
	u.PasswordHash = string(hash)
	u.Role = RoleJudge
	u.AssignedBoxes = []int{boxID}
	u.IsActive = true
	u.UpdatedAt = now
	s.users[key] = u

	if err := s.store.SaveUsers(s.users); err != nil {
		return nil, fmt.Errorf("persist users: %w", err)
	}
	cp := u
	return &cp, nil
}

// Count returns the number of stored users.
func (s *UserService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
