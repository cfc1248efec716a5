// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/promptlab/internal/model"
	"github.com/jeranaias/promptlab/internal/util"
)

// ErrDuplicateEmail is returned when registering an email that exists.
var ErrDuplicateEmail = errors.New("email already registered")

// =============================================================================
// USER STORE
// =============================================================================

// UserStore persists user accounts in a single JSON file keyed by user ID,
// with secondary in-memory indexes by email and API key.
type UserStore struct {
	path string

	mu      sync.RWMutex
	users   map[string]*model.User // by ID
	byEmail map[string]string      // email -> ID
	byKey   map[string]string      // api key -> ID
}

// NewUserStore opens (or creates) the store at <dataDir>/users.json.
func NewUserStore(dataDir string) (*UserStore, error) {
	s := &UserStore{
		path:    filepath.Join(dataDir, "users.json"),
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
		byKey:   make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *UserStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		return err
	}
	for id, u := range s.users {
		s.byEmail[u.Email] = id
		if u.APIKey != "" {
			s.byKey[u.APIKey] = id
		}
	}
	return nil
}

// flush must be called with s.mu held.
// SECURITY: 0600; the file holds password hashes and API keys.
func (s *UserStore) flush() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(s.path, data, 0600)
}

// Create inserts a new user. Emails are unique.
func (s *UserStore) Create(u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[u.Email]; exists {
		return ErrDuplicateEmail
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	if u.APIKey != "" {
		s.byKey[u.APIKey] = u.ID
	}
	return s.flush()
}

// Update replaces an existing user record.
func (s *UserStore) Update(u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if old.Email != u.Email {
		if id, exists := s.byEmail[u.Email]; exists && id != u.ID {
			return ErrDuplicateEmail
		}
		delete(s.byEmail, old.Email)
	}
	if old.APIKey != "" && old.APIKey != u.APIKey {
		delete(s.byKey, old.APIKey)
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	if u.APIKey != "" {
		s.byKey[u.APIKey] = u.ID
	}
	return s.flush()
}

// Get retrieves a user by ID. Callers receive a copy; edits only take
// effect through Update.
func (s *UserStore) Get(id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

// GetByAPIKey retrieves a user by API key.
func (s *UserStore) GetByAPIKey(key string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

// List returns all users sorted by creation time (oldest first).
func (s *UserStore) List() []*model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
