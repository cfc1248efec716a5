// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jeranaias/promptlab/internal/model"
	"github.com/jeranaias/promptlab/internal/util"
)

// =============================================================================
// CONFIGURATION STORE
// =============================================================================

// ConfigurationStore persists model configurations in a single JSON file.
// The whole set is small (tens of entries), so a keyed map rewritten
// atomically on every change is simpler than per-file bookkeeping.
type ConfigurationStore struct {
	path string

	mu      sync.RWMutex
	configs map[string]*model.ModelConfiguration
}

// NewConfigurationStore opens (or creates) the store at
// <dataDir>/configurations.json.
func NewConfigurationStore(dataDir string) (*ConfigurationStore, error) {
	s := &ConfigurationStore{
		path:    filepath.Join(dataDir, "configurations.json"),
		configs: make(map[string]*model.ModelConfiguration),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ConfigurationStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.configs)
}

// flush must be called with s.mu held.
func (s *ConfigurationStore) flush() error {
	data, err := json.MarshalIndent(s.configs, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(s.path, data, 0644)
}

// Save inserts or replaces a configuration.
func (s *ConfigurationStore) Save(cfg *model.ModelConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
	return s.flush()
}

// Get retrieves a configuration by ID.
func (s *ConfigurationStore) Get(id string) (*model.ModelConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg, nil
}

// List returns all configurations sorted by name.
func (s *ConfigurationStore) List() []*model.ModelConfiguration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.ModelConfiguration, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Delete removes a configuration by ID.
func (s *ConfigurationStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return ErrNotFound
	}
	delete(s.configs, id)
	return s.flush()
}
