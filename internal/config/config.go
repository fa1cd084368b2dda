// Package config persists application settings as a single JSON document
// addressed by dot-separated key paths ("obs.url", "audio.sources.Mic.volume").
// The store has no schema migration logic; unknown keys survive round trips.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const appDirName = "obs-midi-mixer"

// Store is the persisted key-path settings store.
type Store struct {
	mu     sync.RWMutex
	path   string
	data   map[string]any
	logger *zap.SugaredLogger
}

// defaults returns the settings document used when no file exists yet.
func defaults() map[string]any {
	return map[string]any{
		"obs": map[string]any{
			"url":         "ws://localhost:4455",
			"password":    "",
			"autoConnect": true,
		},
		"midi": map[string]any{
			"deviceId":    "",
			"autoConnect": true,
		},
		"audio": map[string]any{
			"sources": map[string]any{},
		},
		"hotkeys": map[string]any{
			"mappings": map[string]any{},
		},
	}
}

// Path returns the full path to the settings file.
func Path() (string, error) {
	configHome, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configHome, appDirName, "settings.json"), nil
}

// Load opens the settings file at the platform config location, creating the
// defaults in memory if the file does not exist.
func Load(logger *zap.SugaredLogger) (*Store, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return Open(path, logger)
}

// Open opens the settings file at an explicit path.
func Open(path string, logger *zap.SugaredLogger) (*Store, error) {
	s := &Store{
		path:   path,
		data:   defaults(),
		logger: logger.Named("config"),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var loaded map[string]any
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, err
	}
	// Merge on top of defaults so newly introduced keys always exist.
	for k, v := range loaded {
		if dv, ok := s.data[k].(map[string]any); ok {
			if lv, ok := v.(map[string]any); ok {
				for kk, vv := range lv {
					dv[kk] = vv
				}
				continue
			}
		}
		s.data[k] = v
	}
	return s, nil
}

// Get returns the value at a dot-separated key path, or def when the path
// does not resolve.
func (s *Store) Get(path string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur := any(s.data)
	for _, key := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[key]
		if !ok {
			return def
		}
	}
	return cur
}

// GetString returns a string value at path, or def.
func (s *Store) GetString(path, def string) string {
	if v, ok := s.Get(path, def).(string); ok {
		return v
	}
	return def
}

// GetBool returns a boolean value at path, or def.
func (s *Store) GetBool(path string, def bool) bool {
	if v, ok := s.Get(path, def).(bool); ok {
		return v
	}
	return def
}

// GetFloat returns a numeric value at path, or def.
func (s *Store) GetFloat(path string, def float64) float64 {
	if v, ok := s.Get(path, def).(float64); ok {
		return v
	}
	return def
}

// GetSection returns a deep copy of the object at path, or an empty map.
// Nested objects are copied too, so callers may read and mutate the result
// without holding any store lock.
func (s *Store) GetSection(path string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur := any(s.data)
	for _, key := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return make(map[string]any)
		}
		cur, ok = m[key]
		if !ok {
			return make(map[string]any)
		}
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return make(map[string]any)
	}
	return copySection(m)
}

func copySection(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copySection(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Set writes a value at a dot-separated key path, creating intermediate
// objects as needed, and saves the file.
func (s *Store) Set(path string, value any) error {
	s.mu.Lock()
	cur := s.data
	keys := splitPath(path)
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
	s.mu.Unlock()

	return s.save()
}

// Update mutates the object at a key path under the write lock and saves the
// file, creating the object and any intermediates as needed. The callback
// receives the live object; it must not retain it after returning.
func (s *Store) Update(path string, fn func(section map[string]any)) error {
	s.mu.Lock()
	cur := s.data
	keys := splitPath(path)
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	section, ok := cur[keys[len(keys)-1]].(map[string]any)
	if !ok {
		section = make(map[string]any)
		cur[keys[len(keys)-1]] = section
	}
	fn(section)
	s.mu.Unlock()

	return s.save()
}

// Delete removes the value at a key path, if present, and saves the file.
func (s *Store) Delete(path string) error {
	s.mu.Lock()
	cur := s.data
	keys := splitPath(path)
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			s.mu.Unlock()
			return nil
		}
		cur = next
	}
	delete(cur, keys[len(keys)-1])
	s.mu.Unlock()

	return s.save()
}

func (s *Store) save() error {
	s.mu.RLock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		s.logger.Warnw("failed to save settings", "path", s.path, "error", err)
		return err
	}
	return nil
}

func splitPath(path string) []string {
	var keys []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			keys = append(keys, path[start:i])
			start = i + 1
		}
	}
	return append(keys, path[start:])
}
