package midi

import "sync"

// ActionType selects what a mapped control does.
type ActionType string

const (
	ActionVolume ActionType = "volume"
	ActionMute   ActionType = "mute"
	ActionScene  ActionType = "scene"
)

// Action describes what to do when a mapped control fires. Volume actions
// carry the target source and a max scale factor; mute actions the target
// source; scene actions the target scene.
type Action struct {
	Type       ActionType `json:"type"`
	SourceName string     `json:"sourceName,omitempty"`
	SceneName  string     `json:"sceneName,omitempty"`
	MaxVolume  float64    `json:"maxVolume,omitempty"`
}

// MappingStore associates control ids with actions. At most one action per
// control id; Set replaces any existing entry.
type MappingStore struct {
	mu sync.RWMutex
	m  map[string]Action
}

// NewMappingStore creates an empty mapping store.
func NewMappingStore() *MappingStore {
	return &MappingStore{m: make(map[string]Action)}
}

// Set inserts or replaces the action for a control id.
func (s *MappingStore) Set(controlID string, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[controlID] = action
}

// Get returns the action for a control id, if one is mapped.
func (s *MappingStore) Get(controlID string) (Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.m[controlID]
	return a, ok
}

// Remove deletes the mapping for a control id. Removing an absent id is a
// no-op.
func (s *MappingStore) Remove(controlID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, controlID)
}

// All returns a copy of every mapping.
func (s *MappingStore) All() map[string]Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Action, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// Clear drops every in-memory mapping. Persisted mappings are untouched.
func (s *MappingStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]Action)
}

// Len returns the number of mappings.
func (s *MappingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
