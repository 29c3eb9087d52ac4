package parrot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore is a mutex-guarded key/value store backed by a single JSON
// object file. Values are cached in memory on open and written through on
// each mutation. Writes go to a temp file and are renamed into place, so
// readers never observe a partial object.
//
// Used for the session-counter file and the bridge user-state file.
type JSONStore struct {
	mu   sync.Mutex
	path string
	data map[string]json.RawMessage
}

// OpenJSONStore loads (or initializes) the store at path. A missing file
// yields an empty store; a corrupt file is a hard error, never silently
// truncated.
func OpenJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{path: path, data: make(map[string]json.RawMessage)}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("store %s: corrupt JSON: %w", path, err)
	}
	return s, nil
}

// Get unmarshals the value for key into v. Returns false when absent.
func (s *JSONStore) Get(key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("store %s: key %q: %w", s.path, key, err)
	}
	return true, nil
}

// Set stores v under key and persists.
func (s *JSONStore) Set(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store %s: key %q: %w", s.path, key, err)
	}
	s.data[key] = raw
	return s.save()
}

// Delete removes key and persists. Removing an absent key is a no-op.
func (s *JSONStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.save()
}

// Keys returns all stored keys.
func (s *JSONStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// save writes the full object atomically. Callers hold s.mu.
func (s *JSONStore) save() error {
	return writeJSONAtomic(s.path, s.data)
}

// writeJSONAtomic marshals v with indentation and renames it into place.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
