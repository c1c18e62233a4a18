// Package manifest persists per-record-file tile counts and labels.
package manifest

import (
	"encoding/json"
	"os"
	"sync"
)

// Entry describes one record file.
type Entry struct {
	Tiles int    `json:"tiles"`
	Label string `json:"label,omitempty"`
}

// Manifest maps record-file identifiers to their entries. Updates are
// incremental; the file is never rebuilt from record files unless missing.
type Manifest struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// Load reads a manifest from disk. A missing file yields an empty
// manifest bound to the same path.
func Load(path string) (*Manifest, error) {
	m := &Manifest{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the entry for a record identifier.
func (m *Manifest) Get(name string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	return e, ok
}

// Set records or replaces the entry for a record identifier.
func (m *Manifest) Set(name string, e Entry) {
	m.mu.Lock()
	m.entries[name] = e
	m.mu.Unlock()
}

// Remove deletes the entry for a record identifier.
func (m *Manifest) Remove(name string) {
	m.mu.Lock()
	delete(m.entries, name)
	m.mu.Unlock()
}

// Names returns all record identifiers in the manifest.
func (m *Manifest) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	return names
}

// TotalTiles sums tile counts across all entries.
func (m *Manifest) TotalTiles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, e := range m.entries {
		total += e.Tiles
	}
	return total
}

// Save writes the manifest atomically (temp file + rename).
func (m *Manifest) Save() error {
	m.mu.Lock()
	data, err := json.MarshalIndent(m.entries, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
