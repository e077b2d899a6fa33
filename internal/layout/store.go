package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists snapshots as one JSON file per named layout per project.
type Store struct {
	dir string
}

// NewStore roots the store at <stateDir>/layouts.
func NewStore(stateDir string) *Store {
	return &Store{dir: filepath.Join(stateDir, "layouts")}
}

func (s *Store) path(project, name string) string {
	if project == "" {
		project = "global"
	}
	return filepath.Join(s.dir, project, name+".json")
}

// Save writes a snapshot. Snapshots are immutable once written; saving the
// same name again replaces the file wholesale.
func (s *Store) Save(snap *Snapshot) error {
	path := s.path(snap.Project, snap.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create layout dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads a named snapshot.
func (s *Store) Load(project, name string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(project, name))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s/%s: %w", project, name, err)
	}
	return &snap, nil
}

// List returns the snapshot names stored for a project.
func (s *Store) List(project string) ([]string, error) {
	if project == "" {
		project = "global"
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, project))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}
