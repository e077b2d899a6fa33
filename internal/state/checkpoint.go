package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type checkpoint struct {
	Seq              uint64         `json:"seq"`
	SavedAt          time.Time      `json:"savedAt"`
	Windows          []WindowRecord `json:"windows"`
	Monitors         []Monitor      `json:"monitors"`
	Workspaces       []int          `json:"workspaces"`
	FocusedWorkspace int            `json:"focusedWorkspace"`
}

// SaveCheckpoint writes the model to disk as human-inspectable JSON. The
// checkpoint is advisory: recovery rebuilds from the live tree regardless.
func (m *Manager) SaveCheckpoint(path string) error {
	m.mu.RLock()
	cp := checkpoint{
		Seq:              m.seq,
		SavedAt:          time.Now(),
		Windows:          make([]WindowRecord, 0, len(m.windows)),
		Monitors:         append([]Monitor(nil), m.monitors...),
		FocusedWorkspace: m.focusedWorkspace,
	}
	for _, rec := range m.windows {
		cp.Windows = append(cp.Windows, *rec)
	}
	for ws := range m.workspaces {
		cp.Workspaces = append(cp.Workspaces, ws)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint replaces the model from a checkpoint file. An unreadable or
// invalid file is an error; the caller treats that as empty state and runs a
// full recovery against the live tree.
func (m *Manager) LoadCheckpoint(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = cp.Seq
	m.windows = make(map[int64]*WindowRecord, len(cp.Windows))
	for i := range cp.Windows {
		rec := cp.Windows[i]
		m.windows[rec.ID] = &rec
	}
	m.monitors = append([]Monitor(nil), cp.Monitors...)
	m.workspaces = make(map[int]struct{}, len(cp.Workspaces))
	for _, ws := range cp.Workspaces {
		m.workspaces[ws] = struct{}{}
	}
	m.focusedWorkspace = cp.FocusedWorkspace
	return nil
}
