// Package buffer keeps a bounded, persisted history of applied events for
// replay and diagnostics. Losing it never corrupts daemon state, only
// history.
package buffer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is one recorded event. Sequence numbers are strictly increasing and
// never reused.
type Entry struct {
	Seq     uint64          `json:"seq"`
	Time    time.Time       `json:"time"`
	Source  string          `json:"source"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Log is a bounded FIFO of entries, evicting oldest first by count or age.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	maxAge   time.Duration
	lastSeq  uint64
}

// NewLog creates a log bounded by capacity entries and, when maxAge is
// positive, by entry age.
func NewLog(capacity int, maxAge time.Duration) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Log{capacity: capacity, maxAge: maxAge}
}

// Append records an entry. A non-increasing sequence number is an internal
// invariant violation and is rejected.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Seq <= l.lastSeq {
		return fmt.Errorf("sequence %d not greater than last %d", e.Seq, l.lastSeq)
	}
	l.lastSeq = e.Seq
	l.entries = append(l.entries, e)
	if len(l.entries) > l.capacity {
		overflow := len(l.entries) - l.capacity
		l.entries = append([]Entry(nil), l.entries[overflow:]...)
	}
	return nil
}

// Since returns a fresh copy of all entries with sequence numbers greater
// than seq. Each call re-walks the retained window.
func (l *Log) Since(seq uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Seq > seq
	})
	if idx == len(l.entries) {
		return nil
	}
	return append([]Entry(nil), l.entries[idx:]...)
}

// Prune evicts entries older than the configured age bound.
func (l *Log) Prune(now time.Time) int {
	if l.maxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-l.maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Time.After(cutoff)
	})
	if idx == 0 {
		return 0
	}
	l.entries = append([]Entry(nil), l.entries[idx:]...)
	return idx
}

// Len reports the retained entry count.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastSeq reports the highest sequence number ever appended.
func (l *Log) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

type persisted struct {
	SavedAt time.Time `json:"savedAt"`
	LastSeq uint64    `json:"lastSeq"`
	Entries []Entry   `json:"entries"`
}

// Save writes the retained window to disk as JSON.
func (l *Log) Save(path string) error {
	l.mu.RLock()
	doc := persisted{
		SavedAt: time.Now(),
		LastSeq: l.lastSeq,
		Entries: append([]Entry(nil), l.entries...),
	}
	l.mu.RUnlock()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit event log: %w", err)
	}
	return nil
}

// Load replaces the retained window from disk. Errors leave the log empty;
// a lost history is a diagnostic gap, not corruption.
func (l *Log) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	var doc persisted
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode event log: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = doc.Entries
	if len(l.entries) > l.capacity {
		l.entries = append([]Entry(nil), l.entries[len(l.entries)-l.capacity:]...)
	}
	l.lastSeq = doc.LastSeq
	for _, e := range l.entries {
		if e.Seq > l.lastSeq {
			l.lastSeq = e.Seq
		}
	}
	return nil
}
