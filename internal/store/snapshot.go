package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"marketpulse/internal/domain"
)

// Compile-time interface check.
var _ SnapshotStore = (*SnapshotFile)(nil)

// SnapshotFile persists the snapshot map as one JSON object keyed by symbol.
type SnapshotFile struct {
	path string
	mu   sync.RWMutex
}

// NewSnapshotFile creates a SnapshotFile at path.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Path returns the file location.
func (f *SnapshotFile) Path() string { return f.path }

// LoadSnapshots returns the stored map, or an empty map if the file does not
// exist yet.
func (f *SnapshotFile) LoadSnapshots(_ context.Context) (map[string]domain.Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.Snapshot{}, nil
		}
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}
	snaps := map[string]domain.Snapshot{}
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("decoding snapshots: %w", err)
	}
	return snaps, nil
}

// SaveSnapshots replaces the file contents atomically.
func (f *SnapshotFile) SaveSnapshots(_ context.Context, snaps map[string]domain.Snapshot) error {
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshots: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}
