// Package publish pushes the snapshot map to optional external sinks after
// each update cycle.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"marketpulse/internal/domain"
)

// Publisher delivers a freshly written snapshot map somewhere else.
// Failures are reported to the caller but never abort a cycle.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snaps map[string]domain.Snapshot) error
}

// encode renders snaps in the same JSON form as the snapshot file.
func encode(snaps map[string]domain.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snaps)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshots: %w", err)
	}
	return data, nil
}
