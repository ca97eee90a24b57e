// Package store persists per-symbol bar series, the snapshot map, and the
// update run history.
package store

import (
	"context"

	"marketpulse/internal/domain"
)

// BarStore owns every symbol's series. Implementations serialize writes per
// symbol and persist each merge atomically.
type BarStore interface {
	// Load returns the stored series for symbol, or an empty series if none
	// exists yet.
	Load(ctx context.Context, symbol string) (domain.Series, error)

	// Merge folds bars into the stored series, keeping the later-arriving
	// bar on a date collision, and persists the result.
	Merge(ctx context.Context, symbol string, bars []domain.Bar) (domain.Series, error)

	// Symbols lists every symbol with a stored series.
	Symbols(ctx context.Context) ([]string, error)
}

// SnapshotStore persists the published snapshot map.
type SnapshotStore interface {
	LoadSnapshots(ctx context.Context) (map[string]domain.Snapshot, error)
	SaveSnapshots(ctx context.Context, snaps map[string]domain.Snapshot) error
}

// RunStore records update cycles and their per-symbol outcomes.
type RunStore interface {
	BeginRun(ctx context.Context, run domain.Run) error
	RecordSymbol(ctx context.Context, runID string, res domain.SymbolResult) error
	FinishRun(ctx context.Context, run domain.Run) error
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	RunResults(ctx context.Context, runID string) ([]domain.SymbolResult, error)
}
