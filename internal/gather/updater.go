package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marketpulse/internal/domain"
	"marketpulse/internal/fetch"
	"marketpulse/internal/publish"
	"marketpulse/internal/snapshot"
	"marketpulse/internal/store"
	"marketpulse/internal/util"
)

// Config wires an Updater.
type Config struct {
	Universe  []domain.Asset
	Bars      store.BarStore
	Snapshots store.SnapshotStore
	Runs      store.RunStore // optional
	Fetcher   *fetch.Fetcher
	Providers map[domain.ProviderClass]Provider
	// Lookback is the history, in days, fetched for a symbol with no
	// stored series.
	Lookback   map[domain.ProviderClass]int
	Calendar   *util.Calendar
	Publishers []publish.Publisher
	// AfterCycle, if set, is called once a cycle has finished.
	AfterCycle func(run domain.Run, err error)
	Log        *slog.Logger
}

// Updater runs update cycles over the universe. At most one cycle runs at a
// time per Updater.
type Updater struct {
	cfg     Config
	log     *slog.Logger
	running atomic.Bool

	mu      sync.RWMutex
	lastRun domain.Run
}

// NewUpdater creates an Updater from cfg.
func NewUpdater(cfg Config) *Updater {
	if cfg.Calendar == nil {
		cfg.Calendar = util.NewCalendar()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Updater{
		cfg: cfg,
		log: cfg.Log.With("component", "updater"),
	}
}

// Name returns the gatherer identifier.
func (u *Updater) Name() string { return "market-update" }

// Running reports whether a cycle is in flight.
func (u *Updater) Running() bool { return u.running.Load() }

// LastRun returns the most recently finished run.
func (u *Updater) LastRun() domain.Run {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastRun
}

// UpdateSymbol brings one symbol's series up to date. The returned series is
// the stored series after the pass, whatever the outcome. An error means the
// symbol failed for this pass only.
func (u *Updater) UpdateSymbol(ctx context.Context, asset domain.Asset) (domain.SymbolResult, domain.Series, error) {
	res := domain.SymbolResult{Symbol: asset.Symbol, Class: asset.Class}
	class := asset.Class.Provider()

	series, err := u.cfg.Bars.Load(ctx, asset.Symbol)
	if err != nil {
		return u.fail(res, err), nil, err
	}

	last := ""
	if b, ok := series.Last(); ok {
		last = b.Date
	}
	today := u.cfg.Calendar.Today()
	rng, ok := PlanRange(last, today, u.cfg.Lookback[class])
	if !ok {
		res.Outcome = domain.OutcomeSkipped
		return res, series, nil
	}

	prov, ok := u.cfg.Providers[class]
	if !ok {
		err := fmt.Errorf("no provider for %s", class)
		return u.fail(res, err), series, err
	}

	bars, err := fetch.Fetch(ctx, u.cfg.Fetcher, class, "daily "+asset.Symbol, func(ctx context.Context) ([]domain.Bar, error) {
		return prov.FetchDaily(ctx, asset.Symbol, rng)
	})
	if err != nil {
		return u.fail(res, err), series, err
	}
	bars = Clip(bars, rng)

	if sp, ok := prov.(SpotProvider); ok && rng.Contains(util.FormatDate(today)) {
		spot, err := fetch.Fetch(ctx, u.cfg.Fetcher, class, "spot "+asset.Symbol, func(ctx context.Context) (domain.Bar, error) {
			return sp.Spot(ctx, asset.Symbol)
		})
		if err != nil {
			u.log.Warn("spot price unavailable", "symbol", asset.Symbol, "error", err)
		} else {
			spot.Date = util.FormatDate(today)
			bars = append(bars, spot)
		}
	}

	if len(bars) == 0 {
		res.Outcome = domain.OutcomeUnchanged
		return res, series, nil
	}

	merged, err := u.cfg.Bars.Merge(ctx, asset.Symbol, bars)
	if err != nil {
		return u.fail(res, err), series, err
	}
	res.Outcome = domain.OutcomeUpdated
	res.NewBars = len(merged) - len(series)
	return res, merged, nil
}

func (u *Updater) fail(res domain.SymbolResult, err error) domain.SymbolResult {
	res.Outcome = domain.OutcomeFailed
	res.Error = err.Error()
	return res
}

// Run performs one cycle on behalf of the scheduler.
func (u *Updater) Run(ctx context.Context) error {
	_, err := u.RunCycle(ctx, domain.TriggerSchedule)
	return err
}

// RunCycle updates every symbol of the universe, rebuilds the snapshot map
// from scratch, and publishes it. It returns domain.ErrCycleInProgress
// without doing any work if another cycle is running. Per-symbol failures
// are logged and recorded but never returned, and the failed symbols are
// left out of the map. Only a failure to write the snapshot file aborts the
// cycle.
func (u *Updater) RunCycle(ctx context.Context, trigger domain.RunTrigger) (domain.Run, error) {
	if !u.running.CompareAndSwap(false, true) {
		return domain.Run{}, domain.ErrCycleInProgress
	}
	defer u.running.Store(false)
	return u.cycle(ctx, trigger)
}

// StartCycle runs a cycle in the background. It reports false, and starts
// nothing, when another cycle already holds the updater. The outcome is
// logged and recorded like any other cycle.
func (u *Updater) StartCycle(ctx context.Context, trigger domain.RunTrigger) bool {
	if !u.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer u.running.Store(false)
		_, _ = u.cycle(ctx, trigger)
	}()
	return true
}

func (u *Updater) cycle(ctx context.Context, trigger domain.RunTrigger) (domain.Run, error) {
	run := domain.Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Status:    domain.RunRunning,
	}
	log := u.log.With("run", run.ID, "trigger", trigger)
	log.Info("update cycle started", "symbols", len(u.cfg.Universe))
	u.recordBegin(ctx, run, log)

	var (
		mu    sync.Mutex
		snaps = make(map[string]domain.Snapshot, len(u.cfg.Universe))
		g     errgroup.Group
	)
	for _, asset := range u.cfg.Universe {
		g.Go(func() error {
			res, series, err := u.UpdateSymbol(ctx, asset)
			now := u.cfg.Calendar.Now()

			mu.Lock()
			defer mu.Unlock()
			switch res.Outcome {
			case domain.OutcomeFailed:
				run.Failed++
				log.Error("symbol update failed", "symbol", asset.Symbol, "class", asset.Class, "error", err)
			default:
				switch res.Outcome {
				case domain.OutcomeUpdated:
					run.Updated++
				case domain.OutcomeUnchanged:
					run.Unchanged++
				case domain.OutcomeSkipped:
					run.Skipped++
				}
				log.Debug("symbol processed", "symbol", asset.Symbol, "outcome", res.Outcome, "new_bars", res.NewBars)
				if snap, ok := snapshot.Build(asset, series, now); ok {
					snaps[asset.Symbol] = snap
				}
			}
			u.recordSymbol(ctx, run.ID, res, log)
			return nil
		})
	}
	_ = g.Wait()

	if err := u.cfg.Snapshots.SaveSnapshots(ctx, snaps); err != nil {
		run.Status = domain.RunAborted
		run.Error = err.Error()
		u.finish(ctx, run, log, err)
		return run, fmt.Errorf("writing snapshots: %w", err)
	}

	for _, p := range u.cfg.Publishers {
		if err := p.Publish(ctx, snaps); err != nil {
			log.Warn("publishing snapshots", "publisher", p.Name(), "error", err)
		}
	}

	run.Status = domain.RunCompleted
	u.finish(ctx, run, log, nil)
	return run, nil
}

func (u *Updater) recordBegin(ctx context.Context, run domain.Run, log *slog.Logger) {
	if u.cfg.Runs == nil {
		return
	}
	if err := u.cfg.Runs.BeginRun(ctx, run); err != nil {
		log.Warn("recording run start", "error", err)
	}
}

func (u *Updater) recordSymbol(ctx context.Context, runID string, res domain.SymbolResult, log *slog.Logger) {
	if u.cfg.Runs == nil {
		return
	}
	if err := u.cfg.Runs.RecordSymbol(ctx, runID, res); err != nil {
		log.Warn("recording symbol result", "symbol", res.Symbol, "error", err)
	}
}

func (u *Updater) finish(ctx context.Context, run domain.Run, log *slog.Logger, cycleErr error) {
	run.FinishedAt = time.Now().UTC()
	if u.cfg.Runs != nil {
		// Record the outcome even when the cycle was cancelled.
		if err := u.cfg.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("recording run finish", "error", err)
		}
	}

	u.mu.Lock()
	u.lastRun = run
	u.mu.Unlock()

	attrs := []any{
		"status", run.Status,
		"updated", run.Updated,
		"unchanged", run.Unchanged,
		"skipped", run.Skipped,
		"failed", run.Failed,
		"elapsed", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	}
	if cycleErr != nil {
		log.Error("update cycle aborted", append(attrs, "error", cycleErr)...)
	} else {
		log.Info("update cycle finished", attrs...)
	}

	if u.cfg.AfterCycle != nil {
		u.cfg.AfterCycle(run, cycleErr)
	}
}

// IsCycleInProgress reports whether err says a cycle was already running.
func IsCycleInProgress(err error) bool {
	return errors.Is(err, domain.ErrCycleInProgress)
}
