// Package app assembles the marketpulse components from a Config. The
// server and the CLI share it so both see the same stores and budgets.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/fetch"
	"marketpulse/internal/gather"
	"marketpulse/internal/gather/crypto"
	"marketpulse/internal/gather/equity"
	"marketpulse/internal/metrics"
	"marketpulse/internal/publish"
	"marketpulse/internal/store"
	"marketpulse/internal/util"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Universe   []domain.Asset
	Bars       store.BarStore
	Snapshots  *store.SnapshotFile
	Runs       *store.SQLiteRunStore // nil when run history is disabled
	Providers  map[domain.ProviderClass]gather.Provider
	Fetcher    *fetch.Fetcher
	Publishers []publish.Publisher
	Analyzer   *metrics.Analyzer
	Calendar   *util.Calendar
	Log        *slog.Logger

	closers []func() error
}

// Options adjust what New wires.
type Options struct {
	// Calendar overrides the wall clock.
	Calendar *util.Calendar
	// NoPublish skips the Redis and S3 sinks.
	NoPublish bool
}

// New builds every component cfg describes. Publishers that fail to connect
// are logged and skipped; everything else is fatal.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	cal := opts.Calendar
	if cal == nil {
		cal = util.NewCalendar()
	}
	a := &App{
		Config:   cfg,
		Universe: cfg.Universe.Assets(),
		Calendar: cal,
		Log:      log,
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	a.Bars = NewBarStore(cfg.Storage)
	a.Snapshots = store.NewSnapshotFile(cfg.Storage.SnapshotPath())

	if cfg.Storage.SQLitePath != "" {
		runs, err := store.NewSQLiteRunStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.Runs = runs
		a.closers = append(a.closers, runs.Close)
	}

	providers, err := newProviders(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Providers = providers
	a.Fetcher = fetch.New(lanes(cfg), log)

	if !opts.NoPublish {
		a.Publishers = a.newPublishers(ctx)
	}

	a.Analyzer = metrics.NewAnalyzer(a.Bars,
		metrics.WithBenchmark(cfg.Metrics.Benchmark),
		metrics.WithRiskFreeRate(cfg.Metrics.RiskFreeRate),
		metrics.WithUniverse(a.Universe),
		metrics.WithClock(cal.Now),
	)
	log.Info("components ready",
		"assets", len(a.Universe),
		"equities", providers[domain.ProviderEquities].Name(),
		"format", cfg.Storage.Format,
		"publishers", len(a.Publishers),
	)
	return a, nil
}

// NewBarStore opens the series backend selected by storage.format.
func NewBarStore(s config.Storage) store.BarStore {
	if s.Format == "parquet" {
		return store.NewParquetStore(s.SeriesDir())
	}
	return store.NewJSONStore(s.SeriesDir())
}

// Updater returns an Updater over the wired components.
func (a *App) Updater(afterCycle func(domain.Run, error)) *gather.Updater {
	var runs store.RunStore
	if a.Runs != nil {
		runs = a.Runs
	}
	return gather.NewUpdater(gather.Config{
		Universe:  a.Universe,
		Bars:      a.Bars,
		Snapshots: a.Snapshots,
		Runs:      runs,
		Fetcher:   a.Fetcher,
		Providers: a.Providers,
		Lookback: map[domain.ProviderClass]int{
			domain.ProviderEquities: a.Config.Equities.LookbackDays,
			domain.ProviderCrypto:   a.Config.Crypto.LookbackDays,
		},
		Calendar:   a.Calendar,
		Publishers: a.Publishers,
		AfterCycle: afterCycle,
		Log:        a.Log,
	})
}

// Close releases the run store and publisher connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newProviders(cfg *config.Config) (map[domain.ProviderClass]gather.Provider, error) {
	var eq gather.Provider
	switch cfg.Equities.Source {
	case "alpaca":
		p, err := equity.NewAlpaca(equity.AlpacaConfig{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			DataURL:   cfg.Alpaca.DataURL,
			Feed:      cfg.Alpaca.Feed,
		})
		if err != nil {
			return nil, err
		}
		eq = p
	default:
		eq = equity.NewYahoo(cfg.Equities.BaseURL)
	}
	cg, err := crypto.NewCoinGecko(cfg.Crypto.APIKey, cfg.Crypto.BaseURL)
	if err != nil {
		return nil, err
	}
	return map[domain.ProviderClass]gather.Provider{
		domain.ProviderEquities: eq,
		domain.ProviderCrypto:   cg,
	}, nil
}

func lanes(cfg *config.Config) map[domain.ProviderClass]fetch.LaneConfig {
	retry := util.RetryPolicy{
		MaxRetries:       cfg.Retry.MaxRetries,
		TransientDelay:   cfg.Retry.TransientDelay,
		RateLimitedDelay: cfg.Retry.RateLimitedDelay,
	}
	out := make(map[domain.ProviderClass]fetch.LaneConfig, 2)
	for _, class := range []domain.ProviderClass{domain.ProviderEquities, domain.ProviderCrypto} {
		l := cfg.LaneFor(class)
		out[class] = fetch.LaneConfig{
			MaxConcurrent:  l.MaxConcurrent,
			MinTime:        l.MinTime,
			RequestTimeout: l.RequestTimeout,
			Retry:          retry,
		}
	}
	return out
}

func (a *App) newPublishers(ctx context.Context) []publish.Publisher {
	var pubs []publish.Publisher
	pc := a.Config.Publish

	if pc.Redis.Addr != "" {
		p, err := publish.NewRedisPublisher(ctx, publish.RedisConfig{
			Addr:       pc.Redis.Addr,
			Password:   pc.Redis.Password,
			DB:         pc.Redis.DB,
			TLSEnabled: pc.Redis.TLS,
			Key:        pc.Redis.Key,
			Channel:    pc.Redis.Channel,
			TTL:        pc.Redis.TTL,
		})
		if err != nil {
			a.Log.Warn("redis publisher disabled", "addr", pc.Redis.Addr, "error", err)
		} else {
			pubs = append(pubs, p)
			a.closers = append(a.closers, p.Close)
		}
	}

	if pc.S3.Bucket != "" {
		p, err := publish.NewS3Archiver(ctx, publish.S3Config{
			Endpoint:       pc.S3.Endpoint,
			Region:         pc.S3.Region,
			Bucket:         pc.S3.Bucket,
			AccessKey:      pc.S3.AccessKey,
			SecretKey:      pc.S3.SecretKey,
			Prefix:         pc.S3.Prefix,
			ForcePathStyle: pc.S3.ForcePathStyle,
		})
		if err != nil {
			a.Log.Warn("s3 archiver disabled", "bucket", pc.S3.Bucket, "error", err)
		} else {
			pubs = append(pubs, p)
		}
	}
	return pubs
}
