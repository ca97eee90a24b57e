package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"marketpulse/internal/app"
	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/metrics"
	"marketpulse/internal/snapshot"
	"marketpulse/internal/store"
	"marketpulse/internal/util"
	"marketpulse/pkg/marketpulse"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

// analyzer builds a metrics engine over the local series store without
// touching any provider.
func analyzer(cfg *config.Config) *metrics.Analyzer {
	return metrics.NewAnalyzer(app.NewBarStore(cfg.Storage),
		metrics.WithBenchmark(cfg.Metrics.Benchmark),
		metrics.WithRiskFreeRate(cfg.Metrics.RiskFreeRate),
		metrics.WithUniverse(cfg.Universe.Assets()),
	)
}

// ---------------------------------------------------------------------------
// update
// ---------------------------------------------------------------------------

type updateCmd struct {
	noPublish bool
	verbose   bool
}

func (*updateCmd) Name() string     { return "update" }
func (*updateCmd) Synopsis() string { return "run one update cycle against the providers" }
func (*updateCmd) Usage() string {
	return `marketpulse-cli update [-no-publish] [-v]

  Fetches missing daily bars for every symbol in the universe, rewrites the
  snapshot file and records the run, exactly as the server does on schedule.
`
}

func (c *updateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.noPublish, "no-publish", false, "skip the Redis and S3 sinks")
	f.BoolVar(&c.verbose, "v", false, "log every symbol")
}

func (c *updateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	level := cfg.Logging.Level
	if c.verbose {
		level = "debug"
	}
	log := util.NewLoggerTo(os.Stderr, level, "text")

	a, err := app.New(ctx, cfg, log, app.Options{NoPublish: c.noPublish})
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	run, err := a.Updater(nil).RunCycle(ctx, domain.TriggerCLI)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("run %s: %d updated, %d unchanged, %d skipped, %d failed in %s\n",
		run.ID, run.Updated, run.Unchanged, run.Skipped, run.Failed,
		time.Since(run.StartedAt).Round(time.Second))
	if run.Failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// ---------------------------------------------------------------------------
// snapshot
// ---------------------------------------------------------------------------

type snapshotCmd struct {
	class string
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "print the published snapshots" }
func (*snapshotCmd) Usage() string {
	return `marketpulse-cli snapshot [-class stock|etf|crypto]
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.class, "class", "", "only show one asset class")
}

func (c *snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	snaps, err := store.NewSnapshotFile(cfg.Storage.SnapshotPath()).LoadSnapshots(ctx)
	if err != nil {
		return fail(err)
	}

	var list []domain.Snapshot
	if c.class == "" {
		for _, class := range []domain.AssetClass{domain.AssetClassStock, domain.AssetClassETF, domain.AssetClassCrypto} {
			list = append(list, snapshot.Filter(snaps, class)...)
		}
	} else {
		class, ok := domain.ParseAssetClass(c.class)
		if !ok {
			return fail(fmt.Errorf("unknown asset class %q", c.class))
		}
		list = snapshot.Filter(snaps, class)
	}
	printSnapshots(os.Stdout, list)
	return subcommands.ExitSuccess
}

// ---------------------------------------------------------------------------
// series
// ---------------------------------------------------------------------------

type seriesCmd struct {
	tail int
}

func (*seriesCmd) Name() string     { return "series" }
func (*seriesCmd) Synopsis() string { return "print the stored daily series of a symbol" }
func (*seriesCmd) Usage() string {
	return `marketpulse-cli series [-n <bars>] [<symbol>]

  Without a symbol, lists every symbol with a stored series.
`
}

func (c *seriesCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.tail, "n", 20, "number of most recent bars to print, 0 for all")
}

func (c *seriesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	bars := app.NewBarStore(cfg.Storage)
	if f.NArg() == 0 {
		syms, err := bars.Symbols(ctx)
		if err != nil {
			return fail(err)
		}
		for _, s := range syms {
			fmt.Println(s)
		}
		return subcommands.ExitSuccess
	}

	sym := f.Arg(0)
	if a, ok := cfg.Universe.Resolve(sym); ok {
		sym = a.Symbol
	}
	series, err := bars.Load(ctx, sym)
	if err != nil {
		return fail(err)
	}
	if len(series) == 0 {
		return fail(fmt.Errorf("no series stored for %s", sym))
	}
	if c.tail > 0 && len(series) > c.tail {
		series = series[len(series)-c.tail:]
	}
	for _, b := range series {
		fmt.Printf("%s  %12s  %14d\n", b.Date, usd(b.Adj), b.Volume)
	}
	return subcommands.ExitSuccess
}

// ---------------------------------------------------------------------------
// metrics
// ---------------------------------------------------------------------------

type metricsCmd struct {
	quantity  string
	timeframe string
}

func (*metricsCmd) Name() string     { return "metrics" }
func (*metricsCmd) Synopsis() string { return "compute risk metrics for one asset" }
func (*metricsCmd) Usage() string {
	return `marketpulse-cli metrics [-q <quantity>] [-tf daily|weekly|monthly] <symbol>
`
}

func (c *metricsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.quantity, "q", "1", "quantity held")
	f.StringVar(&c.timeframe, "tf", "daily", "annualization timeframe")
}

func (c *metricsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	qty, err := decimal.NewFromString(c.quantity)
	if err != nil || qty.IsNegative() {
		return fail(fmt.Errorf("invalid quantity %q", c.quantity))
	}
	tf, ok := domain.ParseTimeframe(c.timeframe)
	if !ok {
		return fail(fmt.Errorf("invalid timeframe %q", c.timeframe))
	}
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	m, err := analyzer(cfg).Asset(ctx, f.Arg(0), qty, tf)
	if err != nil {
		return fail(err)
	}
	printMetrics(os.Stdout, m)
	return subcommands.ExitSuccess
}

// ---------------------------------------------------------------------------
// portfolio
// ---------------------------------------------------------------------------

type portfolioCmd struct {
	timeframe string
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "compute risk metrics for a portfolio file" }
func (*portfolioCmd) Usage() string {
	return `marketpulse-cli portfolio [-tf daily|weekly|monthly] <portfolio.json>

  The file holds {"name": ..., "holdings": [{"assetId": "AAPL", "quantity": 10}]}.
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.timeframe, "tf", "daily", "annualization timeframe")
}

func (c *portfolioCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	tf, ok := domain.ParseTimeframe(c.timeframe)
	if !ok {
		return fail(fmt.Errorf("invalid timeframe %q", c.timeframe))
	}
	p, err := readPortfolio(f.Arg(0))
	if err != nil {
		return fail(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	m, err := analyzer(cfg).Portfolio(ctx, p.Holdings, tf)
	if err != nil {
		return fail(err)
	}
	if p.Name != "" {
		fmt.Printf("%s (%d holdings)\n\n", p.Name, len(p.Holdings))
	}
	printMetrics(os.Stdout, m)
	return subcommands.ExitSuccess
}

func readPortfolio(path string) (domain.Portfolio, error) {
	var p domain.Portfolio
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, h := range p.Holdings {
		if h.Quantity.IsNegative() {
			return p, fmt.Errorf("%s: negative quantity for %s", path, h.AssetID)
		}
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// runs
// ---------------------------------------------------------------------------

type runsCmd struct {
	limit int
}

func (*runsCmd) Name() string     { return "runs" }
func (*runsCmd) Synopsis() string { return "list recent update cycles" }
func (*runsCmd) Usage() string {
	return `marketpulse-cli runs [-n <limit>] [<run-id>]

  Without an id, lists recent runs. With an id, prints every symbol outcome
  of that run.
`
}

func (c *runsCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 20, "number of runs to list")
}

func (c *runsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	if cfg.Storage.SQLitePath == "" {
		return fail(fmt.Errorf("run history is disabled (storage.sqlite_path is empty)"))
	}
	rs, err := store.NewSQLiteRunStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fail(err)
	}
	defer rs.Close()

	if f.NArg() == 0 {
		runs, err := rs.ListRuns(ctx, c.limit)
		if err != nil {
			return fail(err)
		}
		printRuns(os.Stdout, runs)
		return subcommands.ExitSuccess
	}

	results, err := rs.RunResults(ctx, f.Arg(0))
	if err != nil {
		return fail(err)
	}
	for _, r := range results {
		line := fmt.Sprintf("%-10s %-7s %-10s %4d", r.Symbol, r.Class, r.Outcome, r.NewBars)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
	return subcommands.ExitSuccess
}

// ---------------------------------------------------------------------------
// export
// ---------------------------------------------------------------------------

type exportCmd struct{}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write a stored series to a parquet file" }
func (*exportCmd) Usage() string {
	return `marketpulse-cli export <symbol> <out.parquet>
`
}

func (*exportCmd) SetFlags(*flag.FlagSet) {}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	sym := f.Arg(0)
	if a, ok := cfg.Universe.Resolve(sym); ok {
		sym = a.Symbol
	}
	series, err := app.NewBarStore(cfg.Storage).Load(ctx, sym)
	if err != nil {
		return fail(err)
	}
	if len(series) == 0 {
		return fail(fmt.Errorf("no series stored for %s", sym))
	}
	if err := store.WriteParquet(f.Arg(1), series); err != nil {
		return fail(err)
	}
	fmt.Printf("wrote %d bars of %s to %s\n", len(series), sym, f.Arg(1))
	return subcommands.ExitSuccess
}

// ---------------------------------------------------------------------------
// trigger
// ---------------------------------------------------------------------------

type triggerCmd struct {
	server string
}

func (*triggerCmd) Name() string     { return "trigger" }
func (*triggerCmd) Synopsis() string { return "ask a running server to start an update cycle" }
func (*triggerCmd) Usage() string {
	return `marketpulse-cli trigger [-server <url>]
`
}

func (c *triggerCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.server, "server", "http://localhost:3001", "marketpulse-server base URL")
}

func (c *triggerCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	status, err := marketpulse.NewClient(c.server).TriggerUpdate(ctx)
	if err != nil {
		return fail(err)
	}
	fmt.Println("update", status)
	return subcommands.ExitSuccess
}
