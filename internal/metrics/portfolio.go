package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketpulse/internal/domain"
	"marketpulse/internal/util"
)

// DefaultBenchmark is the symbol beta is measured against.
const DefaultBenchmark = "SPY"

// DefaultRiskFreeRate is the annual risk-free rate used by Sharpe.
const DefaultRiskFreeRate = 0.02

// SeriesSource loads stored series. store.BarStore satisfies it.
type SeriesSource interface {
	Load(ctx context.Context, symbol string) (domain.Series, error)
}

// Analyzer computes risk metrics for single assets and portfolios from the
// stored series. It only reads from its source.
type Analyzer struct {
	source    SeriesSource
	benchmark string
	riskFree  float64
	symbols   map[string]string // lower-cased id -> canonical symbol
	now       func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithBenchmark sets the benchmark symbol. An empty symbol disables beta.
func WithBenchmark(symbol string) Option {
	return func(a *Analyzer) { a.benchmark = symbol }
}

// WithRiskFreeRate sets the annual risk-free rate.
func WithRiskFreeRate(rate float64) Option {
	return func(a *Analyzer) { a.riskFree = rate }
}

// WithUniverse lets holdings refer to assets in any letter case.
func WithUniverse(assets []domain.Asset) Option {
	return func(a *Analyzer) {
		for _, as := range assets {
			a.symbols[strings.ToLower(as.Symbol)] = as.Symbol
		}
	}
}

// WithClock overrides the clock used to find the start of the year.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an Analyzer reading from source.
func NewAnalyzer(source SeriesSource, opts ...Option) *Analyzer {
	a := &Analyzer{
		source:    source,
		benchmark: DefaultBenchmark,
		riskFree:  DefaultRiskFreeRate,
		symbols:   make(map[string]string),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve maps an asset id to its canonical symbol. Ids outside the universe
// are returned trimmed but otherwise unchanged.
func (a *Analyzer) Resolve(id string) string {
	id = strings.TrimSpace(id)
	if sym, ok := a.symbols[strings.ToLower(id)]; ok {
		return sym
	}
	return id
}

// position is one holding with enough history to contribute.
type position struct {
	symbol  string
	value   decimal.Decimal
	base    decimal.Decimal // value at the first bar of the year
	returns []float64
}

// Portfolio blends holdings by current market value into one return series
// and computes metrics on the price path compounded forward from the total
// value. Holdings with fewer than two bars are ignored. When nothing usable
// remains, or the total value is not positive, the zero RiskMetrics is
// returned.
func (a *Analyzer) Portfolio(ctx context.Context, holdings []domain.Holding, tf domain.Timeframe) (domain.RiskMetrics, error) {
	positions, total, base, err := a.positions(ctx, holdings)
	if errors.Is(err, domain.ErrDegenerateInput) {
		return domain.RiskMetrics{}, nil
	}
	if err != nil {
		return domain.RiskMetrics{}, err
	}

	values := make([]float64, len(positions))
	series := make([][]float64, len(positions))
	for i, p := range positions {
		values[i] = p.value.InexactFloat64()
		series[i] = p.returns
	}
	totalValue := total.InexactFloat64()
	weighted := WeightedReturns(series, Weights(values))
	if len(weighted) == 0 {
		return domain.RiskMetrics{}, nil
	}

	path := Compound(totalValue, weighted)
	m, err := a.compute(ctx, Returns(path), path[len(path)-1], 1, tf)
	if err != nil {
		return domain.RiskMetrics{}, err
	}
	m.TotalValue = totalValue
	if base.IsPositive() {
		m.YTDReturn = ptr(total.Div(base).InexactFloat64() - 1)
	}
	return m, nil
}

// positions loads every holding with at least two bars and sums current and
// year-open values. It returns domain.ErrDegenerateInput when nothing usable
// remains or the total value is not positive.
func (a *Analyzer) positions(ctx context.Context, holdings []domain.Holding) ([]position, decimal.Decimal, decimal.Decimal, error) {
	yearStart := util.FormatDate(util.YearStart(a.now()))

	var (
		out   []position
		total decimal.Decimal
		base  decimal.Decimal
	)
	for _, h := range holdings {
		sym := a.Resolve(h.AssetID)
		series, err := a.source.Load(ctx, sym)
		if err != nil {
			return nil, total, base, fmt.Errorf("loading %s: %w", sym, err)
		}
		if len(series) < 2 {
			continue
		}
		last, _ := series.Last()
		p := position{
			symbol:  sym,
			value:   decimal.NewFromFloat(last.Adj).Mul(h.Quantity),
			base:    decimal.NewFromFloat(yearOpen(series, yearStart).Adj).Mul(h.Quantity),
			returns: Returns(series.Prices()),
		}
		out = append(out, p)
		total = total.Add(p.value)
		base = base.Add(p.base)
	}
	if len(out) == 0 || !total.IsPositive() {
		return nil, total, base, domain.ErrDegenerateInput
	}
	return out, total, base, nil
}

// Asset computes metrics for quantity units of one symbol. A series shorter
// than two bars yields the zero RiskMetrics.
func (a *Analyzer) Asset(ctx context.Context, id string, quantity decimal.Decimal, tf domain.Timeframe) (domain.RiskMetrics, error) {
	sym := a.Resolve(id)
	series, err := a.source.Load(ctx, sym)
	if err != nil {
		return domain.RiskMetrics{}, fmt.Errorf("loading %s: %w", sym, err)
	}
	if len(series) < 2 {
		return domain.RiskMetrics{}, nil
	}

	last, _ := series.Last()
	m, err := a.compute(ctx, Returns(series.Prices()), last.Adj, quantity.InexactFloat64(), tf)
	if err != nil {
		return domain.RiskMetrics{}, err
	}
	m.TotalValue = decimal.NewFromFloat(last.Adj).Mul(quantity).InexactFloat64()

	open := yearOpen(series, util.FormatDate(util.YearStart(a.now())))
	if open.Adj > 0 {
		m.YTDReturn = ptr(last.Adj/open.Adj - 1)
	}
	return m, nil
}

func (a *Analyzer) compute(ctx context.Context, returns []float64, lastPrice, quantity float64, tf domain.Timeframe) (domain.RiskMetrics, error) {
	ppy := tf.PeriodsPerYear()
	m := domain.RiskMetrics{
		AnnualizedReturn:       AnnualizedReturn(returns, ppy),
		Volatility:             TimeframeVolatility(returns, tf),
		Sharpe:                 Sharpe(returns, a.riskFree, ppy),
		MaxDrawdown:            MaxDrawdown(returns),
		ValueAtRisk:            ptr(ValueAtRisk95(returns, lastPrice, quantity)),
		ConditionalValueAtRisk: ptr(ConditionalValueAtRisk95(returns, lastPrice, quantity)),
	}

	if a.benchmark != "" {
		bench, err := a.source.Load(ctx, a.benchmark)
		if err != nil {
			return domain.RiskMetrics{}, fmt.Errorf("loading benchmark %s: %w", a.benchmark, err)
		}
		if len(bench) >= 2 {
			m.Beta = ptr(Beta(returns, Returns(bench.Prices())))
		}
	}
	return m, nil
}

// yearOpen returns the first bar dated on or after yearStart, or the oldest
// bar when the series has none this year.
func yearOpen(series domain.Series, yearStart string) domain.Bar {
	for _, b := range series {
		if b.Date >= yearStart {
			return b
		}
	}
	return series[0]
}

func ptr(v float64) *float64 { return &v }
