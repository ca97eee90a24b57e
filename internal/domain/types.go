// Package domain defines the core types shared across marketpulse: bars,
// series, snapshots, holdings, and risk metrics.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-day format used for bar dates on disk and on
// the wire.
const DateLayout = "2006-01-02"

// AssetClass identifies the kind of instrument a symbol refers to.
type AssetClass string

const (
	AssetClassStock  AssetClass = "stock"
	AssetClassETF    AssetClass = "etf"
	AssetClassCrypto AssetClass = "crypto"
)

// ParseAssetClass returns the AssetClass for s, accepting the plural forms
// used by the HTTP routes ("stocks", "etfs").
func ParseAssetClass(s string) (AssetClass, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stock", "stocks":
		return AssetClassStock, true
	case "etf", "etfs":
		return AssetClassETF, true
	case "crypto", "cryptos":
		return AssetClassCrypto, true
	}
	return "", false
}

// ProviderClass selects which upstream provider (and therefore which limiter
// budget) serves a symbol.
type ProviderClass string

const (
	ProviderEquities ProviderClass = "equities"
	ProviderCrypto   ProviderClass = "crypto"
)

// Provider returns the provider class responsible for the asset class.
func (c AssetClass) Provider() ProviderClass {
	if c == AssetClassCrypto {
		return ProviderCrypto
	}
	return ProviderEquities
}

// Asset is one entry of the tracked universe.
type Asset struct {
	Symbol string     `json:"symbol"`
	Class  AssetClass `json:"type"`
}

// Bar is one day's adjusted close and volume for a symbol.
type Bar struct {
	Date   string  `json:"date"`
	Adj    float64 `json:"adj"`
	Volume int64   `json:"vol"`
}

// Day parses the bar date as a UTC midnight timestamp.
func (b Bar) Day() (time.Time, error) {
	return time.Parse(DateLayout, b.Date)
}

// Series is an ascending, date-unique sequence of bars for one symbol.
type Series []Bar

// Last returns the most recent bar and false when the series is empty.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// Prices returns the adjusted closes in series order.
func (s Series) Prices() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Adj
	}
	return out
}

// Snapshot is the compact per-symbol summary published after each cycle.
type Snapshot struct {
	Symbol            string     `json:"symbol"`
	Type              AssetClass `json:"type"`
	CurrentPrice      float64    `json:"currentPrice"`
	OneDayAgoPrice    float64    `json:"oneDayAgoPrice"`
	SevenDayAgoPrice  float64    `json:"sevenDayAgoPrice"`
	ThirtyDayAgoPrice float64    `json:"thirtyDayAgoPrice"`
	NinetyDayAgoPrice float64    `json:"ninetyDayAgoPrice"`
	Volume            int64      `json:"volume"`
	LastUpdated       int64      `json:"lastUpdated"` // epoch ms
}

// Quote is a proxied point-in-time price for a single symbol.
type Quote struct {
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Currency string    `json:"currency,omitempty"`
	Volume   int64     `json:"volume"`
	Time     time.Time `json:"time"`
}

// Holding is a quantity of one asset inside a portfolio.
type Holding struct {
	AssetID  string          `json:"assetId"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Portfolio is a named, timestamped set of holdings. It is owned by the
// caller and never mutated by the metrics engine.
type Portfolio struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	Holdings  []Holding `json:"holdings"`
}

// Timeframe selects the sampling granularity for annualized metrics.
type Timeframe string

const (
	Daily   Timeframe = "daily"
	Weekly  Timeframe = "weekly"
	Monthly Timeframe = "monthly"
)

// ParseTimeframe parses s, defaulting to Daily for the empty string.
func ParseTimeframe(s string) (Timeframe, bool) {
	switch Timeframe(strings.ToLower(s)) {
	case "", Daily:
		return Daily, true
	case Weekly:
		return Weekly, true
	case Monthly:
		return Monthly, true
	}
	return "", false
}

// PeriodsPerYear returns the annualization factor for the timeframe.
func (tf Timeframe) PeriodsPerYear() float64 {
	switch tf {
	case Weekly:
		return 52
	case Monthly:
		return 12
	default:
		return 252
	}
}

// Stride returns the subsampling step applied to a daily return series.
func (tf Timeframe) Stride() int {
	switch tf {
	case Weekly:
		return 5
	case Monthly:
		return 20
	default:
		return 1
	}
}

// RiskMetrics is the result of a metrics computation. Optional fields are
// nil when they could not be computed.
type RiskMetrics struct {
	TotalValue             float64  `json:"totalValue"`
	YTDReturn              *float64 `json:"ytdReturn,omitempty"`
	AnnualizedReturn       float64  `json:"annualizedReturn"`
	Volatility             float64  `json:"volatility"`
	Sharpe                 float64  `json:"sharpe"`
	MaxDrawdown            float64  `json:"maxDrawdown"`
	Beta                   *float64 `json:"beta,omitempty"`
	ValueAtRisk            *float64 `json:"valueAtRisk,omitempty"`
	ConditionalValueAtRisk *float64 `json:"conditionalValueAtRisk,omitempty"`
}

// RunOutcome is the per-symbol result of an update pass.
type RunOutcome string

const (
	OutcomeUpdated   RunOutcome = "updated"
	OutcomeUnchanged RunOutcome = "unchanged"
	OutcomeSkipped   RunOutcome = "skipped"
	OutcomeFailed    RunOutcome = "failed"
)

// RunTrigger records what started an update cycle.
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
	TriggerStartup  RunTrigger = "startup"
	TriggerCLI      RunTrigger = "cli"
)

// SymbolResult records how one symbol fared during a cycle.
type SymbolResult struct {
	Symbol  string     `json:"symbol"`
	Class   AssetClass `json:"class"`
	Outcome RunOutcome `json:"outcome"`
	NewBars int        `json:"newBars"`
	Error   string     `json:"error,omitempty"`
}

// Run summarizes one update cycle.
type Run struct {
	ID         string     `json:"id"`
	Trigger    RunTrigger `json:"trigger"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
	Status     string     `json:"status"`
	Updated    int        `json:"updated"`
	Unchanged  int        `json:"unchanged"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunAborted   = "aborted"
)
