// Package httpapi serves snapshots, series, quotes, update control, and risk
// metrics over a JSON REST API.
package httpapi

import (
	"marketpulse/internal/domain"
)

// SeriesResponse is a stored series for one symbol.
type SeriesResponse struct {
	Symbol string            `json:"symbol"`
	Type   domain.AssetClass `json:"type,omitempty"`
	Bars   []domain.Bar      `json:"bars"`
}

// HistoryResponse is a proxied provider history.
type HistoryResponse struct {
	Symbol string       `json:"symbol"`
	From   string       `json:"from"`
	To     string       `json:"to"`
	Bars   []domain.Bar `json:"bars"`
}

// UpdateResponse answers a manual update trigger.
type UpdateResponse struct {
	Status string `json:"status"` // "started" or "running"
}

// UpdateStatusResponse reports the updater state.
type UpdateStatusResponse struct {
	Running bool        `json:"running"`
	LastRun *domain.Run `json:"lastRun,omitempty"`
}

// RunsResponse lists recent update cycles.
type RunsResponse struct {
	Runs []domain.Run `json:"runs"`
}

// RunDetailResponse is one cycle with its per-symbol outcomes.
type RunDetailResponse struct {
	ID      string                `json:"id"`
	Results []domain.SymbolResult `json:"results"`
}

// PortfolioMetricsRequest asks for metrics of a set of holdings.
type PortfolioMetricsRequest struct {
	domain.Portfolio
	Timeframe string `json:"timeframe,omitempty"`
}

// MetricsResponse wraps a metrics result with its inputs.
type MetricsResponse struct {
	Symbol    string             `json:"symbol,omitempty"`
	Timeframe domain.Timeframe   `json:"timeframe"`
	Metrics   domain.RiskMetrics `json:"metrics"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}
