// Package snapshot reduces a series to the compact summary published after
// every update cycle.
package snapshot

import (
	"sort"
	"time"

	"marketpulse/internal/domain"
)

// Offsets, in bars from the end of the series, of the reference prices.
const (
	OneDay    = 1
	SevenDay  = 7
	ThirtyDay = 30
	NinetyDay = 90
)

// Build summarizes series for asset. Reference prices are taken by bar
// offset from the newest bar, so missing trading days do not matter; an
// offset beyond the start of the series falls back to the oldest bar. It
// returns false for an empty series.
func Build(asset domain.Asset, series domain.Series, now time.Time) (domain.Snapshot, bool) {
	last, ok := series.Last()
	if !ok {
		return domain.Snapshot{}, false
	}
	return domain.Snapshot{
		Symbol:            asset.Symbol,
		Type:              asset.Class,
		CurrentPrice:      last.Adj,
		OneDayAgoPrice:    PriceAt(series, OneDay),
		SevenDayAgoPrice:  PriceAt(series, SevenDay),
		ThirtyDayAgoPrice: PriceAt(series, ThirtyDay),
		NinetyDayAgoPrice: PriceAt(series, NinetyDay),
		Volume:            last.Volume,
		LastUpdated:       now.UnixMilli(),
	}, true
}

// PriceAt returns the adjusted close offset bars before the newest bar, or
// the oldest bar's close when the series is shorter than that.
func PriceAt(series domain.Series, offset int) float64 {
	if len(series) == 0 {
		return 0
	}
	i := len(series) - 1 - offset
	if i < 0 {
		i = 0
	}
	return series[i].Adj
}

// BuildAll summarizes every non-empty series in seriesBySymbol.
func BuildAll(assets []domain.Asset, seriesBySymbol map[string]domain.Series, now time.Time) map[string]domain.Snapshot {
	out := make(map[string]domain.Snapshot, len(assets))
	for _, a := range assets {
		if snap, ok := Build(a, seriesBySymbol[a.Symbol], now); ok {
			out[a.Symbol] = snap
		}
	}
	return out
}

// Filter returns the snapshots of one asset class sorted by symbol.
func Filter(snaps map[string]domain.Snapshot, class domain.AssetClass) []domain.Snapshot {
	out := []domain.Snapshot{}
	for _, s := range snaps {
		if s.Type == class {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
