package snapshot

import (
	"testing"
	"time"

	"marketpulse/internal/domain"
)

func makeSeries(n int) domain.Series {
	s := make(domain.Series, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range s {
		s[i] = domain.Bar{Date: start.AddDate(0, 0, i).Format(domain.DateLayout), Adj: float64(i + 1), Volume: int64(100 * (i + 1))}
	}
	return s
}

func TestBuildOffsets(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	asset := domain.Asset{Symbol: "AAPL", Class: domain.AssetClassStock}

	snap, ok := Build(asset, makeSeries(120), now)
	if !ok {
		t.Fatal("Build returned false for a non-empty series")
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"current", snap.CurrentPrice, 120},
		{"1d", snap.OneDayAgoPrice, 119},
		{"7d", snap.SevenDayAgoPrice, 113},
		{"30d", snap.ThirtyDayAgoPrice, 90},
		{"90d", snap.NinetyDayAgoPrice, 30},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s price = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if snap.Volume != 12000 {
		t.Errorf("volume = %d, want 12000", snap.Volume)
	}
	if snap.LastUpdated != now.UnixMilli() {
		t.Errorf("lastUpdated = %d, want %d", snap.LastUpdated, now.UnixMilli())
	}
	if snap.Type != domain.AssetClassStock || snap.Symbol != "AAPL" {
		t.Errorf("identity mismatch: %+v", snap)
	}
}

func TestBuildShortSeriesFallsBackToOldest(t *testing.T) {
	snap, ok := Build(domain.Asset{Symbol: "bitcoin", Class: domain.AssetClassCrypto}, makeSeries(5), time.Now())
	if !ok {
		t.Fatal("Build returned false")
	}
	if snap.OneDayAgoPrice != 4 {
		t.Errorf("1d = %v, want 4", snap.OneDayAgoPrice)
	}
	for name, p := range map[string]float64{"7d": snap.SevenDayAgoPrice, "30d": snap.ThirtyDayAgoPrice, "90d": snap.NinetyDayAgoPrice} {
		if p != 1 {
			t.Errorf("%s = %v, want oldest price 1", name, p)
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	if _, ok := Build(domain.Asset{Symbol: "X"}, nil, time.Now()); ok {
		t.Error("Build on empty series should return false")
	}
	if PriceAt(nil, 3) != 0 {
		t.Error("PriceAt on empty series should be 0")
	}
}

func TestBuildAllAndFilter(t *testing.T) {
	assets := []domain.Asset{
		{Symbol: "AAPL", Class: domain.AssetClassStock},
		{Symbol: "SPY", Class: domain.AssetClassETF},
		{Symbol: "solana", Class: domain.AssetClassCrypto},
	}
	all := BuildAll(assets, map[string]domain.Series{
		"AAPL": makeSeries(3),
		"SPY":  makeSeries(10),
	}, time.Now())

	if len(all) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(all))
	}
	if _, ok := all["solana"]; ok {
		t.Error("symbol without a series should be omitted")
	}
	etfs := Filter(all, domain.AssetClassETF)
	if len(etfs) != 1 || etfs[0].Symbol != "SPY" {
		t.Errorf("Filter(etf) = %+v", etfs)
	}
	if got := Filter(all, domain.AssetClassCrypto); got == nil || len(got) != 0 {
		t.Errorf("Filter(crypto) = %#v, want empty non-nil", got)
	}
}
