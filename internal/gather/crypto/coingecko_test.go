package crypto

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/gather"
)

func TestNewCoinGeckoKeyHeaders(t *testing.T) {
	if _, err := NewCoinGecko("", ""); err == nil {
		t.Fatal("expected error for missing api key")
	}

	demo, err := NewCoinGecko("CG-abc", "")
	if err != nil {
		t.Fatal(err)
	}
	if demo.baseURL != DemoURL || demo.header.Get("x-cg-demo-api-key") != "CG-abc" {
		t.Errorf("demo client: base %q headers %v", demo.baseURL, demo.header)
	}

	pro, err := NewCoinGecko("cg_pro_xyz", "")
	if err != nil {
		t.Fatal(err)
	}
	if pro.baseURL != ProURL || pro.header.Get("x-cg-pro-api-key") != "cg_pro_xyz" {
		t.Errorf("pro client: base %q headers %v", pro.baseURL, pro.header)
	}
}

func TestResample(t *testing.T) {
	ms := func(s string) float64 {
		ts, _ := time.Parse(time.RFC3339, s)
		return float64(ts.UnixMilli())
	}
	bars := Resample([][2]float64{
		{ms("2025-03-01T00:05:00Z"), 100},
		{ms("2025-03-01T12:00:00Z"), 101},
		{ms("2025-03-01T23:55:00Z"), 102},
		{ms("2025-03-02T08:00:00Z"), 0}, // dropped
		{ms("2025-03-03T01:00:00Z"), 110},
	})
	want := []domain.Bar{
		{Date: "2025-03-01", Adj: 102},
		{Date: "2025-03-03", Adj: 110},
	}
	if len(bars) != len(want) {
		t.Fatalf("Resample = %+v, want %+v", bars, want)
	}
	for i := range want {
		if bars[i] != want[i] {
			t.Errorf("bar[%d] = %+v, want %+v", i, bars[i], want[i])
		}
	}
}

func newServer(t *testing.T, handler http.HandlerFunc) *CoinGecko {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewCoinGecko("CG-test", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC) }
	return c
}

func TestFetchDaily(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin/market_chart" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("days"); got != "90" {
			t.Errorf("days = %q, want 90", got)
		}
		if r.Header.Get("x-cg-demo-api-key") != "CG-test" {
			t.Error("missing api key header")
		}
		_, _ = w.Write([]byte(`{"prices":[[1740787200000,84000.5],[1740830400000,85000.25],[1740873600000,86000]],"total_volumes":[]}`))
	})

	r := gather.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
	}
	bars, err := c.FetchDaily(context.Background(), "bitcoin", r)
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}
	want := []domain.Bar{
		{Date: "2025-03-01", Adj: 85000.25},
		{Date: "2025-03-02", Adj: 86000},
	}
	if len(bars) != len(want) {
		t.Fatalf("bars = %+v, want %+v", bars, want)
	}
	for i := range want {
		if bars[i] != want[i] {
			t.Errorf("bar[%d] = %+v, want %+v", i, bars[i], want[i])
		}
	}
}

func TestSpotAndQuote(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("ids") != "solana" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`{"solana":{"usd":142.37,"usd_24h_vol":2345678901.5}}`))
	})

	bar, err := c.Spot(context.Background(), "solana")
	if err != nil {
		t.Fatalf("Spot: %v", err)
	}
	if bar != (domain.Bar{Date: "2025-03-03", Adj: 142.37, Volume: 2345678901}) {
		t.Errorf("Spot = %+v", bar)
	}

	q, err := c.Quote(context.Background(), "solana")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Price != 142.37 || q.Currency != "USD" {
		t.Errorf("Quote = %+v", q)
	}
}

func TestSpotErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unknown id", http.StatusOK, `{}`, domain.ErrPermanent},
		{"rate limited", http.StatusTooManyRequests, `{"status":{"error_code":429}}`, domain.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{"status":{"error_code":10002}}`, domain.ErrPermanent},
		{"server error", http.StatusServiceUnavailable, ``, domain.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Spot(context.Background(), "nosuchcoin")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
