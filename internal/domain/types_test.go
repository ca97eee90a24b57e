package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseAssetClass(t *testing.T) {
	tests := []struct {
		in   string
		want AssetClass
		ok   bool
	}{
		{"stock", AssetClassStock, true},
		{"stocks", AssetClassStock, true},
		{"ETFs", AssetClassETF, true},
		{"crypto", AssetClassCrypto, true},
		{"bond", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAssetClass(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseAssetClass(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}

	if AssetClassETF.Provider() != ProviderEquities {
		t.Errorf("etf provider = %q, want %q", AssetClassETF.Provider(), ProviderEquities)
	}
	if AssetClassCrypto.Provider() != ProviderCrypto {
		t.Errorf("crypto provider = %q, want %q", AssetClassCrypto.Provider(), ProviderCrypto)
	}
}

func TestTimeframe(t *testing.T) {
	tests := []struct {
		tf     Timeframe
		ppy    float64
		stride int
	}{
		{Daily, 252, 1},
		{Weekly, 52, 5},
		{Monthly, 12, 20},
	}
	for _, tt := range tests {
		if got := tt.tf.PeriodsPerYear(); got != tt.ppy {
			t.Errorf("%s PeriodsPerYear = %v, want %v", tt.tf, got, tt.ppy)
		}
		if got := tt.tf.Stride(); got != tt.stride {
			t.Errorf("%s Stride = %d, want %d", tt.tf, got, tt.stride)
		}
	}

	if tf, ok := ParseTimeframe(""); !ok || tf != Daily {
		t.Errorf("ParseTimeframe(\"\") = %q, %v, want daily", tf, ok)
	}
	if _, ok := ParseTimeframe("hourly"); ok {
		t.Error("ParseTimeframe(hourly) should fail")
	}
}

func TestSeriesHelpers(t *testing.T) {
	var empty Series
	if _, ok := empty.Last(); ok {
		t.Error("Last on empty series should report false")
	}

	s := Series{{Date: "2024-01-02", Adj: 10}, {Date: "2024-01-03", Adj: 11}}
	last, ok := s.Last()
	if !ok || last.Date != "2024-01-03" {
		t.Errorf("Last = %+v, %v", last, ok)
	}
	prices := s.Prices()
	if len(prices) != 2 || prices[0] != 10 || prices[1] != 11 {
		t.Errorf("Prices = %v", prices)
	}
	day, err := s[0].Day()
	if err != nil || day.Day() != 2 {
		t.Errorf("Day = %v, %v", day, err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{200, nil},
		{429, ErrRateLimited},
		{500, ErrTransient},
		{503, ErrTransient},
		{408, ErrTransient},
		{404, ErrPermanent},
		{401, ErrPermanent},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("fetch AAPL: %w", &ProviderError{Provider: "yahoo", Status: 429, Kind: ErrRateLimited, Err: cause})

	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected ErrRateLimited to match")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to match")
	}
	if errors.Is(err, ErrPermanent) {
		t.Error("did not expect ErrPermanent to match")
	}
	if !IsRetryable(err) {
		t.Error("rate limited error should be retryable")
	}
	if IsRetryable(&ProviderError{Provider: "yahoo", Kind: ErrPermanent, Err: cause}) {
		t.Error("permanent error should not be retryable")
	}
}
