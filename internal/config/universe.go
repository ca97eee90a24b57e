package config

import (
	"strings"

	"marketpulse/internal/domain"
)

// Universe is the static list of tracked symbols. Crypto entries are
// CoinGecko coin ids.
type Universe struct {
	Stocks  []string `yaml:"stocks" toml:"stocks"`
	ETFs    []string `yaml:"etfs" toml:"etfs"`
	Cryptos []string `yaml:"cryptos" toml:"cryptos"`
}

// DefaultUniverse returns the built-in symbol lists.
func DefaultUniverse() Universe {
	return Universe{
		Stocks: []string{
			"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA",
			"NVDA", "META", "BRK.B", "TSM", "V",
			"JNJ", "WMT", "MA", "JPM", "PG",
			"UNH", "HD", "DIS", "ADBE", "PYPL",
			"NFLX", "KO", "PEP", "XOM", "CVX",
			"INTC", "CSCO", "CRM", "ORCL", "PFE",
			"MRK", "ABT", "TMO", "ASML", "AVGO",
			"MCD", "NKE", "LLY", "TXN", "COST",
			"BAC", "C", "WFC", "GS", "MS",
			"UPS", "NEE", "DHR", "BMY", "HON",
		},
		ETFs: []string{
			"SPY", "QQQ", "VTI", "IWM", "EEM",
			"EFA", "AGG", "LQD", "HYG", "VNQ",
			"XLF", "XLY", "XLP", "XLV", "XLI",
			"XLE", "XLK", "XLB", "XLC", "GLD",
			"XWD.TO", "XDWL.DE",
		},
		Cryptos: []string{"bitcoin", "ethereum", "ripple", "solana"},
	}
}

// Assets flattens the universe, skipping blanks and repeated symbols. The
// first class a symbol appears under wins.
func (u Universe) Assets() []domain.Asset {
	seen := make(map[string]bool)
	var out []domain.Asset
	add := func(symbols []string, class domain.AssetClass) {
		for _, s := range symbols {
			s = strings.TrimSpace(s)
			key := strings.ToLower(s)
			if s == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, domain.Asset{Symbol: s, Class: class})
		}
	}
	add(u.Stocks, domain.AssetClassStock)
	add(u.ETFs, domain.AssetClassETF)
	add(u.Cryptos, domain.AssetClassCrypto)
	return out
}

// Resolve finds the asset for id ignoring letter case.
func (u Universe) Resolve(id string) (domain.Asset, bool) {
	id = strings.TrimSpace(id)
	for _, a := range u.Assets() {
		if strings.EqualFold(a.Symbol, id) {
			return a, true
		}
	}
	return domain.Asset{}, false
}
