// Package crypto provides the CoinGecko source for crypto-asset bars.
package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"marketpulse/internal/domain"
	"marketpulse/internal/fetch"
	"marketpulse/internal/gather"
	"marketpulse/internal/store"
)

// CoinGecko API roots. Pro keys are only accepted by the pro host.
const (
	DemoURL = "https://api.coingecko.com/api/v3"
	ProURL  = "https://pro-api.coingecko.com/api/v3"
)

// MaxChartDays caps the history requested from the market_chart endpoint.
const MaxChartDays = 90

const proKeyPrefix = "cg_pro_"

var (
	_ gather.Provider      = (*CoinGecko)(nil)
	_ gather.SpotProvider  = (*CoinGecko)(nil)
	_ gather.QuoteProvider = (*CoinGecko)(nil)
)

// CoinGecko reads USD prices keyed by CoinGecko coin id (e.g. "bitcoin").
type CoinGecko struct {
	client  *http.Client
	baseURL string
	header  http.Header
	now     func() time.Time
}

// NewCoinGecko creates the provider. apiKey is required. An empty baseURL
// selects the demo or pro host from the key's form.
func NewCoinGecko(apiKey, baseURL string) (*CoinGecko, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("coingecko: api key is required")
	}
	h := http.Header{}
	h.Set("Accept", "application/json")
	if strings.HasPrefix(apiKey, proKeyPrefix) {
		h.Set("x-cg-pro-api-key", apiKey)
		if baseURL == "" {
			baseURL = ProURL
		}
	} else {
		h.Set("x-cg-demo-api-key", apiKey)
		if baseURL == "" {
			baseURL = DemoURL
		}
	}
	return &CoinGecko{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  h,
		now:     time.Now,
	}, nil
}

// Name returns the provider identifier.
func (c *CoinGecko) Name() string { return "coingecko" }

type marketChart struct {
	Prices [][2]float64 `json:"prices"` // [epoch ms, price]
}

// FetchDaily returns one bar per UTC day, holding the last price observed
// that day. The chart endpoint carries no per-day volume, so Volume is 0.
func (c *CoinGecko) FetchDaily(ctx context.Context, id string, r gather.DateRange) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", strconv.Itoa(min(r.Days(), MaxChartDays)))
	u := fmt.Sprintf("%s/coins/%s/market_chart?%s", c.baseURL, url.PathEscape(id), q.Encode())

	var chart marketChart
	if err := fetch.GetJSON(ctx, c.client, c.Name(), u, c.header, &chart); err != nil {
		return nil, err
	}
	return Resample(chart.Prices), nil
}

// Resample turns a [epoch ms, price] series into daily bars, keeping the
// last point of each UTC day.
func Resample(points [][2]float64) []domain.Bar {
	bars := make([]domain.Bar, 0, len(points))
	for _, p := range points {
		if p[1] <= 0 {
			continue
		}
		bars = append(bars, domain.Bar{
			Date: time.UnixMilli(int64(p[0])).UTC().Format(domain.DateLayout),
			Adj:  p[1],
		})
	}
	return store.Dedup(bars)
}

// Spot returns today's live price with its 24h volume. The caller assigns
// the bar date.
func (c *CoinGecko) Spot(ctx context.Context, id string) (domain.Bar, error) {
	price, vol, err := c.simplePrice(ctx, id)
	if err != nil {
		return domain.Bar{}, err
	}
	return domain.Bar{
		Date:   c.now().UTC().Format(domain.DateLayout),
		Adj:    price,
		Volume: int64(vol),
	}, nil
}

// Quote returns the live USD price.
func (c *CoinGecko) Quote(ctx context.Context, id string) (domain.Quote, error) {
	price, vol, err := c.simplePrice(ctx, id)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		Symbol:   id,
		Price:    price,
		Currency: "USD",
		Volume:   int64(vol),
		Time:     c.now().UTC(),
	}, nil
}

func (c *CoinGecko) simplePrice(ctx context.Context, id string) (price, volume float64, err error) {
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_vol", "true")
	u := c.baseURL + "/simple/price?" + q.Encode()

	body, err := fetch.Get(ctx, c.client, c.Name(), u, c.header)
	if err != nil {
		return 0, 0, err
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, 0, c.permanent(fmt.Errorf("decoding simple price: %w", err))
	}

	price, err = lookup(doc, fmt.Sprintf("$[%q].usd", id))
	if err != nil {
		// An unknown id comes back as an empty object.
		return 0, 0, c.permanent(fmt.Errorf("no price for %s: %w", id, err))
	}
	volume, _ = lookup(doc, fmt.Sprintf("$[%q].usd_24h_vol", id))
	return price, volume, nil
}

func (c *CoinGecko) permanent(err error) error {
	return &domain.ProviderError{Provider: c.Name(), Kind: domain.ErrPermanent, Err: err}
}

// lookup evaluates a JSONPath expression expected to yield one number.
func lookup(doc any, path string) (float64, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return 0, err
	}
	// jsonpath may wrap a single match in a list.
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return 0, fmt.Errorf("%s: no match", path)
		}
		v = list[0]
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s: not a number: %v", path, v)
	}
	return f, nil
}
