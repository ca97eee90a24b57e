// Package equity provides daily bar sources for stocks and ETFs.
package equity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/fetch"
	"marketpulse/internal/gather"
	"marketpulse/internal/util"
)

// DefaultYahooURL is the public Yahoo Finance chart API.
const DefaultYahooURL = "https://query1.finance.yahoo.com"

var (
	_ gather.Provider      = (*Yahoo)(nil)
	_ gather.QuoteProvider = (*Yahoo)(nil)
)

// Yahoo reads adjusted daily closes from the Yahoo Finance v8 chart API.
type Yahoo struct {
	client  *http.Client
	baseURL string
	header  http.Header
}

// NewYahoo creates a Yahoo provider. An empty baseURL selects
// DefaultYahooURL. Each request is bounded by the caller's context; the
// client carries no timeout of its own.
func NewYahoo(baseURL string) *Yahoo {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (compatible; marketpulse/1.0)")
	h.Set("Accept", "application/json")
	return &Yahoo{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  h,
	}
}

// Name returns the provider identifier.
func (y *Yahoo) Name() string { return "yahoo" }

// chartResponse is the subset of the chart payload we read. Nullable series
// entries decode as nil pointers.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				GMTOffset          int64   `json:"gmtoffset"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				RegularMarketVol   int64   `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDaily returns the daily bars in r. Yahoo's period2 is exclusive, so
// the session of r.End itself is never included while it may still be
// trading.
func (y *Yahoo) FetchDaily(ctx context.Context, symbol string, r gather.DateRange) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(r.Start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(util.Midnight(r.End).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "history")
	q.Set("includeAdjustedClose", "true")

	chart, err := y.chart(ctx, symbol, q)
	if err != nil {
		return nil, err
	}
	if len(chart.Chart.Result) == 0 {
		return nil, nil
	}

	res := chart.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]domain.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		price := at(adj, i)
		if price == nil {
			price = at(quote.Close, i)
		}
		if price == nil || *price <= 0 {
			continue // holidays and halted sessions come back as nulls
		}
		var vol int64
		if v := at(quote.Volume, i); v != nil {
			vol = int64(*v)
		}
		bars = append(bars, domain.Bar{
			Date:   time.Unix(ts+res.Meta.GMTOffset, 0).UTC().Format(domain.DateLayout),
			Adj:    *price,
			Volume: vol,
		})
	}
	return bars, nil
}

// Quote returns the latest regular-session price.
func (y *Yahoo) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	q := url.Values{}
	q.Set("range", "1d")
	q.Set("interval", "1d")

	chart, err := y.chart(ctx, symbol, q)
	if err != nil {
		return domain.Quote{}, err
	}
	if len(chart.Chart.Result) == 0 || chart.Chart.Result[0].Meta.RegularMarketPrice == 0 {
		return domain.Quote{}, &domain.ProviderError{Provider: y.Name(), Kind: domain.ErrPermanent, Err: fmt.Errorf("no quote for %s", symbol)}
	}
	meta := chart.Chart.Result[0].Meta
	return domain.Quote{
		Symbol:   symbol,
		Price:    meta.RegularMarketPrice,
		Currency: meta.Currency,
		Volume:   meta.RegularMarketVol,
		Time:     time.Unix(meta.RegularMarketTime, 0).UTC(),
	}, nil
}

func (y *Yahoo) chart(ctx context.Context, symbol string, q url.Values) (*chartResponse, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(yahooSymbol(symbol)), q.Encode())

	var chart chartResponse
	if err := fetch.GetJSON(ctx, y.client, y.Name(), u, y.header, &chart); err != nil {
		return nil, err
	}
	if e := chart.Chart.Error; e != nil {
		return nil, &domain.ProviderError{Provider: y.Name(), Kind: domain.ErrPermanent, Err: errors.New(e.Code + ": " + e.Description)}
	}
	return &chart, nil
}

// shareClass matches share-class tickers such as BRK.B. Exchange suffixes
// like XWD.TO are longer than one letter and pass through unchanged.
var shareClass = regexp.MustCompile(`^([A-Z]+)\.([A-Z])$`)

// yahooSymbol maps BRK.B to Yahoo's BRK-B form.
func yahooSymbol(symbol string) string {
	return shareClass.ReplaceAllString(strings.ToUpper(symbol), "$1-$2")
}

func at(xs []*float64, i int) *float64 {
	if i < len(xs) {
		return xs[i]
	}
	return nil
}
