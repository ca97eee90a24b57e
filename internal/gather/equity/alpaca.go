package equity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marketpulse/internal/domain"
	"marketpulse/internal/gather"
	"marketpulse/internal/util"
)

var (
	_ gather.Provider      = (*Alpaca)(nil)
	_ gather.QuoteProvider = (*Alpaca)(nil)
)

// AlpacaConfig holds Alpaca market-data credentials.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	DataURL   string // empty selects the SDK default
	Feed      string // "iex" or "sip"
}

// Alpaca reads split- and dividend-adjusted daily bars from the Alpaca
// market-data API.
type Alpaca struct {
	client *marketdata.Client
	feed   string
	et     *time.Location
	log    *slog.Logger
}

// NewAlpaca creates an Alpaca provider.
func NewAlpaca(cfg AlpacaConfig) (*Alpaca, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}

	// The fetch lane owns retries and rate-limit backoff; the SDK must
	// make exactly one request per call.
	opts := marketdata.ClientOpts{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		RetryLimit: -1,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	feed := cfg.Feed
	if feed == "" {
		feed = "iex"
	}

	return &Alpaca{
		client: marketdata.NewClient(opts),
		feed:   feed,
		et:     et,
		log:    slog.Default().With("provider", "alpaca"),
	}, nil
}

// Name returns the provider identifier.
func (a *Alpaca) Name() string { return "alpaca" }

// FetchDaily returns the daily bars in r. Alpaca stamps daily bars at
// midnight Eastern, so the bar of r.End falls after the requested end and
// the unfinished session is left out.
func (a *Alpaca) FetchDaily(ctx context.Context, symbol string, r gather.DateRange) ([]domain.Bar, error) {
	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      r.Start,
		End:        util.Midnight(r.End),
		Feed:       marketdata.Feed(a.feed),
	}

	abars, err := call(ctx, func() ([]marketdata.Bar, error) {
		return a.client.GetBars(symbol, req)
	})
	if err != nil {
		return nil, a.wrap(fmt.Errorf("GetBars %s: %w", symbol, err))
	}

	bars := make([]domain.Bar, 0, len(abars))
	for _, ab := range abars {
		if ab.Close <= 0 {
			continue
		}
		bars = append(bars, domain.Bar{
			Date:   ab.Timestamp.In(a.et).Format(domain.DateLayout),
			Adj:    ab.Close,
			Volume: int64(ab.Volume),
		})
	}
	a.log.Debug("fetched bars", "symbol", symbol, "range", r.String(), "bars", len(bars))
	return bars, nil
}

// Quote returns the latest bar's close.
func (a *Alpaca) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	bar, err := call(ctx, func() (*marketdata.Bar, error) {
		return a.client.GetLatestBar(symbol, marketdata.GetLatestBarRequest{Feed: marketdata.Feed(a.feed)})
	})
	if err != nil {
		return domain.Quote{}, a.wrap(fmt.Errorf("GetLatestBar %s: %w", symbol, err))
	}
	if bar == nil {
		return domain.Quote{}, &domain.ProviderError{Provider: a.Name(), Kind: domain.ErrPermanent, Err: fmt.Errorf("no bar for %s", symbol)}
	}
	return domain.Quote{
		Symbol:   symbol,
		Price:    bar.Close,
		Currency: "USD",
		Volume:   int64(bar.Volume),
		Time:     bar.Timestamp.UTC(),
	}, nil
}

// plainStatus matches the "(HTTP 503)" suffix the SDK uses when the
// response body is not an Alpaca JSON error.
var plainStatus = regexp.MustCompile(`\(HTTP (\d{3})\)$`)

// wrap classifies an SDK error. Errors without an HTTP status are treated
// as network failures.
func (a *Alpaca) wrap(err error) error {
	if err == nil {
		return nil
	}
	pe := &domain.ProviderError{Provider: a.Name(), Kind: domain.ErrTransient, Err: err}

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		pe.Status = apiErr.StatusCode
	} else if m := plainStatus.FindStringSubmatch(err.Error()); m != nil {
		pe.Status, _ = strconv.Atoi(m[1])
	}
	if pe.Status != 0 {
		if kind := domain.ClassifyStatus(pe.Status); kind != nil {
			pe.Kind = kind
		}
	}
	return pe
}

// call runs an SDK request, which takes no context, and abandons it if ctx
// ends first.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
