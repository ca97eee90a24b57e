package equity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"marketpulse/internal/domain"
	"marketpulse/internal/gather"
)

const chartBody = `{"chart":{"result":[{
  "meta":{"currency":"USD","gmtoffset":-14400,"regularMarketPrice":187.5,"regularMarketTime":1714766400,"regularMarketVolume":51000000},
  "timestamp":[1714397400,1714483800,1714570200,1714656600],
  "indicators":{
    "quote":[{"close":[173.5,170.33,null,173.03],"volume":[68169400,65934800,null,94214900]}],
    "adjclose":[{"adjclose":[172.9,169.7,null,null]}]
  }}],"error":null}}`

func newYahooServer(t *testing.T, status int, body string, seen *string) *Yahoo {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = r.URL.String()
		}
		if ua := r.Header.Get("User-Agent"); ua == "" || strings.HasPrefix(ua, "Go-http-client") {
			t.Errorf("missing browser User-Agent, got %q", ua)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewYahoo(srv.URL)
}

func TestYahooFetchDaily(t *testing.T) {
	var seen string
	y := newYahooServer(t, http.StatusOK, chartBody, &seen)

	r := gather.DateRange{
		Start: time.Date(2024, 4, 29, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
	}
	bars, err := y.FetchDaily(context.Background(), "brk.b", r)
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}

	if !strings.HasPrefix(seen, "/v8/finance/chart/BRK-B?") {
		t.Errorf("request path = %q", seen)
	}
	if !strings.Contains(seen, "period1=1714348800") || !strings.Contains(seen, "period2=1714694400") {
		t.Errorf("request query = %q", seen)
	}

	want := []domain.Bar{
		{Date: "2024-04-29", Adj: 172.9, Volume: 68169400},
		{Date: "2024-04-30", Adj: 169.7, Volume: 65934800},
		{Date: "2024-05-02", Adj: 173.03, Volume: 94214900},
	}
	if len(bars) != len(want) {
		t.Fatalf("got %d bars, want %d: %+v", len(bars), len(want), bars)
	}
	for i := range want {
		if bars[i] != want[i] {
			t.Errorf("bar[%d] = %+v, want %+v", i, bars[i], want[i])
		}
	}
}

func TestYahooQuote(t *testing.T) {
	y := newYahooServer(t, http.StatusOK, chartBody, nil)
	q, err := y.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Price != 187.5 || q.Currency != "USD" || q.Volume != 51000000 {
		t.Errorf("Quote = %+v", q)
	}
}

func TestYahooErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, "Too Many Requests", domain.ErrRateLimited},
		{"server error", http.StatusBadGateway, "bad gateway", domain.ErrTransient},
		{"unknown symbol", http.StatusNotFound, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, domain.ErrPermanent},
		{"api error in body", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Bad Request","description":"invalid range"}}}`, domain.ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y := newYahooServer(t, tt.status, tt.body, nil)
			r := gather.DateRange{Start: time.Now().AddDate(0, 0, -3), End: time.Now()}
			_, err := y.FetchDaily(context.Background(), "ZZZZ", r)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestYahooSymbol(t *testing.T) {
	for in, want := range map[string]string{
		"AAPL":    "AAPL",
		"BRK.B":   "BRK-B",
		"brk.b":   "BRK-B",
		"XWD.TO":  "XWD.TO",
		"XDWL.DE": "XDWL.DE",
	} {
		if got := yahooSymbol(in); got != want {
			t.Errorf("yahooSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAlpacaWrap(t *testing.T) {
	a := &Alpaca{}
	tests := []struct {
		name   string
		err    error
		want   error
		status int
	}{
		{"api 429", fmt.Errorf("GetBars AAPL: %w", &alpaca.APIError{StatusCode: 429, Message: "too many requests"}), domain.ErrRateLimited, 429},
		{"api 422", &alpaca.APIError{StatusCode: 422, Code: 42210000, Message: "invalid symbol"}, domain.ErrPermanent, 422},
		{"plain 503", errors.New("<html>unavailable</html> (HTTP 503)"), domain.ErrTransient, 503},
		{"network", errors.New("dial tcp: connection refused"), domain.ErrTransient, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.wrap(tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("wrap = %v, want %v", err, tt.want)
			}
			var pe *domain.ProviderError
			if !errors.As(err, &pe) || pe.Status != tt.status {
				t.Errorf("status = %+v, want %d", pe, tt.status)
			}
		})
	}
}

func TestAlpacaSingleRequestPerCall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":42900000,"message":"too many requests"}`))
	}))
	defer srv.Close()

	a, err := NewAlpaca(AlpacaConfig{APIKey: "k", APISecret: "s", DataURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	r := gather.DateRange{
		Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
	}

	start := time.Now()
	_, err = a.FetchDaily(context.Background(), "AAPL", r)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("err = %v, want rate limited", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("upstream requests = %d, want 1", n)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("FetchDaily took %v; the client retried internally", elapsed)
	}

	hits.Store(0)
	if _, err := a.Quote(context.Background(), "AAPL"); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("Quote err = %v, want rate limited", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("Quote upstream requests = %d, want 1", n)
	}
}

func TestCallHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	defer close(block)
	_, err := call(ctx, func() (int, error) {
		<-block
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
