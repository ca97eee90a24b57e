// Package marketpulse is a Go client for the marketpulse-server HTTP API.
package marketpulse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketpulse/internal/domain"
	"marketpulse/internal/httpapi"
)

// Client talks to a marketpulse-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketpulse: status %d: %s", e.Status, e.Message)
}

// GetSnapshots returns every published snapshot keyed by symbol.
func (c *Client) GetSnapshots(ctx context.Context) (map[string]domain.Snapshot, error) {
	var out map[string]domain.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/market-data", nil, &out)
	return out, err
}

// GetClass returns the snapshots of one asset class sorted by symbol.
func (c *Client) GetClass(ctx context.Context, class domain.AssetClass) ([]domain.Snapshot, error) {
	var out []domain.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/market-data/"+url.PathEscape(string(class)), nil, &out)
	return out, err
}

// GetSeries returns the stored series for symbol, starting at from when it
// is non-empty (YYYY-MM-DD).
func (c *Client) GetSeries(ctx context.Context, symbol, from string) (httpapi.SeriesResponse, error) {
	path := "/api/series/" + url.PathEscape(symbol)
	if from != "" {
		path += "?from=" + url.QueryEscape(from)
	}
	var out httpapi.SeriesResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// TriggerUpdate asks the server to start an update cycle. The returned
// status is "started" or "running".
func (c *Client) TriggerUpdate(ctx context.Context) (string, error) {
	var out httpapi.UpdateResponse
	err := c.do(ctx, http.MethodPost, "/api/update", nil, &out)
	return out.Status, err
}

// UpdateStatus reports whether a cycle is running and the last finished one.
func (c *Client) UpdateStatus(ctx context.Context) (httpapi.UpdateStatusResponse, error) {
	var out httpapi.UpdateStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/update/status", nil, &out)
	return out, err
}

// Runs lists up to limit recent update cycles, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]domain.Run, error) {
	var out httpapi.RunsResponse
	err := c.do(ctx, http.MethodGet, "/api/update/runs?limit="+strconv.Itoa(limit), nil, &out)
	return out.Runs, err
}

// AssetMetrics computes metrics for quantity units of symbol.
func (c *Client) AssetMetrics(ctx context.Context, symbol string, quantity decimal.Decimal, tf domain.Timeframe) (domain.RiskMetrics, error) {
	q := url.Values{}
	q.Set("quantity", quantity.String())
	if tf != "" {
		q.Set("timeframe", string(tf))
	}
	var out httpapi.MetricsResponse
	err := c.do(ctx, http.MethodGet, "/api/metrics/"+url.PathEscape(symbol)+"?"+q.Encode(), nil, &out)
	return out.Metrics, err
}

// PortfolioMetrics computes metrics for a portfolio.
func (c *Client) PortfolioMetrics(ctx context.Context, p domain.Portfolio, tf domain.Timeframe) (domain.RiskMetrics, error) {
	body, err := json.Marshal(httpapi.PortfolioMetricsRequest{Portfolio: p, Timeframe: string(tf)})
	if err != nil {
		return domain.RiskMetrics{}, err
	}
	var out httpapi.MetricsResponse
	err = c.do(ctx, http.MethodPost, "/api/metrics/portfolio", body, &out)
	return out.Metrics, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
