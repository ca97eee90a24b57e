package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"marketpulse/internal/domain"
)

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 512

// GetJSON performs a GET and decodes a JSON body into out. Failures are
// returned as *domain.ProviderError classified by status: network errors
// and 5xx are transient, 429 is rate limited, other 4xx are permanent.
func GetJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, out any) error {
	body, err := Get(ctx, client, provider, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ProviderError{Provider: provider, Kind: domain.ErrPermanent, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// Get performs a GET and returns the body of a 2xx response.
func Get(ctx context.Context, client *http.Client, provider, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.ProviderError{Provider: provider, Kind: domain.ErrPermanent, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		return nil, &domain.ProviderError{Provider: provider, Kind: domain.ErrTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: provider, Status: resp.StatusCode, Kind: domain.ErrTransient, Err: fmt.Errorf("reading body: %w", err)}
	}
	if kind := domain.ClassifyStatus(resp.StatusCode); kind != nil {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &domain.ProviderError{Provider: provider, Status: resp.StatusCode, Kind: kind, Err: errors.New(msg)}
	}
	return body, nil
}
