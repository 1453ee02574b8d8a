package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kilianp07/ugs/auth"
	"github.com/kilianp07/ugs/core/model"
)

// HTTPConfig points at a forward-curve endpoint.
type HTTPConfig struct {
	URL            string    `json:"url"`
	Auth           auth.Conf `json:"auth"`
	TimeoutSeconds int       `json:"timeout_seconds"`
}

type curveResponse struct {
	Prices []struct {
		Date  string          `json:"date"`
		Price decimal.Decimal `json:"price"`
	} `json:"prices"`
}

// Fetch downloads the curve from cfg.HTTP.URL. The delivery window is sent
// as start_date and end_date query parameters. CSV bodies are parsed like
// files, any other content type is read as {"prices":[{"date","price"}]}.
func Fetch(ctx context.Context, cfg Config) (model.PriceSeries, error) {
	cfg.SetDefaults()
	timeout := time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	var creds *auth.ClientCred
	if cfg.HTTP.Auth.Enabled() {
		creds = auth.NewClientCred(cfg.HTTP.Auth)
	}

	u, err := url.Parse(cfg.HTTP.URL)
	if err != nil {
		return nil, fmt.Errorf("prices url: %w", err)
	}
	q := u.Query()
	if cfg.Start != "" {
		q.Set("start_date", cfg.Start)
	}
	if cfg.End != "" {
		q.Set("end_date", cfg.End)
	}
	u.RawQuery = q.Encode()

	resp, err := get(ctx, client, creds, u.String())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && creds != nil {
		_ = resp.Body.Close()
		creds.Invalidate()
		if resp, err = get(ctx, client, creds, u.String()); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, body)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "csv") {
		return ReadCSV(resp.Body, cfg)
	}
	var cr curveResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInvalidSeries, err)
	}
	raw := make([]rawPoint, len(cr.Prices))
	for i, p := range cr.Prices {
		raw[i] = rawPoint{date: p.Date, price: p.Price.String(), line: i + 1}
	}
	return build(raw, cfg)
}

func get(ctx context.Context, client *http.Client, creds *auth.ClientCred, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/csv")
	if creds != nil {
		if err := creds.SetAuthHeader(req); err != nil {
			return nil, fmt.Errorf("failed to set auth header: %w", err)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}
