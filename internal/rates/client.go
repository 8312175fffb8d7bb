// Package rates is the HTTP client for the exchange-rate service.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Currencies returns the supported cryptocurrency tickers, in the service's
// order.
func (c *Client) Currencies(ctx context.Context) ([]string, error) {
	data, err := c.doRequest(ctx, "/currencies")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Currencies []string `json:"currencies"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal currencies: %w", err)
	}
	return resp.Currencies, nil
}

// Prices returns the unit price per ticker in the quote currency.
func (c *Client) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	data, err := c.doRequest(ctx, "/prices")
	if err != nil {
		return nil, err
	}

	var prices map[string]decimal.Decimal
	if err := json.Unmarshal(data, &prices); err != nil {
		return nil, fmt.Errorf("unmarshal prices: %w", err)
	}
	return prices, nil
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("rates error %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
