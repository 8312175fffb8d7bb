// Package gateway is the HTTP client for the crypto payment gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/frankchat/tokengate/internal/models"
)

// Client talks to a NOWPayments-style REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreatePayment opens a payment session for the given fiat amount.
func (c *Client) CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.PaymentSession, error) {
	payload := map[string]any{
		"price_currency": req.PriceCurrency,
		"price_amount":   req.PriceAmount,
		"pay_currency":   req.PayCurrency,
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/payment", payload)
	if err != nil {
		return nil, err
	}

	var session models.PaymentSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	if session.Status == "" {
		session.Status = models.StatusWaiting
	}
	return &session, nil
}

// PaymentStatus fetches the current status of a payment session.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/payment/"+paymentID, nil)
	if err != nil {
		return "", err
	}

	var resp models.PaymentStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal status: %w", err)
	}
	return resp.PaymentStatus, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

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
		return nil, fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
