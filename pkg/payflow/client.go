package payflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/frankchat/tokengate/internal/models"
)

// API is an HTTP client for the tokengate server's payment and pricing
// endpoints — the calls the payment UI makes.
type API struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CoinList returns the supported cryptocurrency tickers.
func (a *API) CoinList(ctx context.Context) ([]string, error) {
	data, err := a.doRequest(ctx, http.MethodGet, "/api/coinList", nil)
	if err != nil {
		return nil, err
	}

	var resp models.CoinListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal coin list: %w", err)
	}
	return resp.Currencies, nil
}

// TokenPrices returns the price sheet and the platform token's reference price.
func (a *API) TokenPrices(ctx context.Context) (*models.PriceSheet, error) {
	data, err := a.doRequest(ctx, http.MethodGet, "/api/tokenPrices", nil)
	if err != nil {
		return nil, err
	}

	var sheet models.PriceSheet
	if err := json.Unmarshal(data, &sheet); err != nil {
		return nil, fmt.Errorf("unmarshal price sheet: %w", err)
	}
	return &sheet, nil
}

// CreatePayment opens a payment session.
func (a *API) CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.PaymentSession, error) {
	data, err := a.doRequest(ctx, http.MethodPost, "/api/create-payment", req)
	if err != nil {
		return nil, err
	}

	var session models.PaymentSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal payment session: %w", err)
	}
	return &session, nil
}

// PaymentStatus fetches the current status of a session.
func (a *API) PaymentStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	data, err := a.doRequest(ctx, http.MethodGet, "/api/payment-status/"+paymentID, nil)
	if err != nil {
		return "", err
	}

	var resp models.PaymentStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal payment status: %w", err)
	}
	return resp.PaymentStatus, nil
}

func (a *API) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
