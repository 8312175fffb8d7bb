package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/frankchat/tokengate/internal/abuse"
	"github.com/frankchat/tokengate/internal/models"
	"github.com/frankchat/tokengate/internal/oplog"
	"github.com/frankchat/tokengate/internal/store"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	ensureErr  error
	recordErr  error
	creditErr  error
	ensured    []string
	recorded   []string
	credited   []string
	creditedOK bool
}

func (f *fakeLedger) EnsureAccount(ctx context.Context, wallet string) (*models.WalletAccount, error) {
	f.ensured = append(f.ensured, wallet)
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	return &models.WalletAccount{WalletAddress: wallet}, nil
}

func (f *fakeLedger) RecordPayment(ctx context.Context, paymentID, wallet string, tokens int64) error {
	f.recorded = append(f.recorded, paymentID)
	return f.recordErr
}

func (f *fakeLedger) CreditPayment(ctx context.Context, paymentID string) (bool, error) {
	f.credited = append(f.credited, paymentID)
	if f.creditErr != nil {
		return false, f.creditErr
	}
	return f.creditedOK, nil
}

type fakeRelay struct {
	reply string
	err   error
	calls int
}

func (f *fakeRelay) Relay(ctx context.Context, wallet string, msgs []models.ChatMessage) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakePayGateway struct {
	session   *models.PaymentSession
	createErr error
	status    models.PaymentStatus
	statusErr error
}

func (f *fakePayGateway) CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.PaymentSession, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.session, nil
}

func (f *fakePayGateway) PaymentStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

type fakeRates struct {
	currencies []string
	prices     map[string]decimal.Decimal
	err        error
}

func (f *fakeRates) Currencies(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.currencies, nil
}

func (f *fakeRates) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

type fixture struct {
	handler *Handler
	ledger  *fakeLedger
	relay   *fakeRelay
	gateway *fakePayGateway
	rates   *fakeRates
	guard   *abuse.Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := zap.NewNop().Sugar()
	op, err := oplog.New(t.TempDir(), log)
	require.NoError(t, err)

	f := &fixture{
		ledger:  &fakeLedger{},
		relay:   &fakeRelay{reply: "hello from the model"},
		gateway: &fakePayGateway{session: &models.PaymentSession{PaymentID: "pay-1", PayCurrency: "btc"}},
		rates:   &fakeRates{currencies: []string{"btc", "eth"}, prices: map[string]decimal.Decimal{"btc": decimal.NewFromInt(60000), "ninj": decimal.NewFromFloat(0.1)}},
		guard:   abuse.NewGuard(nil),
	}
	f.handler = NewHandler(f.ledger, f.relay, f.gateway, f.rates, f.guard, op, log, "ninj")
	return f
}

func chatBody(t *testing.T, wallet string) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(models.ChatRequest{
		Messages:                []models.ChatMessage{{Role: "user", Content: "hi"}},
		ConnectedAccountAddress: wallet,
	})
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["message"]
}

func TestChatSuccess(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(t, "0xabc"))
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	f.handler.Chat(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "hello from the model", rec.Body.String())
}

func TestChatNoTokens(t *testing.T) {
	f := newFixture(t)
	f.relay.err = store.ErrInsufficientTokens

	req := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(t, "0xabc"))
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	f.handler.Chat(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, noTokensMessage, messageOf(t, rec))
}

func TestChatUnknownWallet(t *testing.T) {
	f := newFixture(t)
	f.relay.err = store.ErrNotFound

	req := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(t, "0xghost"))
	req.RemoteAddr = "10.0.0.3:1234"
	rec := httptest.NewRecorder()
	f.handler.Chat(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, unknownWalletMessage, messageOf(t, rec))
}

func TestChatValidationRejectsBadShapes(t *testing.T) {
	f := newFixture(t)

	// messages is a string, not an array; the relay must not run.
	body := `{"messages": "not an array", "connectedAccountAddress": "0xabc"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.4:1234"
	rec := httptest.NewRecorder()
	f.handler.Chat(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string][]models.FieldError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["errors"], 1)
	assert.Equal(t, "messages", resp["errors"][0].Field)
	assert.Zero(t, f.relay.calls)
}

func TestChatMissingWallet(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(t, ""))
	req.RemoteAddr = "10.0.0.5:1234"
	rec := httptest.NewRecorder()
	f.handler.Chat(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string][]models.FieldError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["errors"], 1)
	assert.Equal(t, "connectedAccountAddress", resp["errors"][0].Field)
	assert.Zero(t, f.relay.calls)
}

func TestChatThrottleNamesWallet(t *testing.T) {
	f := newFixture(t)

	first := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(t, "0xabc"))
	first.RemoteAddr = "10.0.0.6:1234"
	f.handler.Chat(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(t, "0xabc"))
	second.RemoteAddr = "10.0.0.6:5678"
	rec := httptest.NewRecorder()
	f.handler.Chat(rec, second)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, messageOf(t, rec), "0xabc")
	assert.Equal(t, 1, f.relay.calls, "the throttled request must not reach the relay")
}

func TestRepeatedServerErrorsBlockTheIP(t *testing.T) {
	f := newFixture(t)
	f.rates.err = errors.New("price source down")

	var rec *httptest.ResponseRecorder
	for i := 0; i < abuse.MaxFailures; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/coinList", nil)
		req.RemoteAddr = "10.0.0.7:1234"
		rec = httptest.NewRecorder()
		f.handler.CoinList(rec, req)
	}

	// The failure that crosses the threshold already answers 403.
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", messageOf(t, rec))

	// From now on every route refuses the IP, even with a valid payload.
	guarded := f.handler.BlockGuard(http.HandlerFunc(f.handler.Chat))
	req := httptest.NewRequest(http.MethodPost, "/api/chat", chatBody(t, "0xabc"))
	req.RemoteAddr = "10.0.0.7:9999"
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, f.relay.calls)
}

func TestServerErrorHidesDetail(t *testing.T) {
	f := newFixture(t)
	f.rates.err = errors.New("secret internal detail")

	req := httptest.NewRequest(http.MethodGet, "/api/coinList", nil)
	req.RemoteAddr = "10.0.0.8:1234"
	rec := httptest.NewRecorder()
	f.handler.CoinList(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, internalErrorMessage, messageOf(t, rec))
	assert.NotContains(t, rec.Body.String(), "secret internal detail")
}

func TestWalletConnect(t *testing.T) {
	f := newFixture(t)

	body := `{"walletAddress": "0xabc"}`
	req := httptest.NewRequest(http.MethodPost, "/api/wallet-connect", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.9:1234"
	rec := httptest.NewRecorder()
	f.handler.WalletConnect(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Wallet connected successfully", messageOf(t, rec))
	assert.Equal(t, []string{"0xabc"}, f.ledger.ensured)
}

func TestWalletConnectRequiresAddress(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/wallet-connect", strings.NewReader(`{}`))
	req.RemoteAddr = "10.0.0.10:1234"
	rec := httptest.NewRecorder()
	f.handler.WalletConnect(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.ledger.ensured)
}

func TestCreatePaymentRecordsPendingCredit(t *testing.T) {
	f := newFixture(t)

	body := `{"pay_currency": "btc", "price_amount": 10, "wallet_address": "0xabc", "token_amount": 100}`
	req := httptest.NewRequest(http.MethodPost, "/api/create-payment", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.11:1234"
	rec := httptest.NewRecorder()
	f.handler.CreatePayment(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"pay-1"}, f.ledger.recorded)

	var session models.PaymentSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "pay-1", session.PaymentID)
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/create-payment", strings.NewReader(`{"price_amount": -1}`))
	req.RemoteAddr = "10.0.0.12:1234"
	rec := httptest.NewRecorder()
	f.handler.CreatePayment(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string][]models.FieldError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp["errors"], 2)
}

func TestPaymentStatusCreditsOnFinished(t *testing.T) {
	f := newFixture(t)
	f.gateway.status = models.StatusFinished
	f.ledger.creditedOK = true

	r := mux.NewRouter()
	r.HandleFunc("/api/payment-status/{id}", f.handler.PaymentStatus)

	req := httptest.NewRequest(http.MethodGet, "/api/payment-status/pay-1", nil)
	req.RemoteAddr = "10.0.0.13:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"pay-1"}, f.ledger.credited)

	var resp models.PaymentStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusFinished, resp.PaymentStatus)
}

func TestPaymentStatusSkipsCreditWhilePending(t *testing.T) {
	f := newFixture(t)
	f.gateway.status = models.StatusConfirming

	r := mux.NewRouter()
	r.HandleFunc("/api/payment-status/{id}", f.handler.PaymentStatus)

	req := httptest.NewRequest(http.MethodGet, "/api/payment-status/pay-1", nil)
	req.RemoteAddr = "10.0.0.14:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.ledger.credited)
}

func TestPaymentStatusReportedEvenIfCreditFails(t *testing.T) {
	f := newFixture(t)
	f.gateway.status = models.StatusFinished
	f.ledger.creditErr = errors.New("db gone")

	r := mux.NewRouter()
	r.HandleFunc("/api/payment-status/{id}", f.handler.PaymentStatus)

	req := httptest.NewRequest(http.MethodGet, "/api/payment-status/pay-1", nil)
	req.RemoteAddr = "10.0.0.15:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.PaymentStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusFinished, resp.PaymentStatus)
}

func TestCoinList(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/coinList", nil)
	req.RemoteAddr = "10.0.0.16:1234"
	rec := httptest.NewRecorder()
	f.handler.CoinList(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.CoinListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"btc", "eth"}, resp.Currencies)
}

func TestTokenPricesIncludesPlatformToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tokenPrices", nil)
	req.RemoteAddr = "10.0.0.17:1234"
	rec := httptest.NewRecorder()
	f.handler.TokenPrices(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var sheet models.PriceSheet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sheet))
	assert.Equal(t, "0.1", sheet.TokenPrice.String())
	assert.Contains(t, sheet.Prices, "btc")
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "127.0.0.1", clientIP(req))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}
