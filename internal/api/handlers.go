package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/frankchat/tokengate/internal/models"
	"github.com/frankchat/tokengate/internal/oplog"
	"github.com/frankchat/tokengate/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	rateLimitWarning = "If you continue to try and spam me, %s will lose all credits and be added to the blacklist. You are on a cooldown period and have been warned."

	noTokensMessage      = "You have no tokens left. Please purchase more tokens to continue using the chatbot."
	unknownWalletMessage = "Wallet not recognized. Connect your wallet before chatting."
)

// Chat handles POST /api/chat: throttle, validate, reserve a credit, forward
// to the model, answer with the completion text.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/api/chat"))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.serverError(w, r, "POST", "/api/chat", "", fmt.Errorf("stream read error: %w", err))
		return
	}

	var raw struct {
		Messages                json.RawMessage `json:"messages"`
		ConnectedAccountAddress json.RawMessage `json:"connectedAccountAddress"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		h.respondMessage(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/api/chat")
		return
	}

	// Best-effort wallet extraction: the throttle warning names the wallet
	// even when the rest of the request turns out to be invalid.
	var wallet string
	walletOK := raw.ConnectedAccountAddress != nil &&
		json.Unmarshal(raw.ConnectedAccountAddress, &wallet) == nil

	ip := clientIP(r)
	if !h.guard.Allow(ip) {
		rateLimitedTotal.Inc()
		h.log.Warnw("rate limit exceeded",
			"ip", ip,
			"user_agent", r.UserAgent(),
			"wallet", wallet,
			"host", hostDescriptor(),
		)
		h.oplog.Append(oplog.ServerErrorsFile,
			"Rate limit exceeded: %s | User-Agent: %s | Wallet ID: %s | Host: %s",
			ip, r.UserAgent(), wallet, hostDescriptor())
		h.respondMessage(w, http.StatusTooManyRequests, fmt.Sprintf(rateLimitWarning, wallet), "POST", "/api/chat")
		return
	}

	var fieldErrs []models.FieldError
	var msgs []models.ChatMessage
	if raw.Messages == nil || json.Unmarshal(raw.Messages, &msgs) != nil {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "messages", Message: "messages must be an array"})
	} else if len(msgs) == 0 {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "messages", Message: "messages must not be empty"})
	}
	if !walletOK {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "connectedAccountAddress", Message: "connectedAccountAddress must be a string"})
	} else if wallet == "" {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "connectedAccountAddress", Message: "connectedAccountAddress must not be empty"})
	}
	if len(fieldErrs) > 0 {
		h.respondValidation(w, fieldErrs, "POST", "/api/chat")
		return
	}

	reply, err := h.chat.Relay(r.Context(), wallet, msgs)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientTokens):
			h.respondMessage(w, http.StatusForbidden, noTokensMessage, "POST", "/api/chat")
		case errors.Is(err, store.ErrNotFound):
			h.respondMessage(w, http.StatusForbidden, unknownWalletMessage, "POST", "/api/chat")
		default:
			// Upstream and storage failures both take the centralized path.
			h.serverError(w, r, "POST", "/api/chat", wallet, err)
		}
		return
	}

	tokensSpentTotal.Inc()
	httpReqTotal.WithLabelValues("POST", "/api/chat", "200").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, reply)
}

// WalletConnect handles POST /api/wallet-connect: idempotent account upsert.
func (h *Handler) WalletConnect(w http.ResponseWriter, r *http.Request) {
	var req models.WalletConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/api/wallet-connect")
		return
	}
	if req.WalletAddress == "" {
		h.respondValidation(w, []models.FieldError{
			{Field: "walletAddress", Message: "walletAddress must not be empty"},
		}, "POST", "/api/wallet-connect")
		return
	}

	if _, err := h.ledger.EnsureAccount(r.Context(), req.WalletAddress); err != nil {
		h.serverError(w, r, "POST", "/api/wallet-connect", req.WalletAddress, err)
		return
	}
	h.respondMessage(w, http.StatusOK, "Wallet connected successfully", "POST", "/api/wallet-connect")
}

// CreatePayment handles POST /api/create-payment: proxies session creation to
// the gateway and, when a wallet is attached, records the pending credit.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/api/create-payment")
		return
	}

	var fieldErrs []models.FieldError
	if req.PayCurrency == "" {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "pay_currency", Message: "pay_currency must not be empty"})
	}
	if req.PriceAmount <= 0 {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "price_amount", Message: "price_amount must be positive"})
	}
	if len(fieldErrs) > 0 {
		h.respondValidation(w, fieldErrs, "POST", "/api/create-payment")
		return
	}
	if req.PriceCurrency == "" {
		req.PriceCurrency = "usd"
	}

	session, err := h.gateway.CreatePayment(r.Context(), req)
	if err != nil {
		h.serverError(w, r, "POST", "/api/create-payment", req.WalletAddress, err)
		return
	}

	if req.WalletAddress != "" && req.TokenAmount > 0 {
		if err := h.ledger.RecordPayment(r.Context(), session.PaymentID, req.WalletAddress, req.TokenAmount); err != nil {
			// Without the record the finished payment could never be
			// credited; fail now while the user has not paid yet.
			h.serverError(w, r, "POST", "/api/create-payment", req.WalletAddress, err)
			return
		}
	}

	h.respondJSON(w, http.StatusOK, session, "POST", "/api/create-payment")
}

// PaymentStatus handles GET /api/payment-status/{id}. A finished payment
// triggers the idempotent token credit for the wallet that opened it.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["id"]

	status, err := h.gateway.PaymentStatus(r.Context(), paymentID)
	if err != nil {
		h.serverError(w, r, "GET", "/api/payment-status/{id}", "", err)
		return
	}

	if status == models.StatusFinished {
		credited, err := h.ledger.CreditPayment(r.Context(), paymentID)
		if err != nil {
			// The credited flag was not flipped, so the next poll
			// retries the credit. Report the status regardless.
			h.log.Errorw("payment credit failed", "payment_id", paymentID, "error", err)
		} else if credited {
			h.log.Infow("payment credited", "payment_id", paymentID)
		}
	}

	h.respondJSON(w, http.StatusOK, models.PaymentStatusResponse{PaymentStatus: status}, "GET", "/api/payment-status/{id}")
}

// CoinList handles GET /api/coinList.
func (h *Handler) CoinList(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.rates.Currencies(r.Context())
	if err != nil {
		h.serverError(w, r, "GET", "/api/coinList", "", err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.CoinListResponse{Currencies: currencies}, "GET", "/api/coinList")
}

// TokenPrices handles GET /api/tokenPrices: the price sheet plus the reference
// price of the platform token.
func (h *Handler) TokenPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.rates.Prices(r.Context())
	if err != nil {
		h.serverError(w, r, "GET", "/api/tokenPrices", "", err)
		return
	}

	sheet := models.PriceSheet{Prices: prices, TokenPrice: prices[h.tokenTicker]}
	if sheet.TokenPrice.IsZero() {
		h.log.Warnw("token ticker missing from price sheet", "ticker", h.tokenTicker)
	}
	h.respondJSON(w, http.StatusOK, sheet, "GET", "/api/tokenPrices")
}
