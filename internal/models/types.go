package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletAccount is a user's credit balance, keyed by wallet address.
type WalletAccount struct {
	WalletAddress string `json:"wallet_address"`
	TokensOwned   int64  `json:"tokens_owned"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload for POST /api/chat.
type ChatRequest struct {
	Messages                []ChatMessage `json:"messages"`
	ConnectedAccountAddress string        `json:"connectedAccountAddress"`
}

// WalletConnectRequest is the payload for POST /api/wallet-connect.
type WalletConnectRequest struct {
	WalletAddress string `json:"walletAddress"`
}

// PaymentStatus is the gateway-driven lifecycle of a payment session.
type PaymentStatus string

const (
	StatusWaiting    PaymentStatus = "waiting"
	StatusConfirming PaymentStatus = "confirming"
	StatusConfirmed  PaymentStatus = "confirmed"
	StatusFinished   PaymentStatus = "finished"
	StatusFailed     PaymentStatus = "failed"
	StatusExpired    PaymentStatus = "expired"
	StatusRefunded   PaymentStatus = "refunded"
)

// Terminal reports whether the status ends the session, successfully or not.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// PaymentSession holds the gateway-issued payment instructions.
type PaymentSession struct {
	PaymentID   string        `json:"payment_id"`
	PayAddress  string        `json:"pay_address"`
	PayAmount   string        `json:"pay_amount"`
	PayCurrency string        `json:"pay_currency"`
	ValidUntil  time.Time     `json:"valid_until"`
	Status      PaymentStatus `json:"payment_status"`
}

// CreatePaymentRequest is the payload for POST /api/create-payment. The wallet
// fields are optional; when present the payment is recorded for token crediting
// once the gateway reports it finished.
type CreatePaymentRequest struct {
	PriceCurrency string  `json:"price_currency"`
	PriceAmount   float64 `json:"price_amount"`
	PayCurrency   string  `json:"pay_currency"`
	WalletAddress string  `json:"wallet_address,omitempty"`
	TokenAmount   int64   `json:"token_amount,omitempty"`
}

// PaymentStatusResponse is the body of GET /api/payment-status/{id}.
type PaymentStatusResponse struct {
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// CoinListResponse is the body of GET /api/coinList.
type CoinListResponse struct {
	Currencies []string `json:"currencies"`
}

// PriceSheet is the body of GET /api/tokenPrices: unit prices per ticker plus
// the reference price of the platform's own token, all in the same quote
// currency.
type PriceSheet struct {
	Prices     map[string]decimal.Decimal `json:"prices"`
	TokenPrice decimal.Decimal            `json:"token_price"`
}

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
