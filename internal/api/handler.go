package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"github.com/frankchat/tokengate/internal/abuse"
	"github.com/frankchat/tokengate/internal/models"
	"github.com/frankchat/tokengate/internal/oplog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proxy_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "endpoint"})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_rate_limited_total",
		Help: "Chat requests rejected by the per-IP throttle",
	})

	blockedIPsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_blocked_ips_total",
		Help: "IPs moved onto the permanent block list",
	})

	tokensSpentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_tokens_spent_total",
		Help: "Credits spent on successful completions",
	})
)

// IPBlocked bumps the block counter; wired into the abuse guard's hook.
func IPBlocked() {
	blockedIPsTotal.Inc()
}

const internalErrorMessage = "Internal Server Error. Your request has been logged and will be investigated."

// TokenLedger is the slice of the store the handlers use directly.
type TokenLedger interface {
	EnsureAccount(ctx context.Context, wallet string) (*models.WalletAccount, error)
	RecordPayment(ctx context.Context, paymentID, wallet string, tokens int64) error
	CreditPayment(ctx context.Context, paymentID string) (bool, error)
}

// ChatRelay forwards a conversation to the model backend, spending one credit.
type ChatRelay interface {
	Relay(ctx context.Context, wallet string, msgs []models.ChatMessage) (string, error)
}

// PaymentGateway creates and inspects payment sessions.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.PaymentSession, error)
	PaymentStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error)
}

// RateSource serves the supported-currency list and price sheet.
type RateSource interface {
	Currencies(ctx context.Context) ([]string, error)
	Prices(ctx context.Context) (map[string]decimal.Decimal, error)
}

type Handler struct {
	ledger  TokenLedger
	chat    ChatRelay
	gateway PaymentGateway
	rates   RateSource
	guard   *abuse.Guard
	oplog   *oplog.Logger
	log     *zap.SugaredLogger

	tokenTicker string
}

func NewHandler(ledger TokenLedger, chat ChatRelay, gw PaymentGateway, rates RateSource,
	guard *abuse.Guard, op *oplog.Logger, log *zap.SugaredLogger, tokenTicker string) *Handler {
	return &Handler{
		ledger:      ledger,
		chat:        chat,
		gateway:     gw,
		rates:       rates,
		guard:       guard,
		oplog:       op,
		log:         log,
		tokenTicker: tokenTicker,
	}
}

// serverError is the single reporting path for server-caused failures. It logs
// the request context, records an abuse failure for the IP, and answers 403 if
// that failure tipped the IP onto the block list, 500 otherwise. The response
// body deliberately withholds internal detail.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, method, endpoint, wallet string, err error) {
	ip := clientIP(r)

	h.log.Errorw("request failed",
		"error", err,
		"ip", ip,
		"user_agent", r.UserAgent(),
		"wallet", wallet,
		"request_id", requestID(r.Context()),
		"host", hostDescriptor(),
	)
	h.oplog.Append(oplog.ServerErrorsFile, "%v | IP: %s | User-Agent: %s | Wallet: %s | Host: %s",
		err, ip, r.UserAgent(), wallet, hostDescriptor())

	h.guard.RecordFailure(ip)
	if h.guard.Blocked(ip) {
		h.respondMessage(w, http.StatusForbidden, "Forbidden", method, endpoint)
		return
	}
	h.respondMessage(w, http.StatusInternalServerError, internalErrorMessage, method, endpoint)
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondMessage(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"message": msg}, method, endpoint)
}

func (h *Handler) respondValidation(w http.ResponseWriter, errs []models.FieldError, method, endpoint string) {
	h.respondJSON(w, http.StatusBadRequest, map[string][]models.FieldError{"errors": errs}, method, endpoint)
}

// hostDescriptor identifies the serving machine in operator logs.
func hostDescriptor() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s %s/%s", hostname, runtime.GOOS, runtime.GOARCH)
}
