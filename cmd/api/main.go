package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frankchat/tokengate/internal/abuse"
	"github.com/frankchat/tokengate/internal/api"
	"github.com/frankchat/tokengate/internal/config"
	"github.com/frankchat/tokengate/internal/gateway"
	"github.com/frankchat/tokengate/internal/llm"
	"github.com/frankchat/tokengate/internal/oplog"
	"github.com/frankchat/tokengate/internal/rates"
	"github.com/frankchat/tokengate/internal/service"
	"github.com/frankchat/tokengate/internal/store"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	logger := zap.Must(zap.NewProduction()).Sugar()
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Debugw("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalw("load config", "error", err)
	}

	opLogger, err := oplog.New(cfg.LogDir, logger)
	if err != nil {
		logger.Fatalw("init operator logs", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalw("connect to database", "error", err)
	}
	defer ledger.Close()
	logger.Infow("token ledger connected")

	guard := abuse.NewGuard(func(ip string) {
		logger.Warnw("blocked ip address", "ip", ip)
		opLogger.Append(oplog.BlockedIPsFile, "Blocked IP address: %s", ip)
		api.IPBlocked()
	})
	go guard.Run(ctx, abuse.Window)

	// Initialize layers
	model := llm.New(cfg.OpenAIKey, cfg.OpenAIModel)
	chat := service.NewChatService(ledger, model, logger)
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	rateSource := rates.NewClient(cfg.RatesBaseURL)
	handler := api.NewHandler(ledger, chat, gw, rateSource, guard, opLogger, logger, cfg.TokenTicker)

	// Router
	r := mux.NewRouter()
	r.Use(api.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(handler.BlockGuard)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.HandleFunc("/api/chat", handler.Chat).Methods("POST")
	r.HandleFunc("/api/wallet-connect", handler.WalletConnect).Methods("POST")
	r.HandleFunc("/api/create-payment", handler.CreatePayment).Methods("POST")
	r.HandleFunc("/api/payment-status/{id}", handler.PaymentStatus).Methods("GET")
	r.HandleFunc("/api/coinList", handler.CoinList).Methods("GET")
	r.HandleFunc("/api/tokenPrices", handler.TokenPrices).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Infow("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("server shutdown", "error", err)
		}
	}()

	logger.Infow("server starting", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalw("server failed", "error", err)
	}
}
