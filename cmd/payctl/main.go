// payctl drives the payment flow against a running server: list currencies,
// price the purchase, open a session, and poll it to completion, printing the
// progress bar value the UI would render.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frankchat/tokengate/internal/models"
	"github.com/frankchat/tokengate/pkg/payflow"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	targetURL string
	currency  string
	wallet    string
	tokens    int64
	tokenUSD  float64
	interval  time.Duration
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:5000", "API Base URL")
	flag.StringVar(&currency, "currency", "", "Cryptocurrency ticker to pay with (default: first supported)")
	flag.StringVar(&wallet, "wallet", "", "Wallet address to credit when the payment finishes")
	flag.Int64Var(&tokens, "tokens", 10, "Number of platform tokens to buy")
	flag.Float64Var(&tokenUSD, "token-usd", 0.10, "USD price per platform token")
	flag.DurationVar(&interval, "interval", payflow.DefaultPollInterval, "Status poll interval")
}

func main() {
	flag.Parse()

	logger := zap.Must(zap.NewDevelopment()).Sugar()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := payflow.NewAPI(targetURL)

	currencies, err := client.CoinList(ctx)
	if err != nil {
		log.Fatalf("Fetch coin list failed: %v", err)
	}
	if len(currencies) == 0 {
		log.Fatal("No supported currencies")
	}
	if currency == "" {
		currency = currencies[0]
	}
	log.Printf("Supported currencies: %v (paying with %s)", currencies, currency)

	sheet, err := client.TokenPrices(ctx)
	if err != nil {
		log.Fatalf("Fetch token prices failed: %v", err)
	}

	equivalent, err := payflow.Equivalent(
		decimal.NewFromInt(tokens),
		sheet.TokenPrice,
		sheet.Prices[currency],
	)
	if err != nil {
		log.Fatalf("Price %d tokens in %s: %v", tokens, currency, err)
	}
	log.Printf("%d tokens ≈ %s %s", tokens, equivalent.StringFixed(2), currency)

	orch := payflow.NewOrchestrator(client, interval, logger)
	session, updates, err := orch.Start(ctx, models.CreatePaymentRequest{
		PriceCurrency: "usd",
		PriceAmount:   float64(tokens) * tokenUSD,
		PayCurrency:   currency,
		WalletAddress: wallet,
		TokenAmount:   tokens,
	})
	if err != nil {
		log.Fatalf("Create payment failed: %v", err)
	}

	fmt.Printf("Send %s %s to %s\n", session.PayAmount, session.PayCurrency, session.PayAddress)
	fmt.Printf("Payment ID: %s (valid until %s)\n", session.PaymentID, session.ValidUntil.Format(time.RFC3339))

	finished := false
	for u := range updates {
		if u.Err != nil {
			log.Fatalf("Payment failed at %d%%: %v", u.Progress, u.Err)
		}
		fmt.Printf("[%3d%%] status=%s\n", u.Progress, u.Status)
		finished = u.Terminal
	}
	if !finished {
		log.Fatal("Payment cancelled before completion")
	}

	fmt.Println("Payment finished. Tokens will be credited shortly.")
	_ = os.Stdout.Sync()
}
