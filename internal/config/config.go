package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	// Server
	Port           string
	AllowedOrigins []string
	LogDir         string

	// Database
	DatabaseURL string

	// Language model
	OpenAIKey   string
	OpenAIModel string

	// Payment gateway
	GatewayBaseURL string
	GatewayAPIKey  string

	// Exchange rates
	RatesBaseURL string
	TokenTicker  string
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	return &Config{
		Port:           getEnv("SERVER_PORT", "5000"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "https://wiki.ninj.ai,http://localhost:5000")),
		LogDir:         getEnv("LOG_DIR", "./logs"),
		DatabaseURL:    dbURL,
		OpenAIKey:      openAIKey,
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		GatewayBaseURL: strings.TrimSuffix(getEnv("GATEWAY_BASE_URL", "https://api.nowpayments.io/v1"), "/"),
		GatewayAPIKey:  os.Getenv("GATEWAY_API_KEY"),
		RatesBaseURL:   strings.TrimSuffix(getEnv("RATES_BASE_URL", "https://api.coingecko.com/api/v3"), "/"),
		TokenTicker:    getEnv("TOKEN_TICKER", "ninj"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
