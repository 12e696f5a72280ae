// Package config содержит логику чтения конфигурации сервиса программы лояльности.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/painter-loyalty/internal/validation"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultQRDir          = "qrcodes"
	defaultCommissionRate = "0.01"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress      string          `env:"RUN_ADDRESS"`
	DatabaseURI     string          `env:"DATABASE_URI"`
	InsightsAddress string          `env:"INSIGHTS_ADDRESS"`
	APIKey          string          `env:"API_KEY"`
	AuthSecret      string          `env:"AUTH_SECRET"`
	QRDir           string          `env:"QR_DIR"`
	CommissionRate  decimal.Decimal `env:"COMMISSION_RATE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg
	_, rateFromEnv := os.LookupEnv("COMMISSION_RATE")

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty for in-memory store)")
	flag.StringVar(&cfg.InsightsAddress, "i", "", "insights generator address")
	flag.StringVar(&cfg.APIKey, "k", "", "admin API key")
	flag.StringVar(&cfg.AuthSecret, "s", "", "painter cookie signing secret")
	flag.StringVar(&cfg.QRDir, "q", defaultQRDir, "directory for QR code images")

	cfg.CommissionRate = decimal.RequireFromString(defaultCommissionRate)
	flag.Func("c", "commission rate applied to serial price (default "+defaultCommissionRate+")", func(s string) error {
		rate, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		cfg.CommissionRate = rate
		return nil
	})

	flag.Parse()

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.InsightsAddress != "" {
		cfg.InsightsAddress = fromEnv.InsightsAddress
	}
	if fromEnv.APIKey != "" {
		cfg.APIKey = fromEnv.APIKey
	}
	if fromEnv.AuthSecret != "" {
		cfg.AuthSecret = fromEnv.AuthSecret
	}
	if fromEnv.QRDir != "" {
		cfg.QRDir = fromEnv.QRDir
	}
	if rateFromEnv {
		cfg.CommissionRate = fromEnv.CommissionRate
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if !cfg.CommissionRate.IsPositive() || cfg.CommissionRate.GreaterThan(decimal.NewFromInt(1)) ||
		!validation.WithinBounds(cfg.CommissionRate, 1, validation.MaxRateScale) {
		return nil, fmt.Errorf("commission rate must be in (0, 1] with at most %d decimal places", validation.MaxRateScale)
	}

	return cfg, nil
}
