package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/coinchat/internal/config"
	"github.com/fastprodman/coinchat/internal/services/purchase"
)

type apiConfig struct {
	Port            uint16        `env:"APP_PORT" default:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
	// Packages is the coin catalog, "coins=price" pairs.
	Packages purchase.Catalog `env:"COIN_PACKAGES" default:"10=1.00,50=4.00,100=7.00,500=30.00"`

	Postgres     config.PostgresConfig
	Stripe       config.StripeConfig
	Auth         config.AuthConfig
	Redis        config.RedisConfig
	Chat         config.ChatConfig
	Reconcile    config.ReconcileConfig
	BalanceCache config.BalanceCacheConfig
}
