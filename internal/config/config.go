package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SaleCodePrefix string `envconfig:"SALE_CODE_PREFIX" default:"PS"`

	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`

	AlertTTLSeconds       int     `envconfig:"ALERT_TTL_SECONDS" default:"30"`
	LowStockThresholdPct  float64 `envconfig:"LOW_STOCK_THRESHOLD_PCT" default:"20"`
	CriticalStockPct      float64 `envconfig:"CRITICAL_STOCK_THRESHOLD_PCT" default:"10"`
	DisableStockAlerts    bool    `envconfig:"DISABLE_STOCK_ALERTS" default:"false"`
	DisableDebtAlerts     bool    `envconfig:"DISABLE_DEBT_ALERTS" default:"false"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if cfg.AlertTTLSeconds < 1 {
		cfg.AlertTTLSeconds = 30
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
