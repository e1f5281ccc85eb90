package config

import (
	"os"
	"testing"
)

// unset clears the given variables for the test and registers their
// restoration via t.Setenv's cleanup.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			t.Setenv(key, value)
			os.Unsetenv(key)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	unset(t,
		"PORT", "ALLOWED_ORIGIN", "SALE_CODE_PREFIX",
		"ACCESS_TOKEN_TTL_MINUTES", "ALERT_TTL_SECONDS",
		"LOW_STOCK_THRESHOLD_PCT", "CRITICAL_STOCK_THRESHOLD_PCT",
	)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.SaleCodePrefix != "PS" {
		t.Fatalf("expected default sale code prefix, got %q", cfg.SaleCodePrefix)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.LowStockThresholdPct != 20 || cfg.CriticalStockPct != 10 {
		t.Fatalf("unexpected alert thresholds: %v / %v", cfg.LowStockThresholdPct, cfg.CriticalStockPct)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SALE_CODE_PREFIX", "HD")
	t.Setenv("DISABLE_DEBT_ALERTS", "true")
	t.Setenv("ALERT_TTL_SECONDS", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.SaleCodePrefix != "HD" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.DisableDebtAlerts {
		t.Fatalf("expected debt alerts disabled")
	}
	if cfg.AlertTTLSeconds != 120 {
		t.Fatalf("expected ttl 120, got %d", cfg.AlertTTLSeconds)
	}
}

func TestLoadClampsBadTTLs(t *testing.T) {
	t.Setenv("ALERT_TTL_SECONDS", "0")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AlertTTLSeconds != 30 {
		t.Fatalf("expected clamped alert ttl, got %d", cfg.AlertTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected clamped token ttl, got %d", cfg.AccessTokenTTLMinutes)
	}
}
