package config

import (
	"os"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s failed: %v", key, err)
	}
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	_ = os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		}
	})
}

func resetEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENVIRONMENT", "STORAGE_DRIVER", "MYSQL_DSN", "FIRESTORE_PROJECT_ID",
		"PAYPAY_CHECKOUT_BASE_URL", "RAKUTEN_CHECKOUT_BASE_URL",
		"DONATIONS_DEFAULT_CURRENCY", "DONATIONS_IDEMPOTENCY_WINDOW_MINUTES",
		"DONATIONS_ENFORCE_STATUS_LATTICE", "METRICS_ENABLED", "LOG_FORMAT",
	} {
		unsetEnv(t, key)
	}
}

func TestLoadSandboxDefaults(t *testing.T) {
	resetEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !cfg.IsSandbox() || cfg.Storage.Driver != StorageMemory {
		t.Fatalf("unexpected defaults: env=%s driver=%s", cfg.App.Environment, cfg.Storage.Driver)
	}
	if cfg.Donations.DefaultCurrency != "JPY" {
		t.Fatalf("unexpected default currency: %s", cfg.Donations.DefaultCurrency)
	}
	if cfg.Donations.IdempotencyWindow != time.Hour || cfg.Donations.EnforceStatusLattice {
		t.Fatalf("unexpected donations config: %+v", cfg.Donations)
	}
	if cfg.PayPay.CheckoutBaseURL != "https://sandbox.paypay.ne.jp" || cfg.PayPay.SessionTTL != time.Hour {
		t.Fatalf("unexpected paypay config: %+v", cfg.PayPay)
	}
	if !cfg.Metrics.Enabled || cfg.Log.Format != "json" {
		t.Fatalf("unexpected ambient defaults: metrics=%v log=%s", cfg.Metrics.Enabled, cfg.Log.Format)
	}
}

func TestLoadOverrides(t *testing.T) {
	resetEnv(t)
	setEnv(t, "APP_SERVICE_NAME", "donations-test")
	setEnv(t, "HTTP_PORT", "8181")
	setEnv(t, "GRPC_PORT", "9191")
	setEnv(t, "STORAGE_DRIVER", "mysql")
	setEnv(t, "MYSQL_DSN", "root:root@tcp(localhost:3306)/donations?parseTime=true")
	setEnv(t, "MYSQL_MAX_OPEN_CONNS", "20")
	setEnv(t, "MYSQL_CONN_MAX_LIFETIME_MINUTES", "40")
	setEnv(t, "RAKUTEN_SESSION_TTL_MINUTES", "15")
	setEnv(t, "DONATIONS_IDEMPOTENCY_WINDOW_MINUTES", "0")
	setEnv(t, "DONATIONS_ENFORCE_STATUS_LATTICE", "true")
	setEnv(t, "METRICS_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.App.ServiceName != "donations-test" {
		t.Fatalf("unexpected app service name: %s", cfg.App.ServiceName)
	}
	if cfg.HTTP.Port != "8181" || cfg.GRPC.Port != "9191" {
		t.Fatalf("unexpected ports: http=%s grpc=%s", cfg.HTTP.Port, cfg.GRPC.Port)
	}
	if cfg.MySQL.MaxOpenConns != 20 || cfg.MySQL.ConnMaxLifetime != 40*time.Minute {
		t.Fatalf("unexpected mysql config: %+v", cfg.MySQL)
	}
	if cfg.Rakuten.SessionTTL != 15*time.Minute {
		t.Fatalf("unexpected rakuten session ttl: %v", cfg.Rakuten.SessionTTL)
	}
	if cfg.Donations.IdempotencyWindow != 0 || !cfg.Donations.EnforceStatusLattice {
		t.Fatalf("unexpected donations config: %+v", cfg.Donations)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics to be disabled")
	}
}

func TestLoadProductionUsesProductionHosts(t *testing.T) {
	resetEnv(t)
	setEnv(t, "APP_ENVIRONMENT", "production")
	setEnv(t, "STORAGE_DRIVER", "firestore")
	setEnv(t, "FIRESTORE_PROJECT_ID", "donations-prod")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.IsSandbox() {
		t.Fatal("expected production environment")
	}
	if cfg.Rakuten.CheckoutBaseURL != "https://checkout.rakuten.co.jp" {
		t.Fatalf("unexpected rakuten checkout url: %s", cfg.Rakuten.CheckoutBaseURL)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"mysql without dsn":         {"STORAGE_DRIVER": "mysql"},
		"firestore without project": {"STORAGE_DRIVER": "firestore"},
		"unknown driver":            {"STORAGE_DRIVER": "redis"},
		"memory in production":      {"APP_ENVIRONMENT": "production"},
		"unknown environment":       {"APP_ENVIRONMENT": "staging"},
		"bad currency":              {"DONATIONS_DEFAULT_CURRENCY": "YEN!"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			resetEnv(t)
			for k, v := range env {
				setEnv(t, k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}
