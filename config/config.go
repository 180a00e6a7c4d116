package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	StorageMemory    = "memory"
	StorageMySQL     = "mysql"
	StorageFirestore = "firestore"
)

type Config struct {
	App       AppConfig
	HTTP      ServerConfig
	GRPC      ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	MySQL     MySQLConfig
	Firestore FirestoreConfig
	PayPay    PayPayConfig
	Rakuten   RakutenConfig
	Donations DonationsConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	ServiceName string
	Environment string
	BaseURL     string
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Driver string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	EmulatorHost    string
}

type PayPayConfig struct {
	MerchantID      string
	WebhookSecret   string
	CheckoutBaseURL string
	SessionTTL      time.Duration
}

type RakutenConfig struct {
	ServiceID       string
	WebhookSecret   string
	CheckoutBaseURL string
	SessionTTL      time.Duration
}

type DonationsConfig struct {
	DefaultCurrency      string
	IdempotencyWindow    time.Duration
	IdempotencyCacheSize int
	EnforceStatusLattice bool
}

type MetricsConfig struct {
	Enabled bool
}

func (c *Config) IsSandbox() bool {
	return c.App.Environment == EnvironmentSandbox
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	environment := strings.ToLower(getEnv("APP_ENVIRONMENT", EnvironmentSandbox))
	if environment != EnvironmentSandbox && environment != EnvironmentProduction {
		return nil, fmt.Errorf("APP_ENVIRONMENT must be %q or %q", EnvironmentSandbox, EnvironmentProduction)
	}

	payPayCheckoutURL := "https://sandbox.paypay.ne.jp"
	rakutenCheckoutURL := "https://sandbox.checkout.rakuten.co.jp"
	if environment == EnvironmentProduction {
		payPayCheckoutURL = "https://api.paypay.ne.jp"
		rakutenCheckoutURL = "https://checkout.rakuten.co.jp"
	}

	cfg := &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "donations-service"),
			Environment: environment,
			BaseURL:     getEnv("APP_BASE_URL", "http://localhost:8080"),
		},
		HTTP: ServerConfig{
			Host:         getEnv("HTTP_HOST", "0.0.0.0"),
			Port:         getEnv("HTTP_PORT", "8080"),
			ReadTimeout:  getSecondsEnv("HTTP_READ_TIMEOUT_SECONDS", 15*time.Second),
			WriteTimeout: getSecondsEnv("HTTP_WRITE_TIMEOUT_SECONDS", 15*time.Second),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageMemory)),
		},
		MySQL: MySQLConfig{
			DSN:             getEnv("MYSQL_DSN", ""),
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Firestore: FirestoreConfig{
			ProjectID:       getEnv("FIRESTORE_PROJECT_ID", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			EmulatorHost:    getEnv("FIRESTORE_EMULATOR_HOST", ""),
		},
		PayPay: PayPayConfig{
			MerchantID:      getEnv("PAYPAY_MERCHANT_ID", ""),
			WebhookSecret:   getEnv("PAYPAY_WEBHOOK_SECRET", ""),
			CheckoutBaseURL: getEnv("PAYPAY_CHECKOUT_BASE_URL", payPayCheckoutURL),
			SessionTTL:      getMinutesEnv("PAYPAY_SESSION_TTL_MINUTES", time.Hour),
		},
		Rakuten: RakutenConfig{
			ServiceID:       getEnv("RAKUTEN_SERVICE_ID", ""),
			WebhookSecret:   getEnv("RAKUTEN_WEBHOOK_SECRET", ""),
			CheckoutBaseURL: getEnv("RAKUTEN_CHECKOUT_BASE_URL", rakutenCheckoutURL),
			SessionTTL:      getMinutesEnv("RAKUTEN_SESSION_TTL_MINUTES", time.Hour),
		},
		Donations: DonationsConfig{
			DefaultCurrency:      strings.ToUpper(getEnv("DONATIONS_DEFAULT_CURRENCY", "JPY")),
			IdempotencyWindow:    getMinutesEnv("DONATIONS_IDEMPOTENCY_WINDOW_MINUTES", 60*time.Minute),
			IdempotencyCacheSize: getIntEnv("DONATIONS_IDEMPOTENCY_CACHE_SIZE", 10000),
			EnforceStatusLattice: getBoolEnv("DONATIONS_ENFORCE_STATUS_LATTICE", false),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("METRICS_ENABLED", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
		if c.App.Environment == EnvironmentProduction {
			return errors.New("STORAGE_DRIVER=memory is only allowed in the sandbox environment")
		}
	case StorageMySQL:
		if c.MySQL.DSN == "" {
			return errors.New("MYSQL_DSN environment variable is required for the mysql storage driver")
		}
	case StorageFirestore:
		if c.Firestore.ProjectID == "" {
			return errors.New("FIRESTORE_PROJECT_ID environment variable is required for the firestore storage driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	if len(c.Donations.DefaultCurrency) != 3 {
		return errors.New("DONATIONS_DEFAULT_CURRENCY must be a 3-letter currency code")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
