package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr string

	// WebhookBaseURL is the externally reachable base URL handed to
	// gateways when interactive webhooks are enabled for a channel.
	WebhookBaseURL string

	PairingTTL       time.Duration
	PollListInterval time.Duration
	PollSyncInterval time.Duration
	PollCycleTimeout time.Duration
	SyncParallelism  int

	// TenantMaxSessions applies when a tenant record carries no
	// explicit cap of its own.
	TenantMaxSessions int

	Waha       GatewayConfig
	Evolution  GatewayConfig
	WPPConnect GatewayConfig
}

// GatewayConfig is the system-wide credential set for one gateway. A
// per-session override stored in the session config takes precedence
// for imported externally-hosted instances.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "waplink"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "waplink"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 4),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 16),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),

		RedisAddr: strings.TrimSpace(getenv("REDIS_ADDR", "")),

		WebhookBaseURL: strings.TrimRight(getenv("WEBHOOK_BASE_URL", ""), "/"),

		PairingTTL:       getenvDuration("PAIRING_TTL", 300*time.Second),
		PollListInterval: getenvDuration("POLL_LIST_INTERVAL", 5*time.Second),
		PollSyncInterval: getenvDuration("POLL_SYNC_INTERVAL", 30*time.Second),
		PollCycleTimeout: getenvDuration("POLL_CYCLE_TIMEOUT", 25*time.Second),
		SyncParallelism:  getenvInt("SYNC_PARALLELISM", 8),

		TenantMaxSessions: getenvInt("TENANT_MAX_SESSIONS", 3),

		Waha: GatewayConfig{
			BaseURL: strings.TrimSpace(getenv("WAHA_BASE_URL", "")),
			APIKey:  strings.TrimSpace(getenv("WAHA_API_KEY", "")),
		},
		Evolution: GatewayConfig{
			BaseURL: strings.TrimSpace(getenv("EVOLUTION_BASE_URL", "")),
			APIKey:  strings.TrimSpace(getenv("EVOLUTION_API_KEY", "")),
		},
		WPPConnect: GatewayConfig{
			BaseURL: strings.TrimSpace(getenv("WPPCONNECT_BASE_URL", "")),
			APIKey:  strings.TrimSpace(getenv("WPPCONNECT_SECRET_KEY", "")),
		},
	}
}

var Module = fx.Module("config", fx.Provide(Load))

// Gateway returns the system-wide credentials configured for one provider.
func (c Config) Gateway(provider string) GatewayConfig {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "waha":
		return c.Waha
	case "evolution":
		return c.Evolution
	case "wppconnect":
		return c.WPPConnect
	default:
		return GatewayConfig{}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
