package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServiceName  string
	OTELEndpoint string
	OTELEnabled  bool
	Port         string

	// Public URLs handed to providers for callbacks and redirects
	APIBaseURL  string
	FrontendURL string
	OrderPrefix string

	ProviderTimeout time.Duration

	// Transaction store
	DBDriver    string
	DBPath      string
	DatabaseURL string

	// Notifications
	KafkaBrokers []string
	KafkaTopic   string

	// Webhook delivery guard
	RedisAddr   string
	DeliveryTTL time.Duration

	GatewaysFile string
}

// Load loads configuration from environment variables, reading a .env file
// first when one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName:     "crypto-gateway",
		OTELEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELEnabled:     getEnvBool("OTEL_ENABLED", true),
		Port:            getEnv("PORT", "8081"),
		APIBaseURL:      strings.TrimSuffix(getEnv("API_BASE_URL", "http://localhost:8081"), "/"),
		FrontendURL:     strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		OrderPrefix:     getEnv("ORDER_PREFIX", "chaingive"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),
		DBDriver:        getEnv("DB_DRIVER", "sqlite"),
		DBPath:          getEnv("DB_PATH", "./crypto-gateway.db"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		KafkaBrokers:    getEnvList("KAFKA_BROKERS"),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "payment.events"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		DeliveryTTL:     getEnvDuration("WEBHOOK_DELIVERY_TTL", 24*time.Hour),
		GatewaysFile:    getEnv("GATEWAYS_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
